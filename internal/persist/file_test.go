package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	want := []byte(`{"raceId":"race-1"}`)
	if err := b.Write(ctx, "race-1", KeySummary, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := b.Read(ctx, "race-1", KeySummary)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %s want %s", got, want)
	}
}

func TestFileBackendWriteClearsUnsavedFlag(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Write(ctx, "race-2", KeyTicks, []byte("[]")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	flag := filepath.Join(dir, "race-2", UnsavedFlag)
	if _, err := os.Stat(flag); !os.IsNotExist(err) {
		t.Fatalf("expected UNSAVED.flag to be removed after a successful write, stat err=%v", err)
	}
}

func TestFileBackendLatestRaceIDOrdersByCycleNumber(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	for _, id := range []string{"race-2", "race-10", "race-3"} {
		if err := b.Write(ctx, id, KeySummary, []byte("{}")); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}

	latest, err := b.LatestRaceID(ctx)
	if err != nil {
		t.Fatalf("LatestRaceID: %v", err)
	}
	if latest != "race-10" {
		t.Fatalf("expected race-10 (numeric, not lexicographic, ordering), got %s", latest)
	}
}

func TestFileBackendListRaceIDsOrdersDescendingAndRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	for _, id := range []string{"race-2", "race-10", "race-3", "race-1"} {
		if err := b.Write(ctx, id, KeySummary, []byte("{}")); err != nil {
			t.Fatalf("Write %s: %v", id, err)
		}
	}

	ids, err := b.ListRaceIDs(ctx, 2)
	if err != nil {
		t.Fatalf("ListRaceIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "race-10" || ids[1] != "race-3" {
		t.Fatalf("expected [race-10 race-3], got %v", ids)
	}
}

func TestFileBackendReadMissingReturnsError(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	defer b.Close()

	if _, err := b.Read(context.Background(), "race-missing", KeySummary); err == nil {
		t.Fatalf("expected error reading a non-existent artifact")
	}
}
