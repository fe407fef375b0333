// Package persist writes the per-race artifacts spec.md §4.7 documents
// (summary, precomputed paths, event timeline, ticks); they are read back
// by /history and the racecli commands, and nothing reads them to resume a
// race after a restart. Two backends are
// provided: a file backend using atomic temp-file-then-rename writes, and
// an object-store backend on SQLite, grounded on the teacher pack's
// daviddao-clockmail store (WAL mode, busy_timeout, retry-on-contention).
// Persistence is off the tick path: internal/app writes from the driver's
// OnFinish hook in a separate goroutine, never inline in runTickLoop.
package persist

import "context"

// Artifact keys, one per document spec.md §4.7 names.
const (
	KeySummary      = "summary"
	KeyPaths        = "precomputedPaths"
	KeyTimeline     = "eventTimeline"
	KeyTicks        = "ticks"
)

// Backend persists and retrieves race artifacts by (raceID, key). Body is
// caller-supplied bytes (JSON built with this package's Marshal* helpers,
// called from internal/app); a Backend does not know the shape, only where
// it goes.
type Backend interface {
	Write(ctx context.Context, raceID, key string, body []byte) error
	Read(ctx context.Context, raceID, key string) ([]byte, error)
	// LatestRaceID returns the most recently written race's ID. Returns ""
	// with a nil error if nothing has ever been persisted.
	LatestRaceID(ctx context.Context) (string, error)
	// ListRaceIDs returns up to limit race IDs, most recently written
	// first, backing the /history endpoint (spec.md §6).
	ListRaceIDs(ctx context.Context, limit int) ([]string, error)
	Close() error
}
