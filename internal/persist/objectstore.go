package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ObjectStore is the SQLite-backed Backend alternative to FileBackend,
// grounded on the teacher pack's daviddao-clockmail/pkg/store: WAL mode,
// a bounded busy_timeout, and retry-on-contention around every write. All
// artifacts for every race live in a single table, keyed by (race_id, key).
type ObjectStore struct {
	db *sql.DB
}

// NewObjectStore opens (or creates) the SQLite database at path and applies
// the schema.
func NewObjectStore(path string) (*ObjectStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &ObjectStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}
	return s, nil
}

func (s *ObjectStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS artifacts (
		race_id    TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       BLOB NOT NULL,
		written_at TEXT NOT NULL,
		PRIMARY KEY (race_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_written_at ON artifacts(written_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write upserts one artifact, retrying on transient contention.
func (s *ObjectStore) Write(ctx context.Context, raceID, key string, body []byte) error {
	return retryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO artifacts (race_id, key, body, written_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(race_id, key) DO UPDATE SET
				body = excluded.body,
				written_at = excluded.written_at`,
			raceID, key, body, time.Now().UTC().Format(time.RFC3339Nano))
		return err
	})
}

// Read fetches one artifact's body.
func (s *ObjectStore) Read(ctx context.Context, raceID, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM artifacts WHERE race_id = ? AND key = ?`, raceID, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("persist: %s/%s: %w", raceID, key, sql.ErrNoRows)
	}
	return body, err
}

// LatestRaceID returns the race_id of the most recently written artifact.
func (s *ObjectStore) LatestRaceID(ctx context.Context) (string, error) {
	var raceID string
	err := s.db.QueryRowContext(ctx, `SELECT race_id FROM artifacts ORDER BY written_at DESC LIMIT 1`).Scan(&raceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return raceID, err
}

// ListRaceIDs returns up to limit race IDs, most recently written first,
// deduplicated across each race's several artifact rows.
func (s *ObjectStore) ListRaceIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT race_id, MAX(written_at) AS last_written
		FROM artifacts
		GROUP BY race_id
		ORDER BY last_written DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var raceID, lastWritten string
		if err := rows.Scan(&raceID, &lastWritten); err != nil {
			return nil, err
		}
		ids = append(ids, raceID)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (s *ObjectStore) Close() error { return s.db.Close() }
