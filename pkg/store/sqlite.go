package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/daviddao/docsync/pkg/clock"
	"github.com/daviddao/docsync/pkg/doc"

	_ "modernc.org/sqlite"
)

// SQLite persists snapshots and clocks in a WAL-mode SQLite database.
// Suitable for a single server process with concurrent connections.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database and initializes the schema.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id       TEXT PRIMARY KEY,
		snapshot BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clocks (
		doc_id  TEXT NOT NULL,
		replica TEXT NOT NULL,
		clock   INTEGER NOT NULL,
		PRIMARY KEY (doc_id, replica)
	);
	CREATE INDEX IF NOT EXISTS idx_clocks_doc ON clocks(doc_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the stored snapshot for id, or ErrNotFound.
func (s *SQLite) Get(id string) (*doc.SerializedDocument, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT snapshot FROM documents WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return doc.UnmarshalSnapshot(blob)
}

// Put atomically replaces the snapshot and folds its clock into the
// clocks table, taking the per-replica max.
func (s *SQLite) Put(id string, snap *doc.SerializedDocument) error {
	blob, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return withRetry(defaultRetryConfig, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(
			`INSERT INTO documents (id, snapshot, saved_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, saved_at = excluded.saved_at`,
			id, blob, now,
		); err != nil {
			return err
		}
		for replica, val := range snap.Clock {
			if err := upsertClock(tx, id, replica, val); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// List returns every stored document id ordered by id.
func (s *SQLite) List() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the snapshot and clock rows for id.
func (s *SQLite) Delete(id string) error {
	return withRetry(defaultRetryConfig, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		if _, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM clocks WHERE doc_id = ?`, id); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// VectorClockGet returns the stored clock for id, empty if none.
func (s *SQLite) VectorClockGet(id string) (clock.Vector, error) {
	rows, err := s.db.Query(`SELECT replica, clock FROM clocks WHERE doc_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v := clock.NewVector()
	for rows.Next() {
		var replica string
		var val int64
		if err := rows.Scan(&replica, &val); err != nil {
			return nil, err
		}
		v[replica] = uint64(val)
	}
	return v, rows.Err()
}

// VectorClockMerge folds v into the stored clock, per-replica max.
func (s *SQLite) VectorClockMerge(id string, v clock.Vector) error {
	return withRetry(defaultRetryConfig, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		for replica, val := range v {
			if err := upsertClock(tx, id, replica, val); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func upsertClock(tx *sql.Tx, docID, replica string, val uint64) error {
	_, err := tx.Exec(
		`INSERT INTO clocks (doc_id, replica, clock) VALUES (?, ?, ?)
		 ON CONFLICT(doc_id, replica) DO UPDATE SET clock = MAX(clock, excluded.clock)`,
		docID, replica, int64(val),
	)
	return err
}
