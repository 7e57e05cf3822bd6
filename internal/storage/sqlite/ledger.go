// Package sqlite persists the run ledger in a local SQLite database, so a
// later upload step (or a human) can see which batch files a run produced
// and whether each data kind completed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gitscope/agent/internal/core/ports/driven"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_entries (
	run_id    TEXT NOT NULL,
	provider  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	prefix    TEXT NOT NULL,
	files     INTEGER NOT NULL,
	records   INTEGER NOT NULL,
	status    TEXT NOT NULL,
	created   TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, provider, kind)
);
CREATE INDEX IF NOT EXISTS idx_run_entries_run ON run_entries (run_id, created);
`

// Ledger is a RunLedger backed by a SQLite file.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path and ensures the schema
// exists.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// The ledger is written from one process; a single connection avoids
	// SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts or replaces the entry for (run, provider, kind).
func (l *Ledger) Record(ctx context.Context, e driven.LedgerEntry) error {
	created := e.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_entries (run_id, provider, kind, prefix, files, records, status, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, provider, kind) DO UPDATE SET
			prefix = excluded.prefix,
			files = excluded.files,
			records = excluded.records,
			status = excluded.status,
			created = excluded.created`,
		e.RunID, e.Provider, e.Kind, e.Prefix, e.Files, e.Records, e.Status, created)
	if err != nil {
		return fmt.Errorf("ledger: record %s/%s/%s: %w", e.RunID, e.Provider, e.Kind, err)
	}
	return nil
}

// MarkUploaded flips the entry's status to uploaded.
func (l *Ledger) MarkUploaded(ctx context.Context, runID, provider, kind string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE run_entries SET status = ?
		WHERE run_id = ? AND provider = ? AND kind = ?`,
		driven.StatusUploaded, runID, provider, kind)
	if err != nil {
		return fmt.Errorf("ledger: mark uploaded %s/%s/%s: %w", runID, provider, kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: mark uploaded: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: no entry for %s/%s/%s", runID, provider, kind)
	}
	return nil
}

// Entries returns all entries for a run, oldest first.
func (l *Ledger) Entries(ctx context.Context, runID string) ([]driven.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, provider, kind, prefix, files, records, status, created
		FROM run_entries WHERE run_id = ? ORDER BY created, kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries of %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []driven.LedgerEntry
	for rows.Next() {
		var e driven.LedgerEntry
		if err := rows.Scan(&e.RunID, &e.Provider, &e.Kind, &e.Prefix, &e.Files, &e.Records, &e.Status, &e.Created); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: list entries of %s: %w", runID, err)
	}
	return entries, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

var _ driven.RunLedger = (*Ledger)(nil)
