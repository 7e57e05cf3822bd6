package driven

import (
	"context"
	"time"
)

// Ledger entry statuses.
const (
	StatusWritten  = "written"
	StatusFailed   = "failed"
	StatusUploaded = "uploaded"
)

// LedgerEntry records the outcome of writing one data kind for one provider
// during one run.
type LedgerEntry struct {
	RunID    string
	Provider string
	Kind     string
	Prefix   string
	Files    int
	Records  int
	Status   string
	Created  time.Time
}

// RunLedger persists per-run extraction outcomes locally so the upload step
// knows which batch files exist and whether a kind completed successfully.
type RunLedger interface {
	// Record inserts or replaces the entry for (run, provider, kind).
	Record(ctx context.Context, e LedgerEntry) error

	// MarkUploaded flips the entry's status to uploaded.
	MarkUploaded(ctx context.Context, runID, provider, kind string) error

	// Entries returns all entries for a run, oldest first.
	Entries(ctx context.Context, runID string) ([]LedgerEntry, error)

	// Close releases the underlying store.
	Close() error
}
