package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitscope/agent/internal/core/ports/driven"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("record and list round trip", func(t *testing.T) {
		l := openTestLedger(t)

		e := driven.LedgerEntry{
			RunID:    "run-1",
			Provider: "github",
			Kind:     "commits",
			Prefix:   "gh_commits",
			Files:    3,
			Records:  250,
			Status:   driven.StatusWritten,
			Created:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		}
		require.NoError(t, l.Record(ctx, e))

		entries, err := l.Entries(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, e.Prefix, entries[0].Prefix)
		assert.Equal(t, e.Records, entries[0].Records)
		assert.Equal(t, driven.StatusWritten, entries[0].Status)
	})

	t.Run("record replaces an existing entry", func(t *testing.T) {
		l := openTestLedger(t)

		e := driven.LedgerEntry{RunID: "run-1", Provider: "github", Kind: "commits", Status: driven.StatusFailed}
		require.NoError(t, l.Record(ctx, e))
		e.Status = driven.StatusWritten
		e.Records = 42
		require.NoError(t, l.Record(ctx, e))

		entries, err := l.Entries(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, driven.StatusWritten, entries[0].Status)
		assert.Equal(t, 42, entries[0].Records)
	})

	t.Run("entries are scoped to the run", func(t *testing.T) {
		l := openTestLedger(t)

		require.NoError(t, l.Record(ctx, driven.LedgerEntry{RunID: "run-1", Provider: "github", Kind: "users", Status: driven.StatusWritten}))
		require.NoError(t, l.Record(ctx, driven.LedgerEntry{RunID: "run-2", Provider: "github", Kind: "users", Status: driven.StatusWritten}))

		entries, err := l.Entries(ctx, "run-2")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "run-2", entries[0].RunID)
	})

	t.Run("entries come back oldest first", func(t *testing.T) {
		l := openTestLedger(t)

		base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
		for i, kind := range []string{"prs", "users", "commits"} {
			require.NoError(t, l.Record(ctx, driven.LedgerEntry{
				RunID: "run-1", Provider: "github", Kind: kind,
				Status: driven.StatusWritten, Created: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		entries, err := l.Entries(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "prs", entries[0].Kind)
		assert.Equal(t, "commits", entries[2].Kind)
	})

	t.Run("mark uploaded flips status", func(t *testing.T) {
		l := openTestLedger(t)

		require.NoError(t, l.Record(ctx, driven.LedgerEntry{RunID: "run-1", Provider: "github", Kind: "users", Status: driven.StatusWritten}))
		require.NoError(t, l.MarkUploaded(ctx, "run-1", "github", "users"))

		entries, err := l.Entries(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, driven.StatusUploaded, entries[0].Status)
	})

	t.Run("mark uploaded on a missing entry fails", func(t *testing.T) {
		l := openTestLedger(t)
		assert.Error(t, l.MarkUploaded(ctx, "run-1", "github", "nothing"))
	})

	t.Run("unknown run yields no entries", func(t *testing.T) {
		l := openTestLedger(t)

		entries, err := l.Entries(ctx, "no-such-run")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
