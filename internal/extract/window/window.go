// Package window computes how far back to pull data for each repository.
// The upstream control plane records, per repository, the timestamps data
// has already been backpopulated to; combined with the instance-wide
// pull-from boundary this yields the effective lower time bound for the next
// commit or pull request extraction.
package window

import "time"

// Kind selects which data kind a window is resolved for.
type Kind string

const (
	// KindCommits resolves the window for commit extraction.
	KindCommits Kind = "commits"

	// KindPRs resolves the window for pull request extraction.
	KindPRs Kind = "prs"
)

// CommitRefreshWindow is the rolling window re-scanned for repositories
// whose commit history is already fully backpopulated. Commits are immutable
// once created, so a trailing month catches late pushes and rebases without
// re-reading full history. Runs spaced further apart than this window can
// miss force-pushed commits.
const CommitRefreshWindow = 31 * 24 * time.Hour

// RepoState is the per-repository backpopulation record persisted by the
// control plane. Nil fields mean the corresponding boundary was never
// recorded (or was malformed in the persisted state, which degrades to the
// same full-backfill behavior).
type RepoState struct {
	// CommitsBackpopulatedTo is the oldest timestamp commits have been
	// pulled back to.
	CommitsBackpopulatedTo *time.Time

	// PRsBackpopulatedTo is the oldest timestamp pull requests have been
	// pulled back to.
	PRsBackpopulatedTo *time.Time

	// LatestPRUpdatePulled is the update timestamp of the newest pull
	// request already sent upstream.
	LatestPRUpdatePulled *time.Time
}

// InstanceState is the per-git-instance state consumed read-only from the
// control plane.
type InstanceState struct {
	// PullFrom is the instance-wide boundary: no data older than this is
	// wanted.
	PullFrom time.Time

	// Repos maps repository id to its backpopulation record.
	Repos map[string]RepoState
}

// ResolveSince returns the timestamp after which new data must be fetched
// for the repository and kind.
//
// A repository with no backpopulation record, or one whose recorded boundary
// does not reach back to PullFrom, still needs a full backfill from
// PullFrom. A fully backfilled repository only needs a refresh: the trailing
// CommitRefreshWindow for commits, or everything updated since the last
// observed pull request update for PRs (PRs keep mutating after creation, so
// they are re-scanned from the last seen update, not from creation).
func ResolveSince(state InstanceState, repoID string, kind Kind, now time.Time) time.Time {
	repo, ok := state.Repos[repoID]
	if !ok {
		return state.PullFrom
	}

	var backpopulatedTo *time.Time
	switch kind {
	case KindPRs:
		backpopulatedTo = repo.PRsBackpopulatedTo
	default:
		backpopulatedTo = repo.CommitsBackpopulatedTo
	}

	if backpopulatedTo == nil || state.PullFrom.Before(*backpopulatedTo) {
		// The desired window reaches further back than what has been
		// backfilled.
		return state.PullFrom
	}

	if kind == KindPRs {
		if repo.LatestPRUpdatePulled != nil {
			return *repo.LatestPRUpdatePulled
		}
		return state.PullFrom
	}

	return now.Add(-CommitRefreshWindow)
}
