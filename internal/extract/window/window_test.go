package window

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestResolveSince(t *testing.T) {
	now := ts("2026-08-01")
	pullFrom := ts("2024-01-01")

	t.Run("never-backfilled repo returns pull_from exactly", func(t *testing.T) {
		state := InstanceState{PullFrom: pullFrom, Repos: map[string]RepoState{}}

		got := ResolveSince(state, "org-1", KindCommits, now)

		assert.Equal(t, pullFrom, got)
	})

	t.Run("partially backfilled repo still needs the gap", func(t *testing.T) {
		// Backfilled only to 2025, but the instance wants data from 2024.
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {CommitsBackpopulatedTo: tsp("2025-01-01")},
			},
		}

		got := ResolveSince(state, "org-1", KindCommits, now)

		assert.Equal(t, pullFrom, got)
	})

	t.Run("fully backfilled commits roll to a 31 day refresh", func(t *testing.T) {
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {CommitsBackpopulatedTo: tsp("2023-06-01")},
			},
		}

		got := ResolveSince(state, "org-1", KindCommits, now)

		assert.WithinDuration(t, now.Add(-CommitRefreshWindow), got, time.Second)
	})

	t.Run("fully backfilled prs resume from the latest pulled update", func(t *testing.T) {
		latest := tsp("2026-07-15")
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {
					PRsBackpopulatedTo:   tsp("2023-06-01"),
					LatestPRUpdatePulled: latest,
				},
			},
		}

		got := ResolveSince(state, "org-1", KindPRs, now)

		assert.Equal(t, *latest, got)
	})

	t.Run("fully backfilled prs without a pulled update fall back to pull_from", func(t *testing.T) {
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {PRsBackpopulatedTo: tsp("2023-06-01")},
			},
		}

		got := ResolveSince(state, "org-1", KindPRs, now)

		assert.Equal(t, pullFrom, got)
	})

	t.Run("missing kind boundary means full backfill", func(t *testing.T) {
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {PRsBackpopulatedTo: tsp("2023-06-01")},
			},
		}

		// Commits were never backpopulated even though PRs were.
		got := ResolveSince(state, "org-1", KindCommits, now)

		assert.Equal(t, pullFrom, got)
	})

	t.Run("kinds are resolved independently per repo", func(t *testing.T) {
		state := InstanceState{
			PullFrom: pullFrom,
			Repos: map[string]RepoState{
				"org-1": {
					CommitsBackpopulatedTo: tsp("2023-01-01"),
					PRsBackpopulatedTo:     tsp("2025-01-01"),
				},
			},
		}

		commits := ResolveSince(state, "org-1", KindCommits, now)
		prs := ResolveSince(state, "org-1", KindPRs, now)

		assert.WithinDuration(t, now.Add(-CommitRefreshWindow), commits, time.Second)
		assert.Equal(t, pullFrom, prs)
	})
}

func TestLoad(t *testing.T) {
	t.Run("parses a complete state document", func(t *testing.T) {
		doc := `{
			"pull_from": "2024-01-01",
			"repos_dict_v2": {
				"org-17": {
					"commits_backpopulated_to": "2024-01-01T00:00:00",
					"prs_backpopulated_to": "2024-01-01",
					"latest_pr_update_date_pulled": "2026-07-20T09:30:00Z"
				}
			}
		}`

		state, err := Load(strings.NewReader(doc))

		require.NoError(t, err)
		assert.Equal(t, ts("2024-01-01"), state.PullFrom)
		repo := state.Repos["org-17"]
		require.NotNil(t, repo.CommitsBackpopulatedTo)
		require.NotNil(t, repo.PRsBackpopulatedTo)
		require.NotNil(t, repo.LatestPRUpdatePulled)
		assert.Equal(t, ts("2024-01-01"), *repo.CommitsBackpopulatedTo)
	})

	t.Run("null and empty repo fields stay nil", func(t *testing.T) {
		doc := `{
			"pull_from": "2024-01-01",
			"repos_dict_v2": {
				"org-17": {
					"commits_backpopulated_to": "2024-01-01",
					"prs_backpopulated_to": null,
					"latest_pr_update_date_pulled": ""
				}
			}
		}`

		state, err := Load(strings.NewReader(doc))

		require.NoError(t, err)
		repo := state.Repos["org-17"]
		assert.NotNil(t, repo.CommitsBackpopulatedTo)
		assert.Nil(t, repo.PRsBackpopulatedTo)
		assert.Nil(t, repo.LatestPRUpdatePulled)
	})

	t.Run("unparsable pull_from is an error", func(t *testing.T) {
		doc := `{"pull_from": "yesterday-ish", "repos_dict_v2": {}}`

		_, err := Load(strings.NewReader(doc))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "pull_from")
	})

	t.Run("missing pull_from is an error", func(t *testing.T) {
		doc := `{"repos_dict_v2": {}}`

		_, err := Load(strings.NewReader(doc))

		require.Error(t, err)
	})

	t.Run("malformed repo timestamp degrades to full backfill", func(t *testing.T) {
		doc := `{
			"pull_from": "2024-01-01",
			"repos_dict_v2": {
				"org-17": {"commits_backpopulated_to": "not-a-date"}
			}
		}`

		state, err := Load(strings.NewReader(doc))

		require.NoError(t, err)
		assert.Nil(t, state.Repos["org-17"].CommitsBackpopulatedTo)

		since := ResolveSince(state, "org-17", KindCommits, time.Now())
		assert.Equal(t, state.PullFrom, since)
	})
}
