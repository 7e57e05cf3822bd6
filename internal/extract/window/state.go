package window

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gitscope/agent/internal/logger"
)

// Wire shapes of the control-plane state file.
type instanceStateJSON struct {
	PullFrom string                   `json:"pull_from"`
	Repos    map[string]repoStateJSON `json:"repos_dict_v2"`
}

type repoStateJSON struct {
	CommitsBackpopulatedTo   string `json:"commits_backpopulated_to"`
	PRsBackpopulatedTo       string `json:"prs_backpopulated_to"`
	LatestPRUpdateDatePulled string `json:"latest_pr_update_date_pulled"`
}

// Load parses control-plane instance state. An unparsable pull_from is an
// error: without the boundary nothing can be resolved. Malformed per-repo
// timestamps are logged and treated as absent, which degrades that
// repository to a full backfill (over-fetching is safer than under-fetching).
func Load(r io.Reader) (InstanceState, error) {
	var raw instanceStateJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return InstanceState{}, fmt.Errorf("decode instance state: %w", err)
	}

	pullFrom, err := parseStateTime(raw.PullFrom)
	if err != nil || pullFrom == nil {
		return InstanceState{}, fmt.Errorf("instance state: invalid pull_from %q: %w", raw.PullFrom, err)
	}

	state := InstanceState{
		PullFrom: *pullFrom,
		Repos:    make(map[string]RepoState, len(raw.Repos)),
	}
	for repoID, rs := range raw.Repos {
		state.Repos[repoID] = RepoState{
			CommitsBackpopulatedTo: lenientStateTime(repoID, "commits_backpopulated_to", rs.CommitsBackpopulatedTo),
			PRsBackpopulatedTo:     lenientStateTime(repoID, "prs_backpopulated_to", rs.PRsBackpopulatedTo),
			LatestPRUpdatePulled:   lenientStateTime(repoID, "latest_pr_update_date_pulled", rs.LatestPRUpdateDatePulled),
		}
	}
	return state, nil
}

// LoadFile loads instance state from a JSON file on disk.
func LoadFile(path string) (InstanceState, error) {
	f, err := os.Open(path)
	if err != nil {
		return InstanceState{}, fmt.Errorf("open instance state: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// stateTimeLayouts are the accepted timestamp shapes, most specific first.
var stateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseStateTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range stateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

func lenientStateTime(repoID, field, s string) *time.Time {
	t, err := parseStateTime(s)
	if err != nil {
		logger.Warn("instance state: repo %s has malformed %s %q, treating as never backfilled", repoID, field, s)
		return nil
	}
	return t
}
