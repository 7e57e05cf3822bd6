// Package services wires providers, the window resolver, the batch writer,
// and the run ledger into the agent's operations: pull (extract everything)
// and validate (check every configured credential).
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/extract/batch"
	"github.com/gitscope/agent/internal/extract/window"
	"github.com/gitscope/agent/internal/logger"
)

// GitSource pairs a provider with the file prefix its output is written
// under (gh, bb).
type GitSource struct {
	Provider driven.Provider
	Prefix   string
}

// PullOptions configures one extraction run.
type PullOptions struct {
	// OutDir is the base directory; each run writes into a timestamped
	// subdirectory.
	OutDir string

	// Compress gzips all batch files.
	Compress bool

	// BatchSize caps records per batch file.
	BatchSize int
}

// RunResult summarizes one extraction run.
type RunResult struct {
	RunID  string
	OutDir string

	// FailedRepos lists repositories whose commit or PR stream failed;
	// their windows must not be advanced.
	FailedRepos []string

	// FailedKinds lists (provider, kind) pairs that produced no output.
	FailedKinds []string
}

// PullService runs extractions.
type PullService struct {
	git     []GitSource
	tracker driven.TrackerProvider
	ledger  driven.RunLedger
	state   *window.InstanceState
	opts    PullOptions

	now func() time.Time
}

// NewPullService creates a PullService. tracker may be nil when no issue
// tracker is configured.
func NewPullService(
	git []GitSource,
	tracker driven.TrackerProvider,
	ledger driven.RunLedger,
	state *window.InstanceState,
	opts PullOptions,
) *PullService {
	return &PullService{
		git:     git,
		tracker: tracker,
		ledger:  ledger,
		state:   state,
		opts:    opts,
		now:     time.Now,
	}
}

// Run performs a full extraction: every configured provider, every data
// kind. A failing repository or data kind is recorded and skipped; the run
// itself fails only when nothing at all can be extracted or the output
// directory is unusable.
func (s *PullService) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{RunID: uuid.NewString()}

	result.OutDir = filepath.Join(s.opts.OutDir, s.now().UTC().Format("20060102_150405"))
	if err := os.MkdirAll(result.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("pull: create output dir: %w", err)
	}
	logger.Info("pull: run %s writing to %s", result.RunID, result.OutDir)

	for _, src := range s.git {
		s.pullGit(ctx, src, result)
	}
	if s.tracker != nil {
		s.pullTracker(ctx, result)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// pullGit extracts one git provider: users, projects, repos, then the
// commit and PR streams across every repo.
func (s *PullService) pullGit(ctx context.Context, src GitSource, result *RunResult) {
	provider := src.Provider
	name := provider.Kind()

	users, err := provider.Users(ctx)
	writeSlice(ctx, s, result, name, "users", src.Prefix+"_users", users, err, "id")

	projects, err := provider.Projects(ctx)
	writeSlice(ctx, s, result, name, "projects", src.Prefix+"_projects", projects, err, "id")

	repos, err := provider.Repos(ctx)
	writeSlice(ctx, s, result, name, "repos", src.Prefix+"_repos", repos, err, "id")
	if err != nil {
		// Without the repo list there is nothing to stream.
		return
	}

	onErr := func(repo domain.Repo, streamErr error) {
		logger.Error("pull: %s: repo %s stream failed: %v", name, repo.ID, streamErr)
		result.FailedRepos = append(result.FailedRepos, repo.ID)
	}

	commits := streamRepos(repos, func(ctx context.Context, repo domain.Repo) (<-chan domain.Commit, <-chan error) {
		since := window.ResolveSince(s.instanceState(), repo.ID, window.KindCommits, s.now().UTC())
		return provider.Commits(ctx, repo, since)
	}, onErr)
	s.writeStream(ctx, result, name, "commits", src.Prefix+"_commits", commits, "hash", "repo_id")

	prs := streamRepos(repos, func(ctx context.Context, repo domain.Repo) (<-chan domain.PullRequest, <-chan error) {
		since := window.ResolveSince(s.instanceState(), repo.ID, window.KindPRs, s.now().UTC())
		return provider.PullRequests(ctx, repo, since)
	}, onErr)
	s.writeStream(ctx, result, name, "prs", src.Prefix+"_prs", prs, "id", "base_repo_id")
}

// instanceState returns the loaded state, or the zero state (full backfill
// from the epoch) when none was supplied.
func (s *PullService) instanceState() window.InstanceState {
	if s.state == nil {
		return window.InstanceState{}
	}
	return *s.state
}

// pullTracker extracts the issue tracker: users, metadata datasets, and the
// issue stream.
func (s *PullService) pullTracker(ctx context.Context, result *RunResult) {
	name := s.tracker.Kind()

	users, err := s.tracker.Users(ctx)
	writeSlice(ctx, s, result, name, "users", name+"_users", users, err, "id")

	meta, err := s.tracker.Metadata(ctx)
	if err != nil {
		s.recordFailure(ctx, result, name, "metadata", name+"_metadata", err)
	} else if err := s.writeMetadata(ctx, result, name, meta); err != nil {
		s.recordFailure(ctx, result, name, "metadata", name+"_metadata", err)
	}

	since := time.Time{}
	if s.state != nil {
		since = s.state.PullFrom
	}
	items, errs := s.tracker.Issues(ctx, since)
	ids, err := batch.Write(ctx, batch.FromChannel(items), batch.Options{
		Dir:       result.OutDir,
		Prefix:    name + "_issues",
		Compress:  s.opts.Compress,
		BatchSize: s.opts.BatchSize,
		IDKey:     "id",
	})
	if err == nil {
		err = <-errs
	} else {
		// Drain so the producer can exit.
		for range items {
		}
		<-errs
	}
	s.record(ctx, result, name, "issues", name+"_issues", len(ids), err)
}

// writeSlice writes an in-memory entity list as one batch kind.
func writeSlice[T batch.FieldGetter](
	ctx context.Context, s *PullService, result *RunResult,
	provider, kind, prefix string, items []T, fetchErr error, idKey string,
) {
	if fetchErr != nil {
		s.recordFailure(ctx, result, provider, kind, prefix, fetchErr)
		return
	}
	ids, err := batch.Write(ctx, batch.FromSlice(items), batch.Options{
		Dir:       result.OutDir,
		Prefix:    prefix,
		Compress:  s.opts.Compress,
		BatchSize: s.opts.BatchSize,
		IDKey:     idKey,
	})
	s.record(ctx, result, provider, kind, prefix, len(ids), err)
}

// writeStream drains a concatenated repo stream into one batch kind.
func (s *PullService) writeStream(
	ctx context.Context, result *RunResult,
	provider, kind, prefix string, src batch.Source, idKey, secondaryKey string,
) {
	ids, err := batch.Write(ctx, src, batch.Options{
		Dir:          result.OutDir,
		Prefix:       prefix,
		Compress:     s.opts.Compress,
		BatchSize:    s.opts.BatchSize,
		IDKey:        idKey,
		SecondaryKey: secondaryKey,
	})
	s.record(ctx, result, provider, kind, prefix, len(ids), err)
}

// writeMetadata dumps the tracker's auxiliary datasets, one JSON file each.
func (s *PullService) writeMetadata(ctx context.Context, result *RunResult, provider string, meta map[string]any) error {
	for name, v := range meta {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("pull: encode %s metadata: %w", name, err)
		}
		path := filepath.Join(result.OutDir, provider+"_"+name+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("pull: write %s: %w", path, err)
		}
	}
	s.record(ctx, result, provider, "metadata", provider+"_metadata", len(meta), nil)
	return nil
}

func (s *PullService) record(ctx context.Context, result *RunResult, provider, kind, prefix string, records int, err error) {
	status := driven.StatusWritten
	if err != nil {
		logger.Error("pull: %s/%s failed: %v", provider, kind, err)
		result.FailedKinds = append(result.FailedKinds, provider+"/"+kind)
		status = driven.StatusFailed
	}

	if s.ledger == nil {
		return
	}
	entry := driven.LedgerEntry{
		RunID:    result.RunID,
		Provider: provider,
		Kind:     kind,
		Prefix:   prefix,
		Files:    batchFileCount(records, s.opts.BatchSize),
		Records:  records,
		Status:   status,
		Created:  s.now().UTC(),
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		logger.Error("pull: ledger record %s/%s: %v", provider, kind, err)
	}
}

func (s *PullService) recordFailure(ctx context.Context, result *RunResult, provider, kind, prefix string, err error) {
	s.record(ctx, result, provider, kind, prefix, 0, err)
}

// batchFileCount is the number of files a record count produces under the
// configured batch size. Even an empty write produces one file.
func batchFileCount(records, batchSize int) int {
	if batchSize <= 0 || records == 0 {
		return 1
	}
	files := (records + batchSize - 1) / batchSize
	if files == 0 {
		files = 1
	}
	return files
}

// streamRepos concatenates per-repo streams into one flat source. A repo
// whose stream fails is reported through onErr and skipped; the combined
// stream keeps going so one bad repo never aborts the whole kind.
func streamRepos[T batch.FieldGetter](
	repos []domain.Repo,
	open func(ctx context.Context, repo domain.Repo) (<-chan T, <-chan error),
	onErr func(repo domain.Repo, err error),
) batch.Source {
	idx := 0
	var (
		repo  domain.Repo
		items <-chan T
		errs  <-chan error
	)
	return batch.SourceFunc(func(ctx context.Context) (batch.FieldGetter, bool, error) {
		for {
			if items == nil {
				if idx >= len(repos) {
					return nil, false, nil
				}
				repo = repos[idx]
				idx++
				items, errs = open(ctx, repo)
			}

			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case item, ok := <-items:
				if !ok {
					if err := <-errs; err != nil {
						onErr(repo, err)
					}
					items, errs = nil, nil
					continue
				}
				return item, true, nil
			}
		}
	})
}
