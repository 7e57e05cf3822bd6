// Package bitbucket adapts the Bitbucket Server (self-hosted) REST API to
// the provider port. The server's paged envelope (start, isLastPage,
// nextPageStart) maps onto offset cursors; commits and pull requests have no
// server-side time filter, so both streams walk newest-first and stop at the
// caller's cutoff.
package bitbucket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/extract/paginate"
	"github.com/gitscope/agent/internal/logger"
)

// Provider implements the git provider port for Bitbucket Server.
type Provider struct {
	client *Client
	cfg    Config
	norm   *normalizer

	// coords maps normalized repo IDs back to real API coordinates.
	mu     sync.Mutex
	coords map[string]repoCoord
	closed bool
}

type repoCoord struct {
	projectKey    string
	slug          string
	defaultBranch string
}

// NewProvider creates a Bitbucket Server provider.
func NewProvider(ctx context.Context, tokenProvider driven.TokenProvider, cfg Config) (*Provider, error) {
	client, err := NewClient(ctx, tokenProvider, cfg)
	if err != nil {
		return nil, fmt.Errorf("bitbucket: %w", err)
	}
	return newProviderWithClient(client, cfg), nil
}

// newProviderWithClient wires a pre-built client, for tests.
func newProviderWithClient(client *Client, cfg Config) *Provider {
	return &Provider{
		client: client,
		cfg:    cfg,
		norm:   newNormalizer(cfg),
		coords: make(map[string]repoCoord),
	}
}

// Kind returns the provider kind identifier.
func (p *Provider) Kind() string { return "bitbucket_server" }

// Validate checks credentials and that every configured project is
// reachable.
func (p *Provider) Validate(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.client.validate(ctx); err != nil {
		return fmt.Errorf("bitbucket: %w", err)
	}
	for _, key := range p.cfg.Projects {
		if _, err := p.client.project(ctx, key); err != nil {
			return fmt.Errorf("bitbucket: %w", err)
		}
	}
	return nil
}

// Users fetches all accounts on the instance. Requires admin access; smaller
// installations typically run the agent with a service account that has it.
func (p *Provider) Users(ctx context.Context) ([]domain.User, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := paginate.Collect(ctx, paginate.New(p.client.users(), paginate.First()))
	if err != nil {
		return nil, fmt.Errorf("bitbucket: %w", err)
	}
	users := make([]domain.User, 0, len(raw))
	for i := range raw {
		users = append(users, *p.norm.user(&raw[i]))
	}
	logger.Info("bitbucket: fetched %d users", len(users))
	return users, nil
}

// Projects fetches the configured projects.
func (p *Provider) Projects(ctx context.Context) ([]domain.Project, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	projects := make([]domain.Project, 0, len(p.cfg.Projects))
	for _, key := range p.cfg.Projects {
		proj, err := p.client.project(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("bitbucket: %w", err)
		}
		projects = append(projects, p.norm.project(proj))
	}
	return projects, nil
}

// Repos fetches every repository of the configured projects that passes the
// include/exclude filters, each with its branch list and default branch.
func (p *Provider) Repos(ctx context.Context) ([]domain.Repo, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	var repos []domain.Repo
	for _, key := range p.cfg.Projects {
		proj, err := p.client.project(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("bitbucket: %w", err)
		}
		project := p.norm.project(proj)

		raw, err := paginate.Collect(ctx, paginate.New(p.client.repos(key), paginate.First()))
		if err != nil {
			return nil, fmt.Errorf("bitbucket: %w", err)
		}
		for i := range raw {
			r := &raw[i]
			if !p.wantRepo(r.Slug) {
				logger.Debug("bitbucket: skipping filtered repo %s/%s", key, r.Slug)
				continue
			}
			branches, err := paginate.Collect(ctx, paginate.New(p.client.branches(key, r.Slug), paginate.First()))
			if err != nil {
				return nil, fmt.Errorf("bitbucket: %w", err)
			}

			defaultBranch := ""
			for _, b := range branches {
				if b.IsDefault {
					defaultBranch = b.DisplayID
				}
			}
			if defaultBranch == "" {
				def, err := p.client.defaultBranch(ctx, key, r.Slug)
				if err == nil {
					defaultBranch = def.DisplayID
				}
			}

			repo := p.norm.repo(r, branches, defaultBranch, &project)
			p.rememberCoord(repo.ID, repoCoord{
				projectKey:    key,
				slug:          r.Slug,
				defaultBranch: defaultBranch,
			})
			repos = append(repos, repo)
		}
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("bitbucket: %w", domain.ErrNoRepos)
	}
	logger.Info("bitbucket: fetched %d repos", len(repos))
	return repos, nil
}

func (p *Provider) wantRepo(slug string) bool {
	if len(p.cfg.IncludeRepos) > 0 && !containsFold(p.cfg.IncludeRepos, slug) {
		return false
	}
	return !containsFold(p.cfg.ExcludeRepos, slug)
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func (p *Provider) rememberCoord(id string, coord repoCoord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coords[id] = coord
}

func (p *Provider) coordFor(repo domain.Repo) (repoCoord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	coord, ok := p.coords[repo.ID]
	if !ok {
		return repoCoord{}, fmt.Errorf("bitbucket: repo %s not loaded; call Repos first", repo.ID)
	}
	return coord, nil
}

// Commits streams default-branch commits committed after since, newest
// first. The history is walked newest-first, so the first commit at or
// before the cutoff ends the stream.
func (p *Provider) Commits(ctx context.Context, repo domain.Repo, since time.Time) (<-chan domain.Commit, <-chan error) {
	items := make(chan domain.Commit)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(items)

		coord, err := p.coordFor(repo)
		if err != nil {
			errs <- err
			return
		}

		it := paginate.New(p.client.commits(coord.projectKey, coord.slug, coord.defaultBranch), paginate.First())
		count := 0
		for {
			c, ok, err := it.Next(ctx)
			if err != nil {
				errs <- fmt.Errorf("bitbucket: %w", err)
				return
			}
			if !ok {
				break
			}
			if !millis(c.CommitterTimestamp).After(since) {
				break
			}
			select {
			case items <- p.norm.commit(c, repo):
				count++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		logger.Debug("bitbucket: %s: streamed %d commits since %s", repo.ID, count, since.Format(time.RFC3339))
	}()

	return items, errs
}

// PullRequests streams pull requests updated after since, most recently
// updated first.
func (p *Provider) PullRequests(ctx context.Context, repo domain.Repo, since time.Time) (<-chan domain.PullRequest, <-chan error) {
	items := make(chan domain.PullRequest)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(items)

		coord, err := p.coordFor(repo)
		if err != nil {
			errs <- err
			return
		}

		it := paginate.New(p.client.pullRequests(coord.projectKey, coord.slug), paginate.First())
		count := 0
		for {
			stub, ok, err := it.Next(ctx)
			if err != nil {
				errs <- fmt.Errorf("bitbucket: %w", err)
				return
			}
			if !ok {
				break
			}
			if !millis(stub.UpdatedDate).After(since) {
				logger.Debug("bitbucket: %s: PR #%d at cutoff, stopping", repo.ID, stub.ID)
				break
			}

			pr, err := p.assemblePR(ctx, coord, repo, stub)
			if err != nil {
				errs <- err
				return
			}
			select {
			case items <- pr:
				count++
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		logger.Debug("bitbucket: %s: streamed %d pull requests since %s", repo.ID, count, since.Format(time.RFC3339))
	}()

	return items, errs
}

// assemblePR fetches the activity stream, commits, and diff stats for one
// pull request.
func (p *Provider) assemblePR(ctx context.Context, coord repoCoord, repo domain.Repo, stub wirePullRequest) (domain.PullRequest, error) {
	activities, err := paginate.Collect(ctx, paginate.New(p.client.prActivities(coord.projectKey, coord.slug, stub.ID), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("bitbucket: %w", err)
	}

	rawCommits, err := paginate.Collect(ctx, paginate.New(p.client.prCommits(coord.projectKey, coord.slug, stub.ID), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("bitbucket: %w", err)
	}
	commits := make([]domain.Commit, 0, len(rawCommits))
	for _, c := range rawCommits {
		commits = append(commits, p.norm.commit(c, repo))
	}

	stats, err := paginate.Collect(ctx, paginate.New(p.client.prDiffStats(coord.projectKey, coord.slug, stub.ID), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("bitbucket: %w", err)
	}
	var additions, deletions int
	for _, s := range stats {
		additions += s.LinesAdded
		deletions += s.LinesRemoved
	}

	return p.norm.pullRequest(stub, repo, activities, commits, additions, deletions, len(stats)), nil
}

// Close marks the provider closed. Subsequent calls fail with
// ErrProviderClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Provider) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("bitbucket: %w", domain.ErrProviderClosed)
	}
	return nil
}

var _ driven.Provider = (*Provider)(nil)
