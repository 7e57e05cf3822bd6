// Package github adapts the GitHub REST API (github.com or Enterprise) to
// the provider port. All calls run under the realm limiter and an adaptive
// quota throttle; commits and pull requests stream through channels so the
// writer never holds a repository's history in memory.
package github

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

// Provider implements the git provider port for GitHub.
type Provider struct {
	client *Client
	cfg    Config
	norm   *normalizer

	// coords maps normalized repo IDs back to real API coordinates.
	// Output names may be redacted; API calls need the originals.
	mu     sync.Mutex
	coords map[string]repoCoord
	closed bool
}

type repoCoord struct {
	owner         string
	name          string
	defaultBranch string
}

// NewProvider creates a GitHub provider.
func NewProvider(tokenProvider driven.TokenProvider, cfg Config) *Provider {
	return &Provider{
		client: NewClient(tokenProvider, cfg),
		cfg:    cfg,
		norm:   newNormalizer(cfg),
		coords: make(map[string]repoCoord),
	}
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
func (p *Provider) Kind() string { return "github" }

// Validate checks credentials and that every configured organization is
// reachable.
func (p *Provider) Validate(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.client.validate(ctx); err != nil {
		return fmt.Errorf("github: %w", err)
	}
	for _, org := range p.cfg.Orgs {
		if _, err := p.client.organization(ctx, org); err != nil {
			return fmt.Errorf("github: %w", err)
		}
	}
	return nil
}

// Users fetches the member accounts of every configured organization,
// resolved to full records and deduplicated across organizations.
func (p *Provider) Users(ctx context.Context) ([]domain.User, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var users []domain.User
	for _, org := range p.cfg.Orgs {
		members, err := paginate.Collect(ctx, paginate.New(p.client.orgMembers(org), paginate.First()))
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		for _, stub := range members {
			if _, dup := seen[stub.GetID()]; dup {
				continue
			}
			seen[stub.GetID()] = struct{}{}

			full, err := p.client.fullUser(ctx, stub.GetLogin())
			if err != nil {
				return nil, fmt.Errorf("github: %w", err)
			}
			users = append(users, *p.norm.user(full))
		}
	}
	logger.Info("github: fetched %d users across %d orgs", len(users), len(p.cfg.Orgs))
	return users, nil
}

// Projects fetches the configured organizations.
func (p *Provider) Projects(ctx context.Context) ([]domain.Project, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	projects := make([]domain.Project, 0, len(p.cfg.Orgs))
	for _, name := range p.cfg.Orgs {
		org, err := p.client.organization(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		projects = append(projects, p.norm.project(org))
	}
	return projects, nil
}

// Repos fetches every repository of the configured organizations that passes
// the include/exclude filters, each with its branch list.
func (p *Provider) Repos(ctx context.Context) ([]domain.Repo, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	var repos []domain.Repo
	for _, orgName := range p.cfg.Orgs {
		org, err := p.client.organization(ctx, orgName)
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		project := p.norm.project(org)

		raw, err := paginate.Collect(ctx, paginate.New(p.client.orgRepos(orgName), paginate.First()))
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		for _, r := range raw {
			if !p.wantRepo(r.GetName()) {
				logger.Debug("github: skipping filtered repo %s", r.GetFullName())
				continue
			}
			branches, err := paginate.Collect(ctx, paginate.New(p.client.branches(orgName, r.GetName()), paginate.First()))
			if err != nil {
				return nil, fmt.Errorf("github: %w", err)
			}

			repo := p.norm.repo(r, branches, &project)
			p.rememberCoord(repo.ID, repoCoord{
				owner:         orgName,
				name:          r.GetName(),
				defaultBranch: r.GetDefaultBranch(),
			})
			repos = append(repos, repo)
		}
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("github: %w", domain.ErrNoRepos)
	}
	logger.Info("github: fetched %d repos", len(repos))
	return repos, nil
}

// wantRepo applies the include/exclude filters, case-insensitively.
func (p *Provider) wantRepo(name string) bool {
	if len(p.cfg.IncludeRepos) > 0 && !containsFold(p.cfg.IncludeRepos, name) {
		return false
	}
	return !containsFold(p.cfg.ExcludeRepos, name)
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
		return repoCoord{}, fmt.Errorf("github: repo %s not loaded; call Repos first", repo.ID)
	}
	return coord, nil
}

// Commits streams default-branch commits committed after since, newest
// first.
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

		it := paginate.New(p.client.commits(coord.owner, coord.name, coord.defaultBranch, since), paginate.First())
		count := 0
		for {
			c, ok, err := it.Next(ctx)
			if err != nil {
				errs <- fmt.Errorf("github: %w", err)
				return
			}
			if !ok {
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
		logger.Debug("github: %s: streamed %d commits since %s", repo.ID, count, since.Format(time.RFC3339))
	}()

	return items, errs
}

// PullRequests streams pull requests updated after since, most recently
// updated first. The listing is sorted by update time descending, so the
// first PR at or before the cutoff ends the stream without touching older
// pages.
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

		it := paginate.New(p.client.pullRequests(coord.owner, coord.name), paginate.First())
		count := 0
		for {
			stub, ok, err := it.Next(ctx)
			if err != nil {
				errs <- fmt.Errorf("github: %w", err)
				return
			}
			if !ok {
				break
			}
			if !stub.GetUpdatedAt().Time.After(since) {
				logger.Debug("github: %s: PR #%d at cutoff, stopping", repo.ID, stub.GetNumber())
				break
			}

			pr, err := p.assemblePR(ctx, coord, repo, stub.GetNumber())
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
		logger.Debug("github: %s: streamed %d pull requests since %s", repo.ID, count, since.Format(time.RFC3339))
	}()

	return items, errs
}

// assemblePR fetches the full record plus comments, reviews, and commits for
// one pull request.
func (p *Provider) assemblePR(ctx context.Context, coord repoCoord, repo domain.Repo, number int) (domain.PullRequest, error) {
	full, err := p.client.fullPullRequest(ctx, coord.owner, coord.name, number)
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("github: %w", err)
	}

	rawComments, err := paginate.Collect(ctx, paginate.New(p.client.prComments(coord.owner, coord.name, number), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("github: %w", err)
	}
	comments := make([]domain.Comment, 0, len(rawComments))
	for _, c := range rawComments {
		comments = append(comments, p.norm.comment(c))
	}

	rawReviews, err := paginate.Collect(ctx, paginate.New(p.client.prReviews(coord.owner, coord.name, number), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("github: %w", err)
	}
	approvals := make([]domain.Review, 0, len(rawReviews))
	for _, r := range rawReviews {
		approvals = append(approvals, p.norm.review(r))
	}

	rawCommits, err := paginate.Collect(ctx, paginate.New(p.client.prCommits(coord.owner, coord.name, number), paginate.First()))
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("github: %w", err)
	}
	commits := make([]domain.Commit, 0, len(rawCommits))
	for _, c := range rawCommits {
		commits = append(commits, p.norm.commit(c, repo))
	}

	return p.norm.pullRequest(full, repo, comments, approvals, commits), nil
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
		return fmt.Errorf("github: %w", domain.ErrProviderClosed)
	}
	return nil
}

var _ driven.Provider = (*Provider)(nil)
