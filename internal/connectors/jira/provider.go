// Package jira adapts the Jira REST API (cloud or server) to the tracker
// port. Issue download is the dominant cost on large instances, so it runs
// through a worker pool: workers atomically claim disjoint offset ranges of
// the search result and push issues onto one shared stream.
package jira

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/logger"
)

// userPageSize is the page size for account search.
const userPageSize = 50

// Provider implements the tracker port for Jira.
type Provider struct {
	client *Client
	cfg    Config

	mu     sync.Mutex
	closed bool
}

// NewProvider creates a Jira provider.
func NewProvider(user, token string, cfg Config) *Provider {
	return &Provider{client: NewClient(user, token, cfg), cfg: cfg}
}

// newProviderWithClient wires a pre-built client, for tests.
func newProviderWithClient(client *Client, cfg Config) *Provider {
	return &Provider{client: client, cfg: cfg}
}

// Kind returns the tracker kind identifier.
func (p *Provider) Kind() string { return "jira" }

// Validate checks credentials with a server info call.
func (p *Provider) Validate(ctx context.Context) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.client.serverInfo(ctx); err != nil {
		return fmt.Errorf("jira: %w", err)
	}
	return nil
}

// Users fetches all visible accounts.
func (p *Provider) Users(ctx context.Context) ([]domain.User, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	raw, err := p.client.users(ctx, userPageSize)
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	users := make([]domain.User, 0, len(raw))
	for _, u := range raw {
		users = append(users, normalizeUser(u))
	}
	logger.Info("jira: fetched %d users", len(users))
	return users, nil
}

// normalizeUser maps a Jira account. Cloud accounts carry accountId; server
// accounts carry key/name.
func normalizeUser(u wireUser) domain.User {
	id := u.AccountID
	if id == "" {
		id = u.Key
	}
	login := u.Name
	if login == "" {
		login = u.AccountID
	}
	return domain.User{
		ID:    id,
		Login: login,
		Name:  u.DisplayName,
		Email: u.EmailAddress,
	}
}

// metadataEndpoints are the flat auxiliary datasets downloaded with every
// run, keyed by output name.
var metadataEndpoints = map[string]string{
	"fields":      "/field",
	"resolutions": "/resolution",
	"issue_types": "/issuetype",
	"priorities":  "/priority",
	"link_types":  "/issueLinkType",
	"projects":    "/project",
}

// agilePageSize is the page size for board and sprint listing.
const agilePageSize = 50

// Metadata fetches the auxiliary datasets, including agile boards and
// their sprints when the instance has Jira Software.
func (p *Provider) Metadata(ctx context.Context) (map[string]any, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(metadataEndpoints)+2)
	for name, path := range metadataEndpoints {
		v, err := p.client.metadataList(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("jira: %w", err)
		}
		out[name] = v
	}

	boards, sprints, err := p.boardsAndSprints(ctx)
	if err != nil {
		return nil, err
	}
	out["boards"] = boards
	out["sprints"] = sprints
	return out, nil
}

// boardsAndSprints lists every board, then flattens all boards' sprints
// into one dataset.
func (p *Provider) boardsAndSprints(ctx context.Context) ([]map[string]any, []map[string]any, error) {
	boards, err := p.client.agileList(ctx, "/board", agilePageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("jira: %w", err)
	}

	sprints := []map[string]any{}
	for _, board := range boards {
		id, ok := board["id"].(float64)
		if !ok {
			continue
		}
		path := fmt.Sprintf("/board/%d/sprint", int64(id))
		s, err := p.client.agileList(ctx, path, agilePageSize)
		if err != nil {
			return nil, nil, fmt.Errorf("jira: %w", err)
		}
		sprints = append(sprints, s...)
	}
	return boards, sprints, nil
}

// Issues streams issues updated after since. A probe request establishes the
// total, then DownloadWorkers workers claim batch offsets from a shared
// counter and push pages onto the stream; items arrive in no particular
// order.
func (p *Provider) Issues(ctx context.Context, since time.Time) (<-chan domain.Issue, <-chan error) {
	items := make(chan domain.Issue)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(items)

		if err := p.checkOpen(); err != nil {
			errs <- err
			return
		}

		jql := issueJQL(p.cfg, since)
		probe, err := p.client.searchIssues(ctx, jql, 0, 0)
		if err != nil {
			errs <- fmt.Errorf("jira: %w", err)
			return
		}
		total := probe.Total
		logger.Info("jira: downloading %d issues with %d workers", total, p.workers())
		if total == 0 {
			return
		}

		batchSize := p.batchSize()
		var nextStart atomic.Int64
		var firstErr atomic.Value

		var wg sync.WaitGroup
		for w := 0; w < p.workers(); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					start := int(nextStart.Add(int64(batchSize))) - batchSize
					if start >= total {
						return
					}
					if firstErr.Load() != nil || ctx.Err() != nil {
						return
					}

					page, err := p.client.searchIssues(ctx, jql, start, batchSize)
					if err != nil {
						firstErr.CompareAndSwap(nil, fmt.Errorf("jira: %w", err))
						return
					}
					for _, issue := range page.Issues {
						norm, err := normalizeIssue(issue)
						if err != nil {
							logger.Warn("jira: skipping malformed issue %s: %v", issue.Key, err)
							continue
						}
						select {
						case items <- norm:
						case <-ctx.Done():
							return
						}
					}
				}
			}()
		}
		wg.Wait()

		if err, ok := firstErr.Load().(error); ok {
			errs <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errs <- err
		}
	}()

	return items, errs
}

func (p *Provider) workers() int {
	if p.cfg.DownloadWorkers > 0 {
		return p.cfg.DownloadWorkers
	}
	return 1
}

func (p *Provider) batchSize() int {
	if p.cfg.IssueBatchSize > 0 {
		return p.cfg.IssueBatchSize
	}
	return 100
}

// normalizeIssue lifts the identity and ordering fields out of the payload;
// the field map itself is carried through untouched.
func normalizeIssue(issue wireIssue) (domain.Issue, error) {
	out := domain.Issue{
		ID:     issue.ID,
		Key:    issue.Key,
		Fields: issue.Fields,
	}
	raw, ok := issue.Fields["updated"].(string)
	if !ok {
		return out, fmt.Errorf("issue %s: missing updated field", issue.Key)
	}
	updated, err := time.Parse(jiraTimeLayout, raw)
	if err != nil {
		return out, fmt.Errorf("issue %s: parse updated %q: %w", issue.Key, raw, err)
	}
	out.UpdatedAt = updated.UTC()
	return out, nil
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
		return fmt.Errorf("jira: %w", domain.ErrProviderClosed)
	}
	return nil
}

var _ driven.TrackerProvider = (*Provider)(nil)
