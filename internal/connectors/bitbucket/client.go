package bitbucket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/extract/httpclient"
	"github.com/gitscope/agent/internal/extract/paginate"
	"github.com/gitscope/agent/internal/extract/ratelimit"
)

// apiRoot is the REST API prefix on a Bitbucket Server instance.
const apiRoot = "/rest/api/1.0"

// pageLimit is the page size requested from paged endpoints.
const pageLimit = 100

// Config drives one Bitbucket Server provider instance.
type Config struct {
	// BaseURL is the instance root, e.g. https://bitbucket.acme.internal.
	BaseURL string

	// Projects are the project keys to pull.
	Projects []string

	// IncludeRepos restricts extraction to the named repository slugs.
	IncludeRepos []string

	// ExcludeRepos skips the named repository slugs.
	ExcludeRepos []string

	// RedactNames replaces repo/branch/project names with stable
	// placeholders and drops URLs from the output.
	RedactNames bool

	// StripTextContent reduces commit messages and PR text to the issue
	// keys they mention.
	StripTextContent bool

	// Realms overrides per-realm call budgets.
	Realms map[string]ratelimit.RealmConfig
}

// Realm names used by the Bitbucket client.
const (
	RealmUsers   = "users"
	RealmRepos   = "repos"
	RealmCommits = "commits"
	RealmPRs     = "prs"
)

// Client issues authenticated, rate-limited calls against one Bitbucket
// Server instance.
type Client struct {
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	realms  map[string]struct{}
	base    string
}

// NewClient creates a Bitbucket Server API client. The token is sent as a
// bearer token (HTTP access token).
func NewClient(ctx context.Context, tokenProvider driven.TokenProvider, cfg Config) (*Client, error) {
	token, err := tokenProvider.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	h := httpclient.New(httpclient.WithAuthenticator(&httpclient.TokenAuth{Scheme: "Bearer", Token: token}))
	return newClient(h, cfg), nil
}

// newClient wires a pre-built HTTP client, for tests.
func newClient(h *httpclient.Client, cfg Config) *Client {
	known := make(map[string]struct{}, len(cfg.Realms))
	for name := range cfg.Realms {
		known[name] = struct{}{}
	}
	return &Client{
		http:    h,
		limiter: ratelimit.New(cfg.Realms),
		realms:  known,
		base:    cfg.BaseURL,
	}
}

// getJSON fetches one API resource under the realm limiter.
func (c *Client) getJSON(ctx context.Context, realm, path string, query url.Values, v any) error {
	u := c.base + apiRoot + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if _, ok := c.realms[realm]; !ok {
		realm = ""
	}
	return c.limiter.Do(ctx, realm, func() error {
		_, err := c.http.GetJSON(ctx, u, v)
		return err
	})
}

// paged returns a fetcher over a start/nextPageStart paged endpoint.
func paged[T any](c *Client, realm, path string, query url.Values) paginate.FetchFunc[T] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]T, paginate.Cursor, error) {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("start", strconv.Itoa(cursor.OffsetValue()))

		var p page[T]
		if err := c.getJSON(ctx, realm, path, q, &p); err != nil {
			return nil, paginate.End(), err
		}
		if p.IsLastPage {
			return p.Values, paginate.End(), nil
		}
		return p.Values, paginate.Offset(p.NextPageStart), nil
	}
}

func (c *Client) users() paginate.FetchFunc[wireUser] {
	return paged[wireUser](c, RealmUsers, "/admin/users", nil)
}

func (c *Client) project(ctx context.Context, key string) (*wireProject, error) {
	var p wireProject
	if err := c.getJSON(ctx, RealmRepos, "/projects/"+key, nil, &p); err != nil {
		return nil, fmt.Errorf("get project %s: %w", key, err)
	}
	return &p, nil
}

func (c *Client) repos(projectKey string) paginate.FetchFunc[wireRepo] {
	return paged[wireRepo](c, RealmRepos, "/projects/"+projectKey+"/repos", nil)
}

func (c *Client) branches(projectKey, slug string) paginate.FetchFunc[wireBranch] {
	return paged[wireBranch](c, RealmRepos, "/projects/"+projectKey+"/repos/"+slug+"/branches", nil)
}

func (c *Client) defaultBranch(ctx context.Context, projectKey, slug string) (*wireBranch, error) {
	var b wireBranch
	err := c.getJSON(ctx, RealmRepos, "/projects/"+projectKey+"/repos/"+slug+"/branches/default", nil, &b)
	if err != nil {
		return nil, fmt.Errorf("get default branch of %s/%s: %w", projectKey, slug, err)
	}
	return &b, nil
}

// commits pages a branch's history, newest first. There is no server-side
// time filter; the caller stops at its cutoff.
func (c *Client) commits(projectKey, slug, until string) paginate.FetchFunc[wireCommit] {
	q := url.Values{}
	if until != "" {
		q.Set("until", until)
	}
	return paged[wireCommit](c, RealmCommits, "/projects/"+projectKey+"/repos/"+slug+"/commits", q)
}

// pullRequests pages a repo's pull requests, most recently updated first.
func (c *Client) pullRequests(projectKey, slug string) paginate.FetchFunc[wirePullRequest] {
	q := url.Values{}
	q.Set("state", "ALL")
	q.Set("order", "NEWEST")
	return paged[wirePullRequest](c, RealmPRs, "/projects/"+projectKey+"/repos/"+slug+"/pull-requests", q)
}

func (c *Client) prActivities(projectKey, slug string, id int) paginate.FetchFunc[wireActivity] {
	path := fmt.Sprintf("/projects/%s/repos/%s/pull-requests/%d/activities", projectKey, slug, id)
	return paged[wireActivity](c, RealmPRs, path, nil)
}

func (c *Client) prCommits(projectKey, slug string, id int) paginate.FetchFunc[wireCommit] {
	path := fmt.Sprintf("/projects/%s/repos/%s/pull-requests/%d/commits", projectKey, slug, id)
	return paged[wireCommit](c, RealmPRs, path, nil)
}

func (c *Client) prDiffStats(projectKey, slug string, id int) paginate.FetchFunc[wireDiffStat] {
	path := fmt.Sprintf("/projects/%s/repos/%s/pull-requests/%d/changes", projectKey, slug, id)
	return paged[wireDiffStat](c, RealmPRs, path, nil)
}

// validate checks credentials with the cheapest authenticated call.
func (c *Client) validate(ctx context.Context) error {
	var p page[wireProject]
	q := url.Values{}
	q.Set("limit", "1")
	return c.getJSON(ctx, "", "/projects", q, &p)
}
