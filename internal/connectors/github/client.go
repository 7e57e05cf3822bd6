package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"

	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/extract/httpclient"
	"github.com/gitscope/agent/internal/extract/paginate"
	"github.com/gitscope/agent/internal/extract/ratelimit"
)

// DefaultTimeout is the HTTP request timeout for API calls.
const DefaultTimeout = 30 * time.Second

// perPage is the page size for all list calls.
const perPage = 100

// Client wraps the go-github client with the realm limiter and the adaptive
// quota throttle. Every API call goes through call, which layers the two.
type Client struct {
	gh            *gh.Client
	tokenProvider driven.TokenProvider
	limiter       *ratelimit.Limiter
	throttle      *throttle
	realms        map[string]struct{}
	baseURL       string
}

// NewClient creates a GitHub API client. Realm budgets come from cfg; realms
// without a configured budget fall back to the quota throttle alone.
func NewClient(tokenProvider driven.TokenProvider, cfg Config) *Client {
	known := make(map[string]struct{}, len(cfg.Realms))
	for name := range cfg.Realms {
		known[name] = struct{}{}
	}
	return &Client{
		tokenProvider: tokenProvider,
		limiter:       ratelimit.New(cfg.Realms),
		throttle:      newThrottle(),
		realms:        known,
		baseURL:       cfg.BaseURL,
	}
}

// NewClientWithHTTPClient creates a client on an existing http.Client. Used
// by tests to point at a local server.
func NewClientWithHTTPClient(httpClient *http.Client, cfg Config) (*Client, error) {
	known := make(map[string]struct{}, len(cfg.Realms))
	for name := range cfg.Realms {
		known[name] = struct{}{}
	}
	c := &Client{
		limiter:  ratelimit.New(cfg.Realms),
		throttle: newThrottle(),
		realms:   known,
		baseURL:  cfg.BaseURL,
	}
	var err error
	c.gh, err = newGHClient(httpClient, cfg.BaseURL)
	return c, err
}

// ensureClient initializes the go-github client lazily, so the token is only
// fetched when the first call happens.
func (c *Client) ensureClient(ctx context.Context) error {
	if c.gh != nil {
		return nil
	}

	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = DefaultTimeout

	c.gh, err = newGHClient(tc, c.baseURL)
	return err
}

func newGHClient(httpClient *http.Client, baseURL string) (*gh.Client, error) {
	if baseURL == "" {
		return gh.NewClient(httpClient), nil
	}
	client, err := gh.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("enterprise base url %q: %w", baseURL, err)
	}
	return client, nil
}

// call runs one API call under the realm limiter and the quota throttle, and
// records the quota headers from the response.
func (c *Client) call(ctx context.Context, realm string, fn func() (*gh.Response, error)) error {
	if err := c.ensureClient(ctx); err != nil {
		return err
	}

	// Realms without a configured budget bypass the realm limiter; the
	// throttle still governs them.
	if _, ok := c.realms[realm]; !ok {
		realm = ""
	}

	return c.limiter.Do(ctx, realm, func() error {
		if err := c.throttle.wait(ctx); err != nil {
			return err
		}
		resp, err := fn()
		c.throttle.update(resp)
		return wrapError(err)
	})
}

// wrapError converts go-github errors into the shared status error type, so
// callers can classify them without importing go-github.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return &httpclient.StatusError{
			Code:    http.StatusTooManyRequests,
			Message: rateErr.Message,
		}
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &httpclient.StatusError{
			Code:    http.StatusTooManyRequests,
			Message: "abuse detection triggered",
		}
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		statusErr := &httpclient.StatusError{
			Code:    ghErr.Response.StatusCode,
			Message: ghErr.Message,
		}
		if ghErr.Response.Request != nil && ghErr.Response.Request.URL != nil {
			statusErr.URL = ghErr.Response.Request.URL.String()
		}
		return statusErr
	}
	return err
}

// nextCursor maps a go-github response to a page cursor.
func nextCursor(resp *gh.Response) paginate.Cursor {
	if resp == nil || resp.NextPage == 0 {
		return paginate.End()
	}
	return paginate.Offset(resp.NextPage)
}

// pageOf returns the page number a cursor addresses, defaulting to the first
// page.
func pageOf(cursor paginate.Cursor) int {
	if page := cursor.OffsetValue(); page > 0 {
		return page
	}
	return 1
}

// orgMembers returns a fetcher over an organization's member stubs.
func (c *Client) orgMembers(org string) paginate.FetchFunc[*gh.User] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.User, paginate.Cursor, error) {
		opts := &gh.ListMembersOptions{
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			members []*gh.User
			resp    *gh.Response
		)
		err := c.call(ctx, RealmUsers, func() (*gh.Response, error) {
			var callErr error
			members, resp, callErr = c.gh.Organizations.ListMembers(ctx, org, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list members of %s: %w", org, err)
		}
		return members, nextCursor(resp), nil
	}
}

// fullUser resolves a member stub into the full account record, which
// carries name and email.
func (c *Client) fullUser(ctx context.Context, login string) (*gh.User, error) {
	var user *gh.User
	err := c.call(ctx, RealmUsers, func() (*gh.Response, error) {
		var resp *gh.Response
		var callErr error
		user, resp, callErr = c.gh.Users.Get(ctx, login)
		return resp, callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", login, err)
	}
	return user, nil
}

// organization fetches one organization record.
func (c *Client) organization(ctx context.Context, org string) (*gh.Organization, error) {
	var result *gh.Organization
	err := c.call(ctx, RealmRepos, func() (*gh.Response, error) {
		var resp *gh.Response
		var callErr error
		result, resp, callErr = c.gh.Organizations.Get(ctx, org)
		return resp, callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get org %s: %w", org, err)
	}
	return result, nil
}

// orgRepos returns a fetcher over an organization's repositories.
func (c *Client) orgRepos(org string) paginate.FetchFunc[*gh.Repository] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.Repository, paginate.Cursor, error) {
		opts := &gh.RepositoryListByOrgOptions{
			Sort:        "full_name",
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			repos []*gh.Repository
			resp  *gh.Response
		)
		err := c.call(ctx, RealmRepos, func() (*gh.Response, error) {
			var callErr error
			repos, resp, callErr = c.gh.Repositories.ListByOrg(ctx, org, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list repos of %s: %w", org, err)
		}
		return repos, nextCursor(resp), nil
	}
}

// branches returns a fetcher over a repository's branches.
func (c *Client) branches(owner, repo string) paginate.FetchFunc[*gh.Branch] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.Branch, paginate.Cursor, error) {
		opts := &gh.BranchListOptions{
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			branches []*gh.Branch
			resp     *gh.Response
		)
		err := c.call(ctx, RealmBranches, func() (*gh.Response, error) {
			var callErr error
			branches, resp, callErr = c.gh.Repositories.ListBranches(ctx, owner, repo, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list branches of %s/%s: %w", owner, repo, err)
		}
		return branches, nextCursor(resp), nil
	}
}

// commits returns a fetcher over a branch's commits committed after since,
// newest first.
func (c *Client) commits(owner, repo, branch string, since time.Time) paginate.FetchFunc[*gh.RepositoryCommit] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.RepositoryCommit, paginate.Cursor, error) {
		opts := &gh.CommitsListOptions{
			SHA:         branch,
			Since:       since,
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			commits []*gh.RepositoryCommit
			resp    *gh.Response
		)
		err := c.call(ctx, RealmCommits, func() (*gh.Response, error) {
			var callErr error
			commits, resp, callErr = c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list commits of %s/%s: %w", owner, repo, err)
		}
		return commits, nextCursor(resp), nil
	}
}

// pullRequests returns a fetcher over a repository's pull requests, most
// recently updated first. The caller stops the iteration once it crosses its
// cutoff.
func (c *Client) pullRequests(owner, repo string) paginate.FetchFunc[*gh.PullRequest] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.PullRequest, paginate.Cursor, error) {
		opts := &gh.PullRequestListOptions{
			State:       "all",
			Sort:        "updated",
			Direction:   "desc",
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			prs  []*gh.PullRequest
			resp *gh.Response
		)
		err := c.call(ctx, RealmPRs, func() (*gh.Response, error) {
			var callErr error
			prs, resp, callErr = c.gh.PullRequests.List(ctx, owner, repo, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list pull requests of %s/%s: %w", owner, repo, err)
		}
		return prs, nextCursor(resp), nil
	}
}

// fullPullRequest fetches the full PR record, which carries the diff stats
// the list endpoint omits.
func (c *Client) fullPullRequest(ctx context.Context, owner, repo string, number int) (*gh.PullRequest, error) {
	var pr *gh.PullRequest
	err := c.call(ctx, RealmPRs, func() (*gh.Response, error) {
		var resp *gh.Response
		var callErr error
		pr, resp, callErr = c.gh.PullRequests.Get(ctx, owner, repo, number)
		return resp, callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return pr, nil
}

// prComments returns a fetcher over a pull request's issue comments.
func (c *Client) prComments(owner, repo string, number int) paginate.FetchFunc[*gh.IssueComment] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.IssueComment, paginate.Cursor, error) {
		opts := &gh.IssueListCommentsOptions{
			ListOptions: gh.ListOptions{Page: pageOf(cursor), PerPage: perPage},
		}
		var (
			comments []*gh.IssueComment
			resp     *gh.Response
		)
		err := c.call(ctx, RealmPRs, func() (*gh.Response, error) {
			var callErr error
			comments, resp, callErr = c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list comments of %s/%s#%d: %w", owner, repo, number, err)
		}
		return comments, nextCursor(resp), nil
	}
}

// prReviews returns a fetcher over a pull request's reviews.
func (c *Client) prReviews(owner, repo string, number int) paginate.FetchFunc[*gh.PullRequestReview] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.PullRequestReview, paginate.Cursor, error) {
		opts := &gh.ListOptions{Page: pageOf(cursor), PerPage: perPage}
		var (
			reviews []*gh.PullRequestReview
			resp    *gh.Response
		)
		err := c.call(ctx, RealmPRs, func() (*gh.Response, error) {
			var callErr error
			reviews, resp, callErr = c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list reviews of %s/%s#%d: %w", owner, repo, number, err)
		}
		return reviews, nextCursor(resp), nil
	}
}

// prCommits returns a fetcher over a pull request's commits.
func (c *Client) prCommits(owner, repo string, number int) paginate.FetchFunc[*gh.RepositoryCommit] {
	return func(ctx context.Context, cursor paginate.Cursor) ([]*gh.RepositoryCommit, paginate.Cursor, error) {
		opts := &gh.ListOptions{Page: pageOf(cursor), PerPage: perPage}
		var (
			commits []*gh.RepositoryCommit
			resp    *gh.Response
		)
		err := c.call(ctx, RealmPRs, func() (*gh.Response, error) {
			var callErr error
			commits, resp, callErr = c.gh.PullRequests.ListCommits(ctx, owner, repo, number, opts)
			return resp, callErr
		})
		if err != nil {
			return nil, paginate.End(), fmt.Errorf("list commits of %s/%s#%d: %w", owner, repo, number, err)
		}
		return commits, nextCursor(resp), nil
	}
}

// validate checks credentials with the cheapest authenticated call.
func (c *Client) validate(ctx context.Context) error {
	return c.call(ctx, "", func() (*gh.Response, error) {
		_, resp, err := c.gh.Users.Get(ctx, "")
		return resp, err
	})
}
