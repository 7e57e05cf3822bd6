package jira

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gitscope/agent/internal/extract/httpclient"
	"github.com/gitscope/agent/internal/extract/ratelimit"
)

// API prefixes on a Jira instance.
const (
	apiRoot   = "/rest/api/2"
	agileRoot = "/rest/agile/1.0"
)

// jiraTimeLayout is the timestamp format Jira uses in issue fields.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// Config drives one Jira provider instance.
type Config struct {
	// BaseURL is the instance root, e.g. https://acme.atlassian.net.
	BaseURL string

	// IncludeProjects restricts issue download to the named project keys.
	IncludeProjects []string

	// ExcludeProjects skips the named project keys.
	ExcludeProjects []string

	// DownloadWorkers is the size of the parallel issue download pool.
	DownloadWorkers int

	// IssueBatchSize is the page size for issue search requests.
	IssueBatchSize int

	// Realms overrides per-realm call budgets.
	Realms map[string]ratelimit.RealmConfig
}

// Realm names used by the Jira client.
const (
	RealmSearch   = "search"
	RealmMetadata = "metadata"
)

// basicAuth authenticates requests with a username and API token.
type basicAuth struct {
	user  string
	token string
}

func (a *basicAuth) Apply(req *http.Request) error {
	cred := base64.StdEncoding.EncodeToString([]byte(a.user + ":" + a.token))
	req.Header.Set("Authorization", "Basic "+cred)
	return nil
}

func (a *basicAuth) Reset(_ context.Context) error { return nil }

// Client issues authenticated, rate-limited calls against one Jira instance.
type Client struct {
	http    *httpclient.Client
	limiter *ratelimit.Limiter
	realms  map[string]struct{}
	base    string
}

// NewClient creates a Jira API client using basic auth (email + API token
// for cloud, username + token for server).
func NewClient(user, token string, cfg Config) *Client {
	h := httpclient.New(httpclient.WithAuthenticator(&basicAuth{user: user, token: token}))
	return newClient(h, cfg)
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

func (c *Client) getJSON(ctx context.Context, realm, path string, query url.Values, v any) error {
	return c.getRootJSON(ctx, realm, apiRoot, path, query, v)
}

func (c *Client) getRootJSON(ctx context.Context, realm, root, path string, query url.Values, v any) error {
	u := c.base + root + path
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

// serverInfo is the cheapest authenticated call, used for validation.
func (c *Client) serverInfo(ctx context.Context) error {
	var v map[string]any
	return c.getJSON(ctx, RealmMetadata, "/serverInfo", nil, &v)
}

// metadataList fetches one of the flat metadata endpoints (field,
// resolution, issuetype, priority, issueLinkType behave identically).
func (c *Client) metadataList(ctx context.Context, path string) (any, error) {
	var v any
	if err := c.getJSON(ctx, RealmMetadata, path, nil, &v); err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return v, nil
}

// agilePage is the response envelope of the agile API's paged endpoints.
type agilePage struct {
	MaxResults int              `json:"maxResults"`
	StartAt    int              `json:"startAt"`
	IsLast     bool             `json:"isLast"`
	Values     []map[string]any `json:"values"`
}

// agileList pages through an agile endpoint (boards, or one board's
// sprints). Instances without Jira Software return 404; kanban boards
// reject the sprint endpoint with 400. Both read as "no data".
func (c *Client) agileList(ctx context.Context, path string, pageSize int) ([]map[string]any, error) {
	var all []map[string]any
	for start := 0; ; {
		q := url.Values{}
		q.Set("startAt", strconv.Itoa(start))
		q.Set("maxResults", strconv.Itoa(pageSize))

		var page agilePage
		if err := c.getRootJSON(ctx, RealmMetadata, agileRoot, path, q, &page); err != nil {
			var statusErr *httpclient.StatusError
			if errors.As(err, &statusErr) &&
				(statusErr.Code == http.StatusBadRequest || statusErr.Code == http.StatusNotFound) {
				return all, nil
			}
			return nil, fmt.Errorf("get %s: %w", path, err)
		}

		all = append(all, page.Values...)
		if page.IsLast || len(page.Values) == 0 {
			return all, nil
		}
		start += len(page.Values)
	}
}

// wireUser is a Jira account, cloud or server flavored.
type wireUser struct {
	AccountID    string `json:"accountId"`
	Key          string `json:"key"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// users pages through all visible accounts.
func (c *Client) users(ctx context.Context, pageSize int) ([]wireUser, error) {
	var all []wireUser
	for start := 0; ; start += pageSize {
		q := url.Values{}
		q.Set("query", "")
		q.Set("startAt", strconv.Itoa(start))
		q.Set("maxResults", strconv.Itoa(pageSize))

		var page []wireUser
		if err := c.getJSON(ctx, RealmMetadata, "/users/search", q, &page); err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// wireIssue is the slice of an issue the agent reads; the full field map is
// carried through untouched.
type wireIssue struct {
	ID     string         `json:"id"`
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields"`
}

// searchResult is the /search response envelope.
type searchResult struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []wireIssue `json:"issues"`
}

// issueJQL builds the incremental search clause. Jira's "updated" operator
// has minute granularity.
func issueJQL(cfg Config, since time.Time) string {
	var clauses []string
	if len(cfg.IncludeProjects) > 0 {
		clauses = append(clauses, fmt.Sprintf("project in (%s)", strings.Join(cfg.IncludeProjects, ",")))
	}
	if len(cfg.ExcludeProjects) > 0 {
		clauses = append(clauses, fmt.Sprintf("project not in (%s)", strings.Join(cfg.ExcludeProjects, ",")))
	}
	if !since.IsZero() {
		clauses = append(clauses, fmt.Sprintf("updated > '%s'", since.UTC().Format("2006-01-02 15:04")))
	}
	jql := strings.Join(clauses, " and ")
	if jql != "" {
		jql += " "
	}
	return jql + "order by id asc"
}

// searchIssues fetches one page of the search. maxResults zero probes the
// total without downloading issues.
func (c *Client) searchIssues(ctx context.Context, jql string, startAt, maxResults int) (*searchResult, error) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "*all")

	var result searchResult
	if err := c.getJSON(ctx, RealmSearch, "/search", q, &result); err != nil {
		return nil, fmt.Errorf("search issues at %d: %w", startAt, err)
	}
	return &result, nil
}
