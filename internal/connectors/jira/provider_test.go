package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/extract/httpclient"
)

func newTestClient(srv *httptest.Server, cfg Config) *Client {
	cfg.BaseURL = srv.URL
	return newClient(httpclient.New(httpclient.WithHTTPClient(srv.Client())), cfg)
}

func newTestProvider(t *testing.T, srv *httptest.Server, cfg Config) *Provider {
	t.Helper()
	return newProviderWithClient(newTestClient(srv, cfg), cfg)
}

func TestProvider_Kind(t *testing.T) {
	p := newProviderWithClient(nil, Config{})
	assert.Equal(t, "jira", p.Kind())
}

func TestProvider_Close(t *testing.T) {
	p := newProviderWithClient(nil, Config{})

	require.NoError(t, p.Close())

	_, err := p.Users(context.Background())
	assert.ErrorIs(t, err, domain.ErrProviderClosed)
}

func TestIssueJQL(t *testing.T) {
	t.Run("no filters and no cutoff", func(t *testing.T) {
		assert.Equal(t, "order by id asc", issueJQL(Config{}, time.Time{}))
	})

	t.Run("cutoff uses minute granularity", func(t *testing.T) {
		since := time.Date(2026, 8, 1, 10, 30, 59, 0, time.UTC)
		got := issueJQL(Config{}, since)
		assert.Equal(t, "updated > '2026-08-01 10:30' order by id asc", got)
	})

	t.Run("project filters combine", func(t *testing.T) {
		cfg := Config{
			IncludeProjects: []string{"ENG", "OPS"},
			ExcludeProjects: []string{"SANDBOX"},
		}
		got := issueJQL(cfg, time.Time{})
		assert.Equal(t, "project in (ENG,OPS) and project not in (SANDBOX) order by id asc", got)
	})
}

func TestNormalizeIssue(t *testing.T) {
	t.Run("lifts identity and updated", func(t *testing.T) {
		issue := wireIssue{
			ID:  "10001",
			Key: "ENG-1",
			Fields: map[string]any{
				"updated": "2026-08-01T10:00:00.000+0000",
				"summary": "fix retries",
			},
		}

		got, err := normalizeIssue(issue)

		require.NoError(t, err)
		assert.Equal(t, "10001", got.ID)
		assert.Equal(t, "ENG-1", got.Key)
		assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), got.UpdatedAt)
		assert.Equal(t, "fix retries", got.Fields["summary"])
	})

	t.Run("missing updated field is an error", func(t *testing.T) {
		_, err := normalizeIssue(wireIssue{Key: "ENG-2", Fields: map[string]any{}})
		assert.Error(t, err)
	})

	t.Run("unparsable updated field is an error", func(t *testing.T) {
		_, err := normalizeIssue(wireIssue{Key: "ENG-3", Fields: map[string]any{"updated": "yesterday"}})
		assert.Error(t, err)
	})
}

func TestNormalizeUser(t *testing.T) {
	t.Run("cloud account", func(t *testing.T) {
		got := normalizeUser(wireUser{AccountID: "abc123", DisplayName: "Alice", EmailAddress: "alice@acme.dev"})

		assert.Equal(t, "abc123", got.ID)
		assert.Equal(t, "abc123", got.Login)
		assert.Equal(t, "Alice", got.Name)
	})

	t.Run("server account", func(t *testing.T) {
		got := normalizeUser(wireUser{Key: "alice", Name: "alice", DisplayName: "Alice"})

		assert.Equal(t, "alice", got.ID)
		assert.Equal(t, "alice", got.Login)
	})
}

// issueServer serves a deterministic /search over the given issue count,
// tracking which offsets were requested.
func issueServer(t *testing.T, total int) (*httptest.Server, *sync.Map) {
	t.Helper()

	var requested sync.Map
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		requested.Store(startAt, true)

		result := searchResult{StartAt: startAt, MaxResults: maxResults, Total: total}
		for i := startAt; i < total && i < startAt+maxResults; i++ {
			result.Issues = append(result.Issues, wireIssue{
				ID:  strconv.Itoa(10000 + i),
				Key: fmt.Sprintf("ENG-%d", i),
				Fields: map[string]any{
					"updated": "2026-08-01T10:00:00.000+0000",
				},
			})
		}
		// The cancellation subtest aborts the connection mid-response, so a
		// write error here is expected and must not fail the test.
		_ = json.NewEncoder(w).Encode(result)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &requested
}

func TestProvider_Issues(t *testing.T) {
	t.Run("workers cover the whole result set exactly once", func(t *testing.T) {
		const total = 250
		srv, requested := issueServer(t, total)
		p := newTestProvider(t, srv, Config{DownloadWorkers: 4, IssueBatchSize: 50})

		items, errs := p.Issues(context.Background(), time.Time{})

		seen := make(map[string]int)
		for issue := range items {
			seen[issue.Key]++
		}
		require.NoError(t, <-errs)

		assert.Len(t, seen, total)
		for key, n := range seen {
			assert.Equal(t, 1, n, "issue %s delivered more than once", key)
		}

		// Every batch offset was claimed by exactly one worker.
		for start := 0; start < total; start += 50 {
			_, ok := requested.Load(start)
			assert.True(t, ok, "offset %d never requested", start)
		}
	})

	t.Run("empty result closes the stream cleanly", func(t *testing.T) {
		srv, _ := issueServer(t, 0)
		p := newTestProvider(t, srv, Config{DownloadWorkers: 2, IssueBatchSize: 50})

		items, errs := p.Issues(context.Background(), time.Time{})

		for range items {
			t.Fatal("no items expected")
		}
		assert.NoError(t, <-errs)
	})

	t.Run("search failure surfaces one error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		p := newTestProvider(t, srv, Config{DownloadWorkers: 2})

		items, errs := p.Issues(context.Background(), time.Time{})

		for range items {
			t.Fatal("no items expected")
		}
		err := <-errs
		require.Error(t, err)
		var statusErr *httpclient.StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.Code)
	})

	t.Run("cancellation stops the pool", func(t *testing.T) {
		srv, _ := issueServer(t, 10_000)
		p := newTestProvider(t, srv, Config{DownloadWorkers: 2, IssueBatchSize: 100})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		items, errs := p.Issues(ctx, time.Time{})

		count := 0
		for range items {
			count++
			if count == 50 {
				cancel()
			}
		}
		err := <-errs
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestProvider_Metadata(t *testing.T) {
	mux := http.NewServeMux()
	for _, path := range []string{"/field", "/resolution", "/issuetype", "/priority", "/issueLinkType", "/project"} {
		p := path
		mux.HandleFunc("/rest/api/2"+p, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `[{"id": "1", "name": "from %s"}]`, p)
		})
	}
	mux.HandleFunc("/rest/agile/1.0/board", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"isLast": true, "values": [{"id": 4, "name": "ENG board", "type": "scrum"}]}`)
	})
	mux.HandleFunc("/rest/agile/1.0/board/4/sprint", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"isLast": true, "values": [{"id": 9, "name": "Sprint 1"}, {"id": 10, "name": "Sprint 2"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	p := newTestProvider(t, srv, Config{})

	meta, err := p.Metadata(context.Background())

	require.NoError(t, err)
	assert.Len(t, meta, len(metadataEndpoints)+2)
	require.Contains(t, meta, "fields")
	require.Contains(t, meta, "projects")

	boards, ok := meta["boards"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, boards, 1)
	assert.Equal(t, "ENG board", boards[0]["name"])

	sprints, ok := meta["sprints"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, sprints, 2)
}

func TestAgileList(t *testing.T) {
	t.Run("pages until isLast", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/rest/agile/1.0/board", func(w http.ResponseWriter, r *http.Request) {
			start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
			if start == 0 {
				fmt.Fprint(w, `{"isLast": false, "values": [{"id": 1}, {"id": 2}]}`)
				return
			}
			fmt.Fprint(w, `{"isLast": true, "values": [{"id": 3}]}`)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()
		c := newTestClient(srv, Config{})

		boards, err := c.agileList(context.Background(), "/board", 2)

		require.NoError(t, err)
		assert.Len(t, boards, 3)
	})

	t.Run("missing agile API reads as no data", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		c := newTestClient(srv, Config{})

		boards, err := c.agileList(context.Background(), "/board", 50)

		require.NoError(t, err)
		assert.Empty(t, boards)
	})

	t.Run("kanban board rejecting sprints reads as no data", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "board does not support sprints", http.StatusBadRequest)
		}))
		defer srv.Close()
		c := newTestClient(srv, Config{})

		sprints, err := c.agileList(context.Background(), "/board/7/sprint", 50)

		require.NoError(t, err)
		assert.Empty(t, sprints)
	})
}

func TestProvider_Users(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/users/search", func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		if start == 0 {
			fmt.Fprint(w, `[{"accountId": "a1", "displayName": "Alice"}, {"accountId": "b2", "displayName": "Bob"}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	p := newTestProvider(t, srv, Config{})

	users, err := p.Users(context.Background())

	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Name)
}
