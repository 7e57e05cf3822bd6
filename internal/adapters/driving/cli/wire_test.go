package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitscope/agent/internal/config"
	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/extract/ratelimit"
)

func TestStaticToken(t *testing.T) {
	t.Run("returns the token", func(t *testing.T) {
		token, err := staticToken("tok-123").GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-123", token)
	})

	t.Run("empty token is an error", func(t *testing.T) {
		_, err := staticToken("").GetToken(context.Background())
		assert.ErrorIs(t, err, domain.ErrAuthRequired)
	})
}

func TestGitPrefix(t *testing.T) {
	counts := map[string]int{}

	assert.Equal(t, "gh", gitPrefix(config.KindGitHub, counts))
	assert.Equal(t, "bb", gitPrefix(config.KindBitbucketServer, counts))
	assert.Equal(t, "gh2", gitPrefix(config.KindGitHub, counts), "second instance of a kind is numbered")
	assert.Equal(t, "bb2", gitPrefix(config.KindBitbucketServer, counts))
}

func TestRealmConfigs(t *testing.T) {
	t.Run("empty map stays nil", func(t *testing.T) {
		assert.Nil(t, realmConfigs(nil))
		assert.Nil(t, realmConfigs(map[string]config.RealmLimit{}))
	})

	t.Run("limits convert with periods in seconds", func(t *testing.T) {
		got := realmConfigs(map[string]config.RealmLimit{
			"commits": {MaxCalls: 500, PeriodSecs: 3600},
		})
		assert.Equal(t, map[string]ratelimit.RealmConfig{
			"commits": {MaxCalls: 500, Period: time.Hour},
		}, got)
	})
}

func TestBuildGitSources(t *testing.T) {
	t.Run("github instance", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "tok")
		cfg, err := config.Parse([]byte(`
[[git]]
kind = "github"
orgs = ["acme"]
`))
		require.NoError(t, err)

		sources, closer, err := buildGitSources(context.Background(), cfg)
		require.NoError(t, err)
		defer closer()

		require.Len(t, sources, 1)
		assert.Equal(t, "github", sources[0].Provider.Kind())
		assert.Equal(t, "gh", sources[0].Prefix)
	})

	t.Run("missing token fails", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		cfg, err := config.Parse([]byte(`
[[git]]
kind = "github"
orgs = ["acme"]
`))
		require.NoError(t, err)

		_, _, err = buildGitSources(context.Background(), cfg)
		assert.ErrorIs(t, err, config.ErrMissingCredential)
	})
}

func TestBuildTracker(t *testing.T) {
	t.Run("no jira section yields nil", func(t *testing.T) {
		cfg, err := config.Parse([]byte(`
[[git]]
kind = "github"
orgs = ["acme"]
`))
		require.NoError(t, err)

		tracker, err := buildTracker(cfg)
		require.NoError(t, err)
		assert.Nil(t, tracker)
	})

	t.Run("jira section builds a tracker", func(t *testing.T) {
		t.Setenv("JIRA_USERNAME", "bot@acme.example")
		t.Setenv("JIRA_TOKEN", "tok")
		cfg, err := config.Parse([]byte(`
[jira]
url = "https://acme.atlassian.net"
`))
		require.NoError(t, err)

		tracker, err := buildTracker(cfg)
		require.NoError(t, err)
		require.NotNil(t, tracker)
		defer func() { _ = tracker.Close() }()
		assert.Equal(t, "jira", tracker.Kind())
	})
}
