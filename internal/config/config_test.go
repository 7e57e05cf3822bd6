package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("parses a full configuration", func(t *testing.T) {
		doc := []byte(`
out_dir = "/var/lib/gitscope"
compress = true
batch_size = 5000
redact_names_and_urls = true

[[git]]
kind = "github"
orgs = ["acme", "acme-labs"]
include_repos = ["api", "web"]
token_env = "ACME_GH_TOKEN"

[git.rate_limits.commits]
max_calls = 500
period_secs = 3600

[[git]]
kind = "bitbucket_server"
base_url = "https://bitbucket.acme.internal"
orgs = ["PLAT"]

[jira]
url = "https://acme.atlassian.net"
include_projects = ["ENG"]
issue_download_concurrent_threads = 4

[upload]
endpoint = "https://api.gitscope.example/agent"
`)

		cfg, err := Parse(doc)

		require.NoError(t, err)
		assert.Equal(t, "/var/lib/gitscope", cfg.OutDir)
		assert.True(t, cfg.Compress)
		assert.Equal(t, 5000, cfg.BatchSize)
		require.Len(t, cfg.Git, 2)

		gh := cfg.Git[0]
		assert.Equal(t, KindGitHub, gh.Kind)
		assert.Equal(t, "ACME_GH_TOKEN", gh.TokenEnv)
		assert.Equal(t, []string{"acme", "acme-labs"}, gh.Orgs)
		require.Contains(t, gh.RateLimits, "commits")
		assert.Equal(t, time.Hour, gh.RateLimits["commits"].Period())

		bb := cfg.Git[1]
		assert.Equal(t, "BITBUCKET_TOKEN", bb.TokenEnv, "default token env")

		require.NotNil(t, cfg.Jira)
		assert.Equal(t, 4, cfg.Jira.DownloadWorkers)
		assert.Equal(t, 100, cfg.Jira.IssueBatchSize, "default batch size")
	})

	t.Run("defaults are applied", func(t *testing.T) {
		doc := []byte(`
[[git]]
kind = "github"
orgs = ["acme"]
`)

		cfg, err := Parse(doc)

		require.NoError(t, err)
		assert.Equal(t, "./output", cfg.OutDir)
		assert.Equal(t, "GITHUB_TOKEN", cfg.Git[0].TokenEnv)
		assert.Equal(t, "GITSCOPE_API_TOKEN", cfg.Upload.TokenEnv)
	})

	t.Run("rejects empty configuration", func(t *testing.T) {
		_, err := Parse([]byte(`out_dir = "/tmp"`))
		assert.ErrorIs(t, err, ErrNoProviders)
	})

	t.Run("rejects unknown provider kind", func(t *testing.T) {
		doc := []byte(`
[[git]]
kind = "sourceforge"
orgs = ["x"]
`)
		_, err := Parse(doc)
		assert.ErrorIs(t, err, ErrBadProviderKind)
	})

	t.Run("rejects git section without orgs", func(t *testing.T) {
		doc := []byte(`
[[git]]
kind = "github"
`)
		_, err := Parse(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "org")
	})

	t.Run("bitbucket requires base_url", func(t *testing.T) {
		doc := []byte(`
[[git]]
kind = "bitbucket_server"
orgs = ["PLAT"]
`)
		_, err := Parse(doc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "base_url")
	})

	t.Run("jira requires url", func(t *testing.T) {
		doc := []byte(`
[jira]
issue_batch_size = 50
`)
		_, err := Parse(doc)
		require.Error(t, err)
	})

	t.Run("malformed toml is an error", func(t *testing.T) {
		_, err := Parse([]byte(`[[git] kind =`))
		require.Error(t, err)
	})
}

func TestGitConfig_Token(t *testing.T) {
	t.Run("reads token from environment", func(t *testing.T) {
		t.Setenv("TEST_GH_TOKEN", "ghp_secret")
		g := GitConfig{TokenEnv: "TEST_GH_TOKEN"}

		token, err := g.Token()

		require.NoError(t, err)
		assert.Equal(t, "ghp_secret", token)
	})

	t.Run("unset variable is a typed error", func(t *testing.T) {
		g := GitConfig{TokenEnv: "TEST_GH_TOKEN_DEFINITELY_UNSET"}

		_, err := g.Token()

		assert.ErrorIs(t, err, ErrMissingCredential)
	})
}
