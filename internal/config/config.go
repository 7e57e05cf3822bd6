// Package config loads and validates the agent's TOML configuration file.
// Credentials never live in the file itself; each provider names the
// environment variable its token is read from.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Provider kinds accepted in [[git]] blocks.
const (
	KindGitHub          = "github"
	KindBitbucketServer = "bitbucket_server"
)

// Configuration errors.
var (
	// ErrNoProviders indicates the file configures neither git nor tracker
	// instances.
	ErrNoProviders = errors.New("config: at least one git or jira section is required")

	// ErrBadProviderKind indicates an unknown kind in a [[git]] block.
	ErrBadProviderKind = errors.New("config: unknown git provider kind")

	// ErrMissingCredential indicates a provider's token environment
	// variable is unset or empty.
	ErrMissingCredential = errors.New("config: missing credential")
)

// Config is the root of the agent configuration file.
type Config struct {
	// OutDir is the base directory batch files are written beneath; each
	// run creates a timestamped subdirectory.
	OutDir string `toml:"out_dir"`

	// Compress gzips all batch files.
	Compress bool `toml:"compress"`

	// BatchSize caps records per batch file. Zero writes one file per data
	// kind.
	BatchSize int `toml:"batch_size"`

	// RedactNames replaces branch/repo/project names and strips URLs in
	// the output.
	RedactNames bool `toml:"redact_names_and_urls"`

	// StripTextContent drops commit messages and PR bodies, keeping only
	// their lengths.
	StripTextContent bool `toml:"strip_text_content"`

	Git    []GitConfig `toml:"git"`
	Jira   *JiraConfig `toml:"jira"`
	Upload UploadConfig `toml:"upload"`
}

// GitConfig configures one git-hosting instance.
type GitConfig struct {
	// Kind selects the provider adapter: github or bitbucket_server.
	Kind string `toml:"kind"`

	// BaseURL overrides the API endpoint (required for self-hosted
	// instances; empty means the provider's public API).
	BaseURL string `toml:"base_url"`

	// Orgs are the organizations (GitHub) or project keys (Bitbucket) to
	// pull.
	Orgs []string `toml:"orgs"`

	// IncludeRepos restricts extraction to the named repositories. Empty
	// means all.
	IncludeRepos []string `toml:"include_repos"`

	// ExcludeRepos skips the named repositories.
	ExcludeRepos []string `toml:"exclude_repos"`

	// TokenEnv names the environment variable holding the access token.
	// Defaults per kind: GITHUB_TOKEN or BITBUCKET_TOKEN.
	TokenEnv string `toml:"token_env"`

	// RateLimits overrides per-realm call budgets.
	RateLimits map[string]RealmLimit `toml:"rate_limits"`
}

// RealmLimit is a per-realm rate limit override.
type RealmLimit struct {
	MaxCalls   int `toml:"max_calls"`
	PeriodSecs int `toml:"period_secs"`
}

// Period returns the realm window as a duration.
func (r RealmLimit) Period() time.Duration {
	return time.Duration(r.PeriodSecs) * time.Second
}

// JiraConfig configures the issue tracker instance.
type JiraConfig struct {
	URL      string `toml:"url"`
	UserEnv  string `toml:"user_env"`
	TokenEnv string `toml:"token_env"`

	// IncludeProjects restricts issue download to the named project keys.
	IncludeProjects []string `toml:"include_projects"`

	// ExcludeProjects skips the named project keys.
	ExcludeProjects []string `toml:"exclude_projects"`

	// DownloadWorkers is the size of the parallel issue download pool.
	DownloadWorkers int `toml:"issue_download_concurrent_threads"`

	// IssueBatchSize is the page size for issue search requests.
	IssueBatchSize int `toml:"issue_batch_size"`
}

// UploadConfig configures the upload endpoint for produced batch files.
type UploadConfig struct {
	// Endpoint is the base URL batches are POSTed to. Empty disables
	// upload (download-only mode).
	Endpoint string `toml:"endpoint"`

	// TokenEnv names the environment variable holding the API token.
	// Defaults to GITSCOPE_API_TOKEN.
	TokenEnv string `toml:"token_env"`
}

// Defaults applied after parsing.
const (
	defaultJiraWorkers    = 10
	defaultIssueBatchSize = 100
)

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutDir == "" {
		c.OutDir = "./output"
	}
	for i := range c.Git {
		if c.Git[i].TokenEnv == "" {
			switch c.Git[i].Kind {
			case KindBitbucketServer:
				c.Git[i].TokenEnv = "BITBUCKET_TOKEN"
			default:
				c.Git[i].TokenEnv = "GITHUB_TOKEN"
			}
		}
	}
	if c.Jira != nil {
		if c.Jira.UserEnv == "" {
			c.Jira.UserEnv = "JIRA_USERNAME"
		}
		if c.Jira.TokenEnv == "" {
			c.Jira.TokenEnv = "JIRA_TOKEN"
		}
		if c.Jira.DownloadWorkers <= 0 {
			c.Jira.DownloadWorkers = defaultJiraWorkers
		}
		if c.Jira.IssueBatchSize <= 0 {
			c.Jira.IssueBatchSize = defaultIssueBatchSize
		}
	}
	if c.Upload.TokenEnv == "" {
		c.Upload.TokenEnv = "GITSCOPE_API_TOKEN"
	}
}

// Validate checks the configuration for structural problems. Credential
// presence is checked separately via Token, since download-only runs may
// not need every credential.
func (c *Config) Validate() error {
	if len(c.Git) == 0 && c.Jira == nil {
		return ErrNoProviders
	}

	for i, g := range c.Git {
		switch g.Kind {
		case KindGitHub, KindBitbucketServer:
		default:
			return fmt.Errorf("%w: %q (git #%d)", ErrBadProviderKind, g.Kind, i+1)
		}
		if len(g.Orgs) == 0 {
			return fmt.Errorf("config: git #%d (%s) must list at least one org", i+1, g.Kind)
		}
		if g.Kind == KindBitbucketServer && g.BaseURL == "" {
			return fmt.Errorf("config: git #%d: bitbucket_server requires base_url", i+1)
		}
	}

	if c.Jira != nil && c.Jira.URL == "" {
		return fmt.Errorf("config: jira section requires url")
	}
	return nil
}

// Token reads the provider's access token from its environment variable.
func (g GitConfig) Token() (string, error) {
	return tokenFromEnv(g.TokenEnv)
}

// Credentials reads the tracker's user and token from the environment.
func (j JiraConfig) Credentials() (user, token string, err error) {
	user = os.Getenv(j.UserEnv)
	token, err = tokenFromEnv(j.TokenEnv)
	return user, token, err
}

// Token reads the upload API token from its environment variable.
func (u UploadConfig) Token() (string, error) {
	return tokenFromEnv(u.TokenEnv)
}

func tokenFromEnv(name string) (string, error) {
	token := os.Getenv(name)
	if token == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrMissingCredential, name)
	}
	return token, nil
}
