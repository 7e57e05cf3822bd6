package github

import "github.com/gitscope/agent/internal/extract/ratelimit"

// Config drives one GitHub provider instance.
type Config struct {
	// BaseURL points at a GitHub Enterprise API root. Empty means
	// api.github.com.
	BaseURL string

	// Orgs are the organizations to pull.
	Orgs []string

	// IncludeRepos restricts extraction to the named repositories. Empty
	// means all.
	IncludeRepos []string

	// ExcludeRepos skips the named repositories.
	ExcludeRepos []string

	// RedactNames replaces repo/branch/project names with stable
	// placeholders and drops URLs from the output.
	RedactNames bool

	// StripTextContent reduces commit messages and PR text to the issue
	// keys they mention.
	StripTextContent bool

	// Realms overrides per-realm call budgets. Realms without an entry are
	// governed only by the adaptive quota throttle.
	Realms map[string]ratelimit.RealmConfig
}

// Realm names used by the GitHub client.
const (
	RealmUsers    = "users"
	RealmRepos    = "repos"
	RealmBranches = "branches"
	RealmCommits  = "commits"
	RealmPRs      = "prs"
)
