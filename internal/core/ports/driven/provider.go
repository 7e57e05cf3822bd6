// Package driven defines the interfaces the core services depend on:
// provider adapters, credential sources, and the run ledger. Adapters
// implement these; the core never imports an adapter package.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/gitscope/agent/internal/core/domain"
)

// Provider pulls normalized data from one configured git-hosting instance.
// Each provider kind (github, bitbucket_server) implements this interface.
//
// Commits and PullRequests stream: the items channel is closed when the
// stream ends, after which the error channel yields at most one error and is
// closed. Streams honor context cancellation.
type Provider interface {
	// Kind returns the provider kind identifier.
	Kind() string

	// Validate checks configuration and credentials with a lightweight API
	// call.
	Validate(ctx context.Context) error

	// Users fetches all member accounts visible to the configured
	// organizations/projects.
	Users(ctx context.Context) ([]domain.User, error)

	// Projects fetches the configured organizations/projects.
	Projects(ctx context.Context) ([]domain.Project, error)

	// Repos fetches repositories (with branches) matching the configured
	// include/exclude filters.
	Repos(ctx context.Context) ([]domain.Repo, error)

	// Commits streams default-branch commits committed after since,
	// newest first.
	Commits(ctx context.Context, repo domain.Repo, since time.Time) (<-chan domain.Commit, <-chan error)

	// PullRequests streams pull requests updated after since, newest
	// update first.
	PullRequests(ctx context.Context, repo domain.Repo, since time.Time) (<-chan domain.PullRequest, <-chan error)

	// Close releases resources.
	Close() error
}

// TokenProvider supplies an access token for API authentication.
type TokenProvider interface {
	// GetToken returns a valid access token.
	GetToken(ctx context.Context) (string, error)
}

// TrackerProvider pulls data from an issue tracker instance.
type TrackerProvider interface {
	// Kind returns the tracker kind identifier.
	Kind() string

	// Validate checks configuration and credentials.
	Validate(ctx context.Context) error

	// Users fetches all tracker accounts.
	Users(ctx context.Context) ([]domain.User, error)

	// Issues streams issues updated after since. Pages are downloaded by a
	// worker pool internally; items arrive in no particular order.
	Issues(ctx context.Context, since time.Time) (<-chan domain.Issue, <-chan error)

	// Metadata fetches the tracker's auxiliary datasets (fields,
	// resolutions, issue types, priorities, projects) keyed by dataset
	// name.
	Metadata(ctx context.Context) (map[string]any, error)

	// Close releases resources.
	Close() error
}

// ErrStreamAborted is sent on a stream's error channel when the producer
// stopped before exhausting the remote data.
var ErrStreamAborted = errors.New("stream aborted")
