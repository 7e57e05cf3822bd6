package domain

import "errors"

// Domain errors represent business logic failures, distinct from transport
// errors raised by the extraction engine.
var (
	// ErrNoProjects indicates no projects/organizations were found. Usually
	// a token with insufficient access.
	ErrNoProjects = errors.New("no projects found")

	// ErrNoRepos indicates no repositories matched the configured filters.
	ErrNoRepos = errors.New("no repositories found")

	// ErrAuthRequired indicates a provider requires credentials but none
	// were configured.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthInvalid indicates the configured credentials were rejected.
	ErrAuthInvalid = errors.New("authentication invalid")

	// ErrProviderClosed indicates the provider adapter has been closed.
	ErrProviderClosed = errors.New("provider closed")

	// ErrUnsupportedProvider indicates an unknown provider kind in the
	// configuration.
	ErrUnsupportedProvider = errors.New("unsupported provider")
)
