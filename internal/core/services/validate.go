package services

import (
	"context"

	"github.com/gitscope/agent/internal/core/ports/driven"
)

// ValidationResult is the outcome of checking one configured provider.
type ValidationResult struct {
	Name string
	Err  error
}

// OK reports whether the check passed.
func (r ValidationResult) OK() bool { return r.Err == nil }

// ValidateService checks configuration and credentials for every configured
// provider without extracting anything.
type ValidateService struct {
	git     []GitSource
	tracker driven.TrackerProvider
}

// NewValidateService creates a ValidateService. tracker may be nil.
func NewValidateService(git []GitSource, tracker driven.TrackerProvider) *ValidateService {
	return &ValidateService{git: git, tracker: tracker}
}

// Validate checks every provider and returns one result each. It never stops
// early: a broken credential on one provider must not hide problems on the
// others.
func (s *ValidateService) Validate(ctx context.Context) []ValidationResult {
	var results []ValidationResult
	for _, src := range s.git {
		results = append(results, ValidationResult{
			Name: src.Provider.Kind(),
			Err:  src.Provider.Validate(ctx),
		})
	}
	if s.tracker != nil {
		results = append(results, ValidationResult{
			Name: s.tracker.Kind(),
			Err:  s.tracker.Validate(ctx),
		})
	}
	return results
}
