package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gitscope/agent/internal/config"
	"github.com/gitscope/agent/internal/connectors/bitbucket"
	"github.com/gitscope/agent/internal/connectors/github"
	"github.com/gitscope/agent/internal/connectors/jira"
	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/core/services"
	"github.com/gitscope/agent/internal/extract/ratelimit"
	"github.com/gitscope/agent/internal/logger"
)

// staticToken adapts a fixed token string to the TokenProvider port.
type staticToken string

// GetToken returns the token.
func (t staticToken) GetToken(_ context.Context) (string, error) {
	if t == "" {
		return "", domain.ErrAuthRequired
	}
	return string(t), nil
}

// buildGitSources constructs a provider adapter per [[git]] block. The
// returned closer releases every provider that was built, including on
// partial failure.
func buildGitSources(ctx context.Context, cfg *config.Config) ([]services.GitSource, func(), error) {
	var sources []services.GitSource
	closer := func() {
		for _, src := range sources {
			if err := src.Provider.Close(); err != nil {
				logger.Warn("close %s provider: %v", src.Provider.Kind(), err)
			}
		}
	}

	counts := map[string]int{}
	for i, g := range cfg.Git {
		token, err := g.Token()
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("git #%d (%s): %w", i+1, g.Kind, err)
		}

		var provider driven.Provider
		switch g.Kind {
		case config.KindGitHub:
			provider = github.NewProvider(staticToken(token), github.Config{
				BaseURL:          g.BaseURL,
				Orgs:             g.Orgs,
				IncludeRepos:     g.IncludeRepos,
				ExcludeRepos:     g.ExcludeRepos,
				RedactNames:      cfg.RedactNames,
				StripTextContent: cfg.StripTextContent,
				Realms:           realmConfigs(g.RateLimits),
			})
		case config.KindBitbucketServer:
			provider, err = bitbucket.NewProvider(ctx, staticToken(token), bitbucket.Config{
				BaseURL:          g.BaseURL,
				Projects:         g.Orgs,
				IncludeRepos:     g.IncludeRepos,
				ExcludeRepos:     g.ExcludeRepos,
				RedactNames:      cfg.RedactNames,
				StripTextContent: cfg.StripTextContent,
				Realms:           realmConfigs(g.RateLimits),
			})
			if err != nil {
				closer()
				return nil, nil, fmt.Errorf("git #%d: %w", i+1, err)
			}
		default:
			closer()
			return nil, nil, fmt.Errorf("git #%d: %w", i+1, domain.ErrUnsupportedProvider)
		}

		sources = append(sources, services.GitSource{
			Provider: provider,
			Prefix:   gitPrefix(g.Kind, counts),
		})
	}
	return sources, closer, nil
}

// gitPrefix names output files per instance: gh, bb, and gh2, bb2, ...
// when the same kind is configured more than once.
func gitPrefix(kind string, counts map[string]int) string {
	base := "gh"
	if kind == config.KindBitbucketServer {
		base = "bb"
	}
	counts[base]++
	if counts[base] > 1 {
		return base + strconv.Itoa(counts[base])
	}
	return base
}

// buildTracker constructs the issue tracker adapter, or nil when no jira
// section is configured.
func buildTracker(cfg *config.Config) (driven.TrackerProvider, error) {
	if cfg.Jira == nil {
		return nil, nil
	}
	user, token, err := cfg.Jira.Credentials()
	if err != nil {
		return nil, fmt.Errorf("jira: %w", err)
	}
	return jira.NewProvider(user, token, jira.Config{
		BaseURL:         cfg.Jira.URL,
		IncludeProjects: cfg.Jira.IncludeProjects,
		ExcludeProjects: cfg.Jira.ExcludeProjects,
		DownloadWorkers: cfg.Jira.DownloadWorkers,
		IssueBatchSize:  cfg.Jira.IssueBatchSize,
	}), nil
}

func realmConfigs(limits map[string]config.RealmLimit) map[string]ratelimit.RealmConfig {
	if len(limits) == 0 {
		return nil
	}
	realms := make(map[string]ratelimit.RealmConfig, len(limits))
	for name, l := range limits {
		realms[name] = ratelimit.RealmConfig{MaxCalls: l.MaxCalls, Period: l.Period()}
	}
	return realms
}
