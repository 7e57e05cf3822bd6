package github

import (
	"strconv"
	"strings"

	gh "github.com/google/go-github/v80/github"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/redact"
)

// normalizer maps go-github API shapes onto domain records, applying the
// configured redaction as it goes. One normalizer serves a whole run so
// placeholder names stay stable across output files.
type normalizer struct {
	redactNames bool
	stripText   bool
	names       *redact.Redactor
}

func newNormalizer(cfg Config) *normalizer {
	return &normalizer{
		redactNames: cfg.RedactNames,
		stripText:   cfg.StripTextContent,
		names:       redact.NewRedactor("master", "develop", "main"),
	}
}

func (n *normalizer) name(s string) string {
	if !n.redactNames {
		return s
	}
	return n.names.Redact(s)
}

func (n *normalizer) url(s string) string {
	if n.redactNames {
		return ""
	}
	return s
}

func (n *normalizer) text(s string) string {
	return redact.SanitizeText(s, n.stripText)
}

func (n *normalizer) user(u *gh.User) *domain.User {
	if u == nil {
		return nil
	}
	return &domain.User{
		ID:    strconv.FormatInt(u.GetID(), 10),
		Login: u.GetLogin(),
		Name:  u.GetName(),
		Email: u.GetEmail(),
		URL:   u.GetHTMLURL(),
	}
}

// commitAuthor prefers the linked account; raw git authors with no account
// fall back to a synthetic user keyed by email.
func (n *normalizer) commitAuthor(c *gh.RepositoryCommit) *domain.User {
	if c.Author != nil && c.Author.GetLogin() != "" {
		u := n.user(c.Author)
		if git := c.GetCommit().GetAuthor(); git != nil {
			if u.Name == "" {
				u.Name = git.GetName()
			}
			if u.Email == "" {
				u.Email = git.GetEmail()
			}
		}
		return u
	}
	git := c.GetCommit().GetAuthor()
	if git == nil {
		return nil
	}
	return &domain.User{
		ID:    git.GetEmail(),
		Login: git.GetEmail(),
		Name:  git.GetName(),
		Email: git.GetEmail(),
	}
}

func (n *normalizer) project(org *gh.Organization) domain.Project {
	return domain.Project{
		ID:    strconv.FormatInt(org.GetID(), 10),
		Login: org.GetLogin(),
		Name:  n.name(orgName(org)),
		URL:   n.url(org.GetHTMLURL()),
	}
}

// orgName falls back to the login for organizations with no display name.
func orgName(org *gh.Organization) string {
	if org.GetName() != "" {
		return org.GetName()
	}
	return org.GetLogin()
}

func (n *normalizer) repo(r *gh.Repository, branches []*gh.Branch, project *domain.Project) domain.Repo {
	out := domain.Repo{
		ID:            strconv.FormatInt(r.GetID(), 10),
		Name:          n.name(r.GetName()),
		FullName:      n.name(r.GetFullName()),
		URL:           n.url(r.GetHTMLURL()),
		DefaultBranch: n.name(r.GetDefaultBranch()),
		IsFork:        r.GetFork(),
		Branches:      make([]domain.Branch, 0, len(branches)),
		Project:       project,
	}
	for _, b := range branches {
		out.Branches = append(out.Branches, domain.Branch{
			Name: n.name(b.GetName()),
			SHA:  b.GetCommit().GetSHA(),
		})
	}
	return out
}

func (n *normalizer) repoRef(repo domain.Repo) domain.RepoRef {
	return domain.RepoRef{ID: repo.ID, Name: repo.Name, URL: repo.URL}
}

func (n *normalizer) commit(c *gh.RepositoryCommit, repo domain.Repo) domain.Commit {
	git := c.GetCommit()
	return domain.Commit{
		Hash:       c.GetSHA(),
		CommitDate: git.GetCommitter().GetDate().Time,
		AuthorDate: git.GetAuthor().GetDate().Time,
		Author:     n.commitAuthor(c),
		URL:        n.url(c.GetHTMLURL()),
		Message:    n.text(git.GetMessage()),
		IsMerge:    len(c.Parents) > 1,
		Repo:       n.repoRef(repo),
	}
}

func (n *normalizer) comment(c *gh.IssueComment) domain.Comment {
	return domain.Comment{
		User:      n.user(c.User),
		Body:      n.text(c.GetBody()),
		CreatedAt: c.GetCreatedAt().Time,
	}
}

func (n *normalizer) review(r *gh.PullRequestReview) domain.Review {
	return domain.Review{
		ForeignID:   strconv.FormatInt(r.GetID(), 10),
		User:        n.user(r.User),
		ReviewState: strings.ToUpper(r.GetState()),
	}
}

// pullRequest assembles the full normalized PR from its pieces. head is the
// source repo ref; cross-fork PRs carry the fork as head, same-repo PRs
// carry the base repo.
func (n *normalizer) pullRequest(
	pr *gh.PullRequest,
	repo domain.Repo,
	comments []domain.Comment,
	approvals []domain.Review,
	commits []domain.Commit,
) domain.PullRequest {
	base := n.repoRef(repo)
	head := base
	if fork := pr.GetHead().GetRepo(); fork != nil && fork.GetID() != 0 {
		headID := strconv.FormatInt(fork.GetID(), 10)
		if headID != repo.ID {
			head = domain.RepoRef{
				ID:   headID,
				Name: n.name(fork.GetName()),
				URL:  n.url(fork.GetHTMLURL()),
			}
		}
	}

	out := domain.PullRequest{
		ID:           pr.GetNumber(),
		Author:       n.user(pr.User),
		Title:        n.text(pr.GetTitle()),
		Body:         n.text(pr.GetBody()),
		IsClosed:     pr.GetState() == "closed",
		IsMerged:     pr.GetMerged(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
		MergedBy:     n.user(pr.MergedBy),
		URL:          n.url(pr.GetHTMLURL()),
		BaseRepo:     base,
		BaseBranch:   n.name(pr.GetBase().GetRef()),
		HeadRepo:     head,
		HeadBranch:   n.name(pr.GetHead().GetRef()),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		Comments:     comments,
		Approvals:    approvals,
		Commits:      commits,
	}
	if t := pr.ClosedAt; t != nil {
		closed := t.Time
		out.ClosedAt = &closed
	}
	if t := pr.MergedAt; t != nil {
		merged := t.Time
		out.MergedAt = &merged
	}
	return out
}
