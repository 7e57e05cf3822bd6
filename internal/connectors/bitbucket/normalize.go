package bitbucket

import (
	"strconv"
	"strings"
	"time"

	"github.com/gitscope/agent/internal/core/domain"
	"github.com/gitscope/agent/internal/redact"
)

// normalizer maps Bitbucket Server wire shapes onto domain records, applying
// the configured redaction. One normalizer serves a whole run so placeholder
// names stay stable across output files.
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

// millis converts a Bitbucket epoch-milliseconds timestamp.
func millis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (n *normalizer) user(u *wireUser) *domain.User {
	if u == nil {
		return nil
	}
	id := u.Slug
	if id == "" {
		id = strconv.Itoa(u.ID)
	}
	return &domain.User{
		ID:    id,
		Login: u.Name,
		Name:  u.DisplayName,
		Email: u.EmailAddress,
		URL:   u.Links.first(),
	}
}

func (n *normalizer) project(p *wireProject) domain.Project {
	return domain.Project{
		ID:    p.Key,
		Login: p.Key,
		Name:  n.name(p.Name),
		URL:   n.url(p.Links.first()),
	}
}

func (n *normalizer) repo(r *wireRepo, branches []wireBranch, defaultBranch string, project *domain.Project) domain.Repo {
	out := domain.Repo{
		ID:            strconv.Itoa(r.ID),
		Name:          n.name(r.Name),
		FullName:      n.name(r.Project.Key + "/" + r.Slug),
		URL:           n.url(r.Links.first()),
		DefaultBranch: n.name(defaultBranch),
		IsFork:        r.Origin != nil,
		Branches:      make([]domain.Branch, 0, len(branches)),
		Project:       project,
	}
	for _, b := range branches {
		out.Branches = append(out.Branches, domain.Branch{
			Name: n.name(b.DisplayID),
			SHA:  b.LatestCommit,
		})
	}
	return out
}

func (n *normalizer) repoRef(repo domain.Repo) domain.RepoRef {
	return domain.RepoRef{ID: repo.ID, Name: repo.Name, URL: repo.URL}
}

func (n *normalizer) commit(c wireCommit, repo domain.Repo) domain.Commit {
	return domain.Commit{
		Hash:       c.ID,
		CommitDate: millis(c.CommitterTimestamp),
		AuthorDate: millis(c.AuthorTimestamp),
		Author:     n.user(c.Author),
		Message:    n.text(c.Message),
		IsMerge:    len(c.Parents) > 1,
		Repo:       n.repoRef(repo),
	}
}

// pullRequest assembles the normalized PR. Comments, the merge actor, and
// the close date come out of the activity stream; approvals come from the
// reviewer list.
func (n *normalizer) pullRequest(
	pr wirePullRequest,
	repo domain.Repo,
	activities []wireActivity,
	commits []domain.Commit,
	additions, deletions, changedFiles int,
) domain.PullRequest {
	base := n.repoRef(repo)
	head := base
	if from := pr.FromRef.Repository; from.ID != 0 && strconv.Itoa(from.ID) != repo.ID {
		head = domain.RepoRef{
			ID:   strconv.Itoa(from.ID),
			Name: n.name(from.Name),
			URL:  n.url(from.Links.first()),
		}
	}

	out := domain.PullRequest{
		ID:           pr.ID,
		Author:       n.user(&pr.Author.User),
		Title:        n.text(pr.Title),
		Body:         n.text(pr.Description),
		IsClosed:     pr.State != "OPEN",
		IsMerged:     pr.State == "MERGED",
		CreatedAt:    millis(pr.CreatedDate),
		UpdatedAt:    millis(pr.UpdatedDate),
		URL:          n.url(pr.Links.first()),
		BaseRepo:     base,
		BaseBranch:   n.name(pr.ToRef.DisplayID),
		HeadRepo:     head,
		HeadBranch:   n.name(pr.FromRef.DisplayID),
		Additions:    additions,
		Deletions:    deletions,
		ChangedFiles: changedFiles,
		Comments:     []domain.Comment{},
		Approvals:    []domain.Review{},
		Commits:      commits,
	}
	if pr.ClosedDate > 0 {
		closed := millis(pr.ClosedDate)
		out.ClosedAt = &closed
	}

	for _, reviewer := range pr.Reviewers {
		state := reviewer.Status
		if state == "" && reviewer.Approved {
			state = "APPROVED"
		}
		user := reviewer.User
		out.Approvals = append(out.Approvals, domain.Review{
			ForeignID:   strconv.Itoa(user.ID),
			User:        n.user(&user),
			ReviewState: strings.ToUpper(state),
		})
	}

	for _, act := range activities {
		switch act.Action {
		case "COMMENTED":
			if act.Comment == nil {
				continue
			}
			author := act.Comment.Author
			out.Comments = append(out.Comments, domain.Comment{
				User:      n.user(&author),
				Body:      n.text(act.Comment.Text),
				CreatedAt: millis(act.Comment.CreatedDate),
			})
		case "MERGED":
			user := act.User
			out.MergedBy = n.user(&user)
			merged := millis(act.CreatedDate)
			out.MergedAt = &merged
		}
	}
	return out
}
