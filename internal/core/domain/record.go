// Package domain defines the provider-agnostic entities the agent extracts:
// users, projects, repositories, branches, commits, and pull requests.
// Provider adapters map their native API shapes onto these types; everything
// downstream (batch writing, upload) is provider-blind.
//
// Every entity implements Field, the narrow lookup capability the streaming
// batch writer uses for identity keys.
package domain

import "time"

// User is a normalized account. For raw commit authors with no provider
// account, ID and Login fall back to the email address.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Field returns a field by its serialized name.
func (u User) Field(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case "login":
		return u.Login, true
	case "name":
		return u.Name, true
	case "email":
		return u.Email, true
	default:
		return nil, false
	}
}

// Project is the grouping level above repositories: a GitHub or Bitbucket
// organization, or a Bitbucket Server project.
type Project struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
}

// Field returns a field by its serialized name.
func (p Project) Field(name string) (any, bool) {
	switch name {
	case "id":
		return p.ID, true
	case "login":
		return p.Login, true
	case "name":
		return p.Name, true
	default:
		return nil, false
	}
}

// Branch is a named head within a repository.
type Branch struct {
	Name string `json:"name"`
	SHA  string `json:"sha"`
}

// Repo is a normalized repository including its branch list and owning
// project.
type Repo struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	URL           string   `json:"url,omitempty"`
	DefaultBranch string   `json:"default_branch_name"`
	IsFork        bool     `json:"is_fork"`
	Branches      []Branch `json:"branches"`
	Project       *Project `json:"project,omitempty"`
}

// Field returns a field by its serialized name.
func (r Repo) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "name":
		return r.Name, true
	case "full_name":
		return r.FullName, true
	default:
		return nil, false
	}
}

// RepoRef is the compact repository reference embedded in commits and pull
// requests.
type RepoRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Commit is a normalized commit on some branch of a repository.
type Commit struct {
	Hash       string    `json:"hash"`
	CommitDate time.Time `json:"commit_date"`
	AuthorDate time.Time `json:"author_date"`
	Author     *User     `json:"author"`
	URL        string    `json:"url,omitempty"`
	Message    string    `json:"message"`
	IsMerge    bool      `json:"is_merge"`
	Repo       RepoRef   `json:"repo"`
}

// Field returns a field by its serialized name.
func (c Commit) Field(name string) (any, bool) {
	switch name {
	case "hash":
		return c.Hash, true
	case "commit_date":
		return c.CommitDate, true
	case "author_date":
		return c.AuthorDate, true
	case "message":
		return c.Message, true
	case "repo_id":
		return c.Repo.ID, true
	default:
		return nil, false
	}
}

// Comment is a normalized pull request comment.
type Comment struct {
	User      *User     `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Review is a normalized pull request review/approval.
type Review struct {
	ForeignID   string `json:"foreign_id"`
	User        *User  `json:"user"`
	ReviewState string `json:"review_state"`
}

// PullRequest is a normalized pull/merge request with its comments, reviews,
// and constituent commits.
type PullRequest struct {
	ID           int        `json:"id"`
	Author       *User      `json:"author"`
	Title        string     `json:"title"`
	Body         string     `json:"body"`
	IsClosed     bool       `json:"is_closed"`
	IsMerged     bool       `json:"is_merged"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_date"`
	MergedAt     *time.Time `json:"merge_date"`
	MergedBy     *User      `json:"merged_by,omitempty"`
	URL          string     `json:"url,omitempty"`
	BaseRepo     RepoRef    `json:"base_repo"`
	BaseBranch   string     `json:"base_branch"`
	HeadRepo     RepoRef    `json:"head_repo"`
	HeadBranch   string     `json:"head_branch"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
	ChangedFiles int        `json:"changed_files"`
	Comments     []Comment  `json:"comments"`
	Approvals    []Review   `json:"approvals"`
	Commits      []Commit   `json:"commits"`
}

// Field returns a field by its serialized name.
func (pr PullRequest) Field(name string) (any, bool) {
	switch name {
	case "id":
		return pr.ID, true
	case "title":
		return pr.Title, true
	case "updated_at":
		return pr.UpdatedAt, true
	case "base_repo_id":
		return pr.BaseRepo.ID, true
	default:
		return nil, false
	}
}

// Issue is a normalized issue-tracker ticket. Tracker schemas vary wildly
// per instance, so beyond the identity and ordering fields the payload is
// carried through as-is.
type Issue struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	UpdatedAt time.Time      `json:"updated_at"`
	Fields    map[string]any `json:"fields"`
}

// Field returns a field by its serialized name.
func (i Issue) Field(name string) (any, bool) {
	switch name {
	case "id":
		return i.ID, true
	case "key":
		return i.Key, true
	case "updated_at":
		return i.UpdatedAt, true
	default:
		return nil, false
	}
}
