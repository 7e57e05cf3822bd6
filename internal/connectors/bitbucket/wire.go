package bitbucket

// Wire shapes for the Bitbucket Server REST API (rest/api/1.0). Only the
// fields the agent reads are declared; everything else is ignored on decode.

// page is the envelope every paged endpoint returns.
type page[T any] struct {
	Size          int  `json:"size"`
	Limit         int  `json:"limit"`
	IsLastPage    bool `json:"isLastPage"`
	Start         int  `json:"start"`
	NextPageStart int  `json:"nextPageStart"`
	Values        []T  `json:"values"`
}

type wireUser struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Links        links  `json:"links"`
}

type wireProject struct {
	ID    int    `json:"id"`
	Key   string `json:"key"`
	Name  string `json:"name"`
	Links links  `json:"links"`
}

type wireRepo struct {
	ID      int         `json:"id"`
	Slug    string      `json:"slug"`
	Name    string      `json:"name"`
	Project wireProject `json:"project"`
	Origin  *wireRepo   `json:"origin"`
	Links   links       `json:"links"`
}

type wireBranch struct {
	ID           string `json:"id"`
	DisplayID    string `json:"displayId"`
	LatestCommit string `json:"latestCommit"`
	IsDefault    bool   `json:"isDefault"`
}

type wireCommit struct {
	ID                 string     `json:"id"`
	Message            string     `json:"message"`
	Author             *wireUser  `json:"author"`
	AuthorTimestamp    int64      `json:"authorTimestamp"`
	CommitterTimestamp int64      `json:"committerTimestamp"`
	Parents            []wireStub `json:"parents"`
}

type wireStub struct {
	ID string `json:"id"`
}

type wirePullRequest struct {
	ID          int               `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	State       string            `json:"state"` // OPEN, MERGED, DECLINED
	CreatedDate int64             `json:"createdDate"`
	UpdatedDate int64             `json:"updatedDate"`
	ClosedDate  int64             `json:"closedDate"`
	Author      wireParticipant   `json:"author"`
	Reviewers   []wireParticipant `json:"reviewers"`
	FromRef     wireRef           `json:"fromRef"`
	ToRef       wireRef           `json:"toRef"`
	Links       links             `json:"links"`
}

type wireParticipant struct {
	User     wireUser `json:"user"`
	Approved bool     `json:"approved"`
	Status   string   `json:"status"` // UNAPPROVED, NEEDS_WORK, APPROVED
}

type wireRef struct {
	ID         string   `json:"id"`
	DisplayID  string   `json:"displayId"`
	Repository wireRepo `json:"repository"`
}

// wireActivity is one entry of a PR's activity stream; comments and merges
// arrive as activities.
type wireActivity struct {
	Action      string       `json:"action"` // COMMENTED, MERGED, APPROVED, ...
	CreatedDate int64        `json:"createdDate"`
	User        wireUser     `json:"user"`
	Comment     *wireComment `json:"comment"`
}

type wireComment struct {
	Text        string   `json:"text"`
	Author      wireUser `json:"author"`
	CreatedDate int64    `json:"createdDate"`
}

// wireDiffStat summarizes one changed file of a PR diff.
type wireDiffStat struct {
	LinesAdded   int `json:"linesAdded"`
	LinesRemoved int `json:"linesRemoved"`
}

type links struct {
	Self []struct {
		Href string `json:"href"`
	} `json:"self"`
}

func (l links) first() string {
	if len(l.Self) == 0 {
		return ""
	}
	return l.Self[0].Href
}
