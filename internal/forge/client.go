// Package forge abstracts the source-forge REST/GraphQL surface conductor
// needs: pull requests, issues, comments, repository content, and
// project-board card movement. Grounded on the teacher's pkg/forge
// (provider-neutral Client interface implemented per-provider) generalized
// with the issue and board operations spec §4.6/§4.12 require, which the
// teacher's board-less GitHub adapter never needed.
package forge

import (
	"context"
	"time"
)

// Provider identifies a source-forge backend.
type Provider string

const ProviderGitHub Provider = "github"

// PullRequest is a normalized pull request across forge providers.
type PullRequest struct {
	Number       int
	URL          string
	Title        string
	Body         string
	State        string
	HeadBranch   string
	HeadSHA      string
	BaseBranch   string
	BaseSHA      string
	MergedAt     *time.Time
	Merged       bool
	Mergeable    bool
	HasConflicts bool
}

// IsMerged reports whether the PR has landed.
func (pr *PullRequest) IsMerged() bool {
	return pr.Merged || pr.MergedAt != nil
}

// PRCreateOptions configures CreatePR/GetOrCreatePR.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// Review is one pull-request review submission.
type Review struct {
	Author string
	State  string
	Body   string
}

// Comment is one issue or pull-request comment.
type Comment struct {
	ID        int64
	Author    string
	Body      string
	CreatedAt time.Time
}

// IssueCreateOptions configures CreateIssue.
type IssueCreateOptions struct {
	Title  string
	Body   string
	Labels []string
}

// Issue is a created or fetched forge issue.
type Issue struct {
	Number int
	NodeID string
	URL    string
	Title  string
	State  string
}

// ProjectItemContent is the issue/PR content underlying a project-V2 item,
// resolved by node id so webhook intake can materialize a Task without a
// second REST round trip per field.
type ProjectItemContent struct {
	ContentNodeID      string
	IssueNumber        int
	Title              string
	Body               string
	RepositoryFullName string
}

// FileEntry is one entry of a repository tree listing.
type FileEntry struct {
	Path string
	Type string
	SHA  string
}

// CompareResult summarizes a commit-range comparison.
type CompareResult struct {
	AheadBy      int
	BehindBy     int
	ChangedFiles []string
}

// Client is the provider-neutral surface conductor drives a source forge
// through. Both PR/branch operations (grounded on the teacher's
// forge.Client) and the issue/board operations spec §4.6-§4.12 add live on
// the same interface, since conductor never needs to select a subset per
// provider the way the teacher's Gitea/GitHub split does.
type Client interface {
	Provider() Provider
	RepoPath() string

	ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error)
	GetPR(ctx context.Context, ref string) (*PullRequest, error)
	CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error)
	GetOrCreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error)
	MergePR(ctx context.Context, ref string, method string, deleteBranch bool) error
	ClosePR(ctx context.Context, ref string) error
	ListPRReviews(ctx context.Context, number int) ([]Review, error)
	ListPRComments(ctx context.Context, number int) ([]Comment, error)

	CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error)
	AddIssueComment(ctx context.Context, number int, body string) error
	ListIssueComments(ctx context.Context, number int) ([]Comment, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)

	GetDefaultBranch(ctx context.Context) (string, error)
	GetRepoTree(ctx context.Context, ref string) ([]FileEntry, error)
	GetFileContent(ctx context.Context, ref, path string) ([]byte, error)
	CompareCommits(ctx context.Context, base, head string) (*CompareResult, error)

	// GetProjectItemStatus resolves the current single-select status option
	// name for a project-V2 item.
	GetProjectItemStatus(ctx context.Context, projectID, itemID string) (string, error)
	// MoveProjectItemToColumn sets a project-V2 item's status field to the
	// named column, resolving the option id from the field's schema.
	MoveProjectItemToColumn(ctx context.Context, projectID, itemID, column string) error
	// AddItemToProject links an issue or PR (by its node id) to a project-V2
	// board and returns the new item id.
	AddItemToProject(ctx context.Context, projectID, contentID string) (string, error)
	// GetProjectItemContent resolves a project-V2 item's underlying issue
	// content by the item's node id.
	GetProjectItemContent(ctx context.Context, itemID string) (*ProjectItemContent, error)
}
