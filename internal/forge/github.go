package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"conductor/internal/logx"
)

const (
	defaultAPIEndpoint     = "https://api.github.com"
	defaultGraphQLEndpoint = "https://api.github.com/graphql"
	maxResponseBytes       = 8 << 20
)

// GitHubClient implements Client directly over net/http and the GitHub
// REST and GraphQL v4 endpoints. Grounded on the teacher's gh-CLI-backed
// pkg/github.Client for request shaping (Accept/Authorization headers,
// path construction, wrapped-error style) and on
// dpolishuk-yolo-runner/internal/github/task_manager.go for the
// http.Client-over-net/http idiom the teacher itself doesn't use (it
// shells out to `gh`); this repo needs the raw transport because the
// project-V2 board mutations conductor drives are GraphQL-only.
type GitHubClient struct {
	owner        string
	repo         string
	token        string
	apiEndpoint  string
	graphqlEndpoint string
	httpClient   *http.Client
	logger       *logx.Logger
}

// NewGitHubClient constructs a client scoped to owner/repo, authenticated
// with an installation or personal access token.
func NewGitHubClient(owner, repo, token string) *GitHubClient {
	return &GitHubClient{
		owner:           owner,
		repo:            repo,
		token:           token,
		apiEndpoint:     defaultAPIEndpoint,
		graphqlEndpoint: defaultGraphQLEndpoint,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logx.NewLogger("forge.github"),
	}
}

func (c *GitHubClient) Provider() Provider { return ProviderGitHub }

func (c *GitHubClient) RepoPath() string { return c.owner + "/" + c.repo }

func (c *GitHubClient) restURL(pathAndQuery string) string {
	return strings.TrimRight(c.apiEndpoint, "/") + "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + pathAndQuery
}

// doREST issues an authenticated REST call and returns the decoded status
// code and raw body, leaving error-shape decisions to the caller (some
// endpoints treat 404 as a valid "not found" outcome, not an error).
func (c *GitHubClient) doREST(ctx context.Context, method, requestURL string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func apiErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "unknown error"
	}
	var decoded struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Message != "" {
		return decoded.Message
	}
	return trimmed
}

type githubPR struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	MergedAt *time.Time `json:"merged_at"`
	Mergeable *bool `json:"mergeable"`
	Head    struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"base"`
}

func convertGitHubPR(pr githubPR) PullRequest {
	result := PullRequest{
		Number:     pr.Number,
		URL:        pr.HTMLURL,
		Title:      pr.Title,
		Body:       pr.Body,
		State:      pr.State,
		HeadBranch: pr.Head.Ref,
		HeadSHA:    pr.Head.SHA,
		BaseBranch: pr.Base.Ref,
		BaseSHA:    pr.Base.SHA,
		Merged:     pr.Merged,
		MergedAt:   pr.MergedAt,
	}
	if pr.Mergeable != nil {
		result.Mergeable = *pr.Mergeable
	}
	return result
}

func (c *GitHubClient) ListPRsForBranch(ctx context.Context, branch string) ([]PullRequest, error) {
	requestURL := c.restURL("/pulls?state=open&head=" + url.QueryEscape(c.owner+":"+branch))
	status, body, err := c.doREST(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("list PRs for branch %s: %w", branch, err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("list PRs for branch %s: status %d: %s", branch, status, apiErrorMessage(body))
	}

	var prs []githubPR
	if err := json.Unmarshal(body, &prs); err != nil {
		return nil, fmt.Errorf("parse PR list: %w", err)
	}
	result := make([]PullRequest, len(prs))
	for i, pr := range prs {
		result[i] = convertGitHubPR(pr)
	}
	return result, nil
}

func (c *GitHubClient) GetPR(ctx context.Context, ref string) (*PullRequest, error) {
	number, err := strconv.Atoi(ref)
	if err != nil {
		return nil, fmt.Errorf("get PR: ref %q is not a PR number", ref)
	}
	status, body, err := c.doREST(ctx, http.MethodGet, c.restURL("/pulls/"+strconv.Itoa(number)), nil)
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", number, err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("get PR %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	var pr githubPR
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse PR: %w", err)
	}
	result := convertGitHubPR(pr)
	return &result, nil
}

func (c *GitHubClient) CreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	base := opts.Base
	if base == "" {
		base = "main"
	}
	payload := map[string]any{
		"title": opts.Title,
		"body":  opts.Body,
		"head":  opts.Head,
		"base":  base,
		"draft": opts.Draft,
	}
	status, body, err := c.doREST(ctx, http.MethodPost, c.restURL("/pulls"), payload)
	if err != nil {
		return nil, fmt.Errorf("create PR: %w", err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("create PR: status %d: %s", status, apiErrorMessage(body))
	}
	var pr githubPR
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("parse created PR: %w", err)
	}
	result := convertGitHubPR(pr)
	return &result, nil
}

func (c *GitHubClient) GetOrCreatePR(ctx context.Context, opts PRCreateOptions) (*PullRequest, error) {
	existing, err := c.ListPRsForBranch(ctx, opts.Head)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	return c.CreatePR(ctx, opts)
}

func (c *GitHubClient) MergePR(ctx context.Context, ref string, method string, deleteBranch bool) error {
	number, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("merge PR: ref %q is not a PR number", ref)
	}
	if method == "" {
		method = "squash"
	}
	status, body, err := c.doREST(ctx, http.MethodPut, c.restURL("/pulls/"+strconv.Itoa(number)+"/merge"), map[string]any{
		"merge_method": method,
	})
	if err != nil {
		return fmt.Errorf("merge PR %d: %w", number, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("merge PR %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	if deleteBranch {
		pr, err := c.GetPR(ctx, ref)
		if err == nil && pr.HeadBranch != "" {
			_, _, _ = c.doREST(ctx, http.MethodDelete, c.restURL("/git/refs/heads/"+pr.HeadBranch), nil)
		}
	}
	return nil
}

func (c *GitHubClient) ClosePR(ctx context.Context, ref string) error {
	number, err := strconv.Atoi(ref)
	if err != nil {
		return fmt.Errorf("close PR: ref %q is not a PR number", ref)
	}
	status, body, err := c.doREST(ctx, http.MethodPatch, c.restURL("/pulls/"+strconv.Itoa(number)), map[string]any{"state": "closed"})
	if err != nil {
		return fmt.Errorf("close PR %d: %w", number, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("close PR %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	return nil
}

func (c *GitHubClient) ListPRReviews(ctx context.Context, number int) ([]Review, error) {
	status, body, err := c.doREST(ctx, http.MethodGet, c.restURL("/pulls/"+strconv.Itoa(number)+"/reviews"), nil)
	if err != nil {
		return nil, fmt.Errorf("list reviews for PR %d: %w", number, err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("list reviews for PR %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	var raw []struct {
		User struct {
			Login string `json:"login"`
		} `json:"user"`
		State string `json:"state"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse reviews: %w", err)
	}
	reviews := make([]Review, len(raw))
	for i, r := range raw {
		reviews[i] = Review{Author: r.User.Login, State: r.State, Body: r.Body}
	}
	return reviews, nil
}

func (c *GitHubClient) ListPRComments(ctx context.Context, number int) ([]Comment, error) {
	return c.ListIssueComments(ctx, number)
}

func (c *GitHubClient) CreateIssue(ctx context.Context, opts IssueCreateOptions) (*Issue, error) {
	status, body, err := c.doREST(ctx, http.MethodPost, c.restURL("/issues"), map[string]any{
		"title":  opts.Title,
		"body":   opts.Body,
		"labels": opts.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("create issue: status %d: %s", status, apiErrorMessage(body))
	}
	var raw struct {
		Number  int    `json:"number"`
		NodeID  string `json:"node_id"`
		HTMLURL string `json:"html_url"`
		Title   string `json:"title"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse created issue: %w", err)
	}
	return &Issue{Number: raw.Number, NodeID: raw.NodeID, URL: raw.HTMLURL, Title: raw.Title, State: raw.State}, nil
}

func (c *GitHubClient) AddIssueComment(ctx context.Context, number int, body string) error {
	status, respBody, err := c.doREST(ctx, http.MethodPost, c.restURL("/issues/"+strconv.Itoa(number)+"/comments"), map[string]any{"body": body})
	if err != nil {
		return fmt.Errorf("comment on issue %d: %w", number, err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("comment on issue %d: status %d: %s", number, status, apiErrorMessage(respBody))
	}
	return nil
}

func (c *GitHubClient) ListIssueComments(ctx context.Context, number int) ([]Comment, error) {
	status, body, err := c.doREST(ctx, http.MethodGet, c.restURL("/issues/"+strconv.Itoa(number)+"/comments"), nil)
	if err != nil {
		return nil, fmt.Errorf("list comments on issue %d: %w", number, err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("list comments on issue %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	var raw []struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse comments: %w", err)
	}
	comments := make([]Comment, len(raw))
	for i, r := range raw {
		comments[i] = Comment{ID: r.ID, Author: r.User.Login, Body: r.Body, CreatedAt: r.CreatedAt}
	}
	return comments, nil
}

func (c *GitHubClient) GetIssue(ctx context.Context, number int) (*Issue, error) {
	status, body, err := c.doREST(ctx, http.MethodGet, c.restURL("/issues/"+strconv.Itoa(number)), nil)
	if err != nil {
		return nil, fmt.Errorf("get issue %d: %w", number, err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("get issue %d: status %d: %s", number, status, apiErrorMessage(body))
	}
	var raw struct {
		Number  int    `json:"number"`
		NodeID  string `json:"node_id"`
		HTMLURL string `json:"html_url"`
		Title   string `json:"title"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse issue: %w", err)
	}
	return &Issue{Number: raw.Number, NodeID: raw.NodeID, URL: raw.HTMLURL, Title: raw.Title, State: raw.State}, nil
}

func (c *GitHubClient) GetDefaultBranch(ctx context.Context) (string, error) {
	status, body, err := c.doREST(ctx, http.MethodGet, c.restURL(""), nil)
	if err != nil {
		return "", fmt.Errorf("get repo: %w", err)
	}
	if status >= http.StatusBadRequest {
		return "", fmt.Errorf("get repo: status %d: %s", status, apiErrorMessage(body))
	}
	var raw struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("parse repo: %w", err)
	}
	return raw.DefaultBranch, nil
}

func (c *GitHubClient) GetRepoTree(ctx context.Context, ref string) ([]FileEntry, error) {
	requestURL := c.restURL("/git/trees/" + url.PathEscape(ref) + "?recursive=1")
	status, body, err := c.doREST(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", ref, err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("get tree %s: status %d: %s", ref, status, apiErrorMessage(body))
	}
	var raw struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	entries := make([]FileEntry, len(raw.Tree))
	for i, e := range raw.Tree {
		entries[i] = FileEntry{Path: e.Path, Type: e.Type, SHA: e.SHA}
	}
	return entries, nil
}

func (c *GitHubClient) GetFileContent(ctx context.Context, ref, path string) ([]byte, error) {
	requestURL := c.restURL("/contents/" + strings.TrimPrefix(path, "/") + "?ref=" + url.QueryEscape(ref))
	status, body, err := c.doREST(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get file %s@%s: %w", path, ref, err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("get file %s@%s: status %d: %s", path, ref, status, apiErrorMessage(body))
	}
	var raw struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse file content: %w", err)
	}
	if raw.Encoding == "base64" {
		return decodeBase64Content(raw.Content)
	}
	return []byte(raw.Content), nil
}

func (c *GitHubClient) CompareCommits(ctx context.Context, base, head string) (*CompareResult, error) {
	requestURL := c.restURL("/compare/" + url.PathEscape(base) + "..." + url.PathEscape(head))
	status, body, err := c.doREST(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("compare %s...%s: %w", base, head, err)
	}
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("compare %s...%s: status %d: %s", base, head, status, apiErrorMessage(body))
	}
	var raw struct {
		AheadBy  int `json:"ahead_by"`
		BehindBy int `json:"behind_by"`
		Files    []struct {
			Filename string `json:"filename"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse compare: %w", err)
	}
	result := &CompareResult{AheadBy: raw.AheadBy, BehindBy: raw.BehindBy}
	for _, f := range raw.Files {
		result.ChangedFiles = append(result.ChangedFiles, f.Filename)
	}
	return result, nil
}

// ErrNotFound is returned for REST lookups that resolved to a 404.
var ErrNotFound = errors.New("forge: not found")
