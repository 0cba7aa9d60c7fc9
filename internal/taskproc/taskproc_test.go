package taskproc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/agentrunner"
	"conductor/internal/config"
	"conductor/internal/decomposer"
	"conductor/internal/fixer"
	"conductor/internal/forge"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
	"conductor/internal/queue"
	"conductor/internal/reviewer"
	"conductor/internal/workspace"
)

func newTestOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()
	require.NoError(t, persistence.Reset())
	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	require.NoError(t, persistence.Initialize(dbPath))
	t.Cleanup(func() { _ = persistence.Reset() })
	return persistence.Ops()
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	policy := queue.DefaultRetryPolicy
	policy.InitialDelay = 0
	return queue.New(policy)
}

type fakeForgeClient struct {
	forge.Client
	defaultBranch string
	issueCounter  int
	comments      []string
	movedColumns  []string
	prs           []forge.PRCreateOptions
}

func (f *fakeForgeClient) GetDefaultBranch(ctx context.Context) (string, error) { return f.defaultBranch, nil }

func (f *fakeForgeClient) MoveProjectItemToColumn(ctx context.Context, projectID, itemID, column string) error {
	f.movedColumns = append(f.movedColumns, column)
	return nil
}

func (f *fakeForgeClient) AddIssueComment(ctx context.Context, number int, body string) error {
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeForgeClient) CreateIssue(ctx context.Context, opts forge.IssueCreateOptions) (*forge.Issue, error) {
	f.issueCounter++
	return &forge.Issue{Number: f.issueCounter, NodeID: "node-" + opts.Title, Title: opts.Title}, nil
}

func (f *fakeForgeClient) AddItemToProject(ctx context.Context, projectID, contentID string) (string, error) {
	return "item-" + contentID, nil
}

func (f *fakeForgeClient) GetOrCreatePR(ctx context.Context, opts forge.PRCreateOptions) (*forge.PullRequest, error) {
	f.prs = append(f.prs, opts)
	return &forge.PullRequest{Number: 1, Title: opts.Title, Body: opts.Body, URL: "https://example.com/pr/1", HeadBranch: opts.Head, BaseBranch: opts.Base}, nil
}

func (f *fakeForgeClient) GetFileContent(ctx context.Context, ref, path string) ([]byte, error) {
	return nil, forge.ErrNotFound
}

func (f *fakeForgeClient) GetRepoTree(ctx context.Context, ref string) ([]forge.FileEntry, error) {
	return nil, nil
}

func (f *fakeForgeClient) CompareCommits(ctx context.Context, base, head string) (*forge.CompareResult, error) {
	return &forge.CompareResult{}, nil
}

func fakeAgentScript(t *testing.T, response string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\necho '{\"type\":\"result\",\"result\":{\"success\":true}}'\n"
	script += "cat <<'RESPONSE'\n" + response + "\nRESPONSE\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type fakeGitRunner struct{}

func (fakeGitRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	if len(args) > 0 && args[0] == "status" {
		return []byte(""), nil
	}
	if len(args) > 0 && args[0] == "rev-parse" {
		return []byte("deadbeef\n"), nil
	}
	return []byte(""), nil
}

func newTestProcessor(t *testing.T, decomposerResponse string, client *fakeForgeClient) (*Processor, *persistence.DatabaseOperations, *queue.Queue) {
	t.Helper()
	ops := newTestOps(t)
	q := newTestQueue(t)

	renderer, err := prompt.NewRenderer()
	require.NoError(t, err)

	decomposerRunner := agentrunner.New().WithBinary(fakeAgentScript(t, decomposerResponse))
	d := decomposer.New(decomposerRunner, renderer)

	reviewerRunner := agentrunner.New().WithBinary(fakeAgentScript(t, "```json\n{\"result\":\"approved\",\"summary\":\"ok\",\"issues\":[]}\n```"))
	r := reviewer.New(reviewerRunner, renderer)

	wsManager := workspace.New(t.TempDir(), fakeGitRunner{})
	fixerRunner := agentrunner.New().WithBinary(fakeAgentScript(t, ""))
	fx := fixer.New(fixerRunner, renderer, wsManager)

	p := New(Processor{
		Ops:        ops,
		Queue:      q,
		Workspace:  wsManager,
		Decomposer: d,
		Reviewer:   r,
		Fixer:      fx,
		Forge:      func(ctx context.Context, task *persistence.Task) (forge.Client, error) { return client, nil },
		Credential: func(ctx context.Context, task *persistence.Task) (string, error) { return "cred", nil },
		RepoURL:    func(ctx context.Context, task *persistence.Task) (string, error) { return "https://example.com/o/r.git", nil },
		Config:     func() config.Config { return *config.Default() },
	})
	return p, ops, q
}

func insertTask(t *testing.T, ops *persistence.DatabaseOperations, id string) *persistence.Task {
	t.Helper()
	task := &persistence.Task{ID: id, ExternalItemID: "item-" + id, ExternalProjectID: "proj-" + id, RepositoryFullName: "o/r", Title: "do thing", Status: persistence.TaskPending}
	require.NoError(t, ops.UpsertTask(task))
	stored, err := ops.GetTask(id)
	require.NoError(t, err)
	return stored
}

func TestHandleDecomposeSimpleEnqueuesSubtasksAndExecute(t *testing.T) {
	resp := "```json\n{\"type\":\"simple\",\"subtasks\":[{\"title\":\"do x\",\"subprojectPath\":\".\"}],\"summary\":\"ok\"}\n```"
	client := &fakeForgeClient{defaultBranch: "main"}
	p, ops, q := newTestProcessor(t, resp, client)
	task := insertTask(t, ops, "task-1")

	payload, _ := json.Marshal(Payload{TaskID: task.ID, Action: ActionDecompose})
	require.NoError(t, p.Handle(context.Background(), queue.Job{Payload: payload}))

	stored, err := ops.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskExecuting, stored.Status)

	jobs, err := q.Claim(queue.Subtasks, "w", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Contains(t, client.movedColumns, "In Progress")
}

func TestHandleDecomposeNeedsHumanReviewTransitions(t *testing.T) {
	resp := "```json\n{\"needsHumanReview\":true,\"question\":\"which layout?\"}\n```"
	client := &fakeForgeClient{defaultBranch: "main"}
	p, ops, q := newTestProcessor(t, resp, client)
	issueNumber := 42
	task := insertTask(t, ops, "task-2")
	task.LinkedIssueNumber = &issueNumber

	payload, _ := json.Marshal(Payload{TaskID: task.ID, Action: ActionDecompose})
	require.NoError(t, p.Handle(context.Background(), queue.Job{Payload: payload}))

	stored, err := ops.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskHumanReview, stored.Status)
	require.Equal(t, "which layout?", stored.HumanReviewQuestion)

	jobs, err := q.Claim(queue.Notifications, "w", 10)
	require.NoError(t, err)
	require.Empty(t, jobs) // notifications are persisted, not queued, by this processor
}

func TestHandleUnknownActionFailsTask(t *testing.T) {
	client := &fakeForgeClient{defaultBranch: "main"}
	p, ops, _ := newTestProcessor(t, "", client)
	task := insertTask(t, ops, "task-3")

	payload, _ := json.Marshal(Payload{TaskID: task.ID, Action: "bogus"})
	err := p.Handle(context.Background(), queue.Job{Payload: payload})
	require.Error(t, err)

	stored, err := ops.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskFailed, stored.Status)
}

func TestExecuteSimpleReEnqueuesUntilSubtasksComplete(t *testing.T) {
	client := &fakeForgeClient{defaultBranch: "main"}
	p, ops, q := newTestProcessor(t, "", client)
	task := insertTask(t, ops, "task-4")
	require.NoError(t, ops.UpdateTaskStatus(task.ID, persistence.TaskDecomposing))
	require.NoError(t, ops.UpdateTaskStatus(task.ID, persistence.TaskExecuting))
	require.NoError(t, ops.InsertSubtask(&persistence.Subtask{ID: "sub-1", TaskID: task.ID, SubprojectPath: ".", Status: persistence.SubtaskPending}))

	payload, _ := json.Marshal(Payload{TaskID: task.ID, Action: ActionExecute})
	require.NoError(t, p.Handle(context.Background(), queue.Job{Payload: payload}))

	stored, err := ops.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskExecuting, stored.Status)

	_, err = q.Claim(queue.Tasks, "w", 10)
	require.NoError(t, err)
}

func TestCreatePRPersistsPullRequestAndMovesCard(t *testing.T) {
	client := &fakeForgeClient{defaultBranch: "main"}
	p, ops, _ := newTestProcessor(t, "", client)
	task := insertTask(t, ops, "task-5")
	require.NoError(t, ops.UpdateTaskStatus(task.ID, persistence.TaskDecomposing))
	require.NoError(t, ops.UpdateTaskStatus(task.ID, persistence.TaskExecuting))
	require.NoError(t, ops.UpdateTaskStatus(task.ID, persistence.TaskReview))
	require.NoError(t, ops.SetTaskBranchAndPR(task.ID, "conductor/task-5/do-thing", 0, ""))

	payload, _ := json.Marshal(Payload{TaskID: task.ID, Action: ActionCreatePR})
	require.NoError(t, p.Handle(context.Background(), queue.Job{Payload: payload}))

	stored, err := ops.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, persistence.TaskPRCreated, stored.Status)
	require.NotNil(t, stored.PullRequestNumber)
	require.Contains(t, client.movedColumns, "Human Review")

	pr, err := ops.GetPullRequestByTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/pr/1", pr.URL)
}
