package reviewer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/agentrunner"
	"conductor/internal/forge"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
)

func newTestOps(t *testing.T) *persistence.DatabaseOperations {
	t.Helper()
	require.NoError(t, persistence.Reset())
	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	require.NoError(t, persistence.Initialize(dbPath))
	t.Cleanup(func() { _ = persistence.Reset() })
	return persistence.Ops()
}

type fakeForgeClient struct {
	forge.Client
	defaultBranch    string
	defaultBranchErr error
	compareErr       error
	compare          *forge.CompareResult
	onCompare        func(base, head string)
}

func (f *fakeForgeClient) GetDefaultBranch(ctx context.Context) (string, error) {
	if f.defaultBranchErr != nil {
		return "", f.defaultBranchErr
	}
	return f.defaultBranch, nil
}

func (f *fakeForgeClient) CompareCommits(ctx context.Context, base, head string) (*forge.CompareResult, error) {
	if f.onCompare != nil {
		f.onCompare(base, head)
	}
	if f.compareErr != nil {
		return nil, f.compareErr
	}
	return f.compare, nil
}

func fakeAgentScript(t *testing.T, response string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\necho '{\"type\":\"result\",\"result\":{\"success\":true}}'\n"
	script += "cat <<'RESPONSE'\n" + response + "\nRESPONSE\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestReviewer(t *testing.T, response string) *Reviewer {
	t.Helper()
	renderer, err := prompt.NewRenderer()
	require.NoError(t, err)
	runner := agentrunner.New().WithBinary(fakeAgentScript(t, response))
	return New(runner, renderer)
}

func noopReadFile(path string) (string, error) { return "", os.ErrNotExist }

func TestRunComparesAgainstDefaultBranch(t *testing.T) {
	resp := "```json\n{\"result\":\"approved\",\"summary\":\"ok\",\"issues\":[]}\n```"
	r := newTestReviewer(t, resp)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-0", Title: "t", BranchName: "conductor/task-0/x"}

	var gotBase, gotHead string
	client := &fakeForgeClient{defaultBranch: "main", compare: &forge.CompareResult{}}
	client.onCompare = func(base, head string) { gotBase, gotHead = base, head }

	_, err := r.Run(context.Background(), ops, task, client, nil, noopReadFile, "cred", 10)
	require.NoError(t, err)
	require.Equal(t, "main", gotBase)
	require.Equal(t, "conductor/task-0/x", gotHead)
}

func TestRunGetDefaultBranchFailureCompletesAgentRun(t *testing.T) {
	resp := "```json\n{\"result\":\"approved\",\"summary\":\"ok\",\"issues\":[]}\n```"
	r := newTestReviewer(t, resp)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-0b", Title: "t", BranchName: "conductor/task-0b/x"}
	client := &fakeForgeClient{defaultBranchErr: forge.ErrNotFound}

	_, err := r.Run(context.Background(), ops, task, client, nil, noopReadFile, "cred", 10)
	require.Error(t, err)

	var status string
	row := persistence.GetDB().QueryRow(`SELECT status FROM agent_runs WHERE task_id = ?`, task.ID)
	require.NoError(t, row.Scan(&status))
	require.Equal(t, string(persistence.AgentRunFailedS), status)
}

func TestRunApprovedWithinThreshold(t *testing.T) {
	resp := "```json\n{\"result\":\"changes_requested\",\"summary\":\"minor nit\",\"issues\":[{\"severity\":\"warning\",\"file\":\"a.go\",\"message\":\"nit\"}]}\n```"
	r := newTestReviewer(t, resp)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-1", Title: "t", BranchName: "conductor/task-1/x"}
	client := &fakeForgeClient{compare: &forge.CompareResult{ChangedFiles: []string{"a.go"}}}

	review, err := r.Run(context.Background(), ops, task, client, nil, noopReadFile, "cred", 10)
	require.NoError(t, err)
	require.Equal(t, persistence.ReviewApproved, review.Result)
	require.Equal(t, 1, review.Iteration)
	require.Len(t, review.Issues, 1)
}

func TestRunChangesRequestedAboveThreshold(t *testing.T) {
	resp := "```json\n{\"result\":\"changes_requested\",\"summary\":\"needs fixes\",\"issues\":[{\"severity\":\"error\",\"file\":\"a.go\",\"message\":\"bug\"}]}\n```"
	r := newTestReviewer(t, resp)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-2", Title: "t", BranchName: "conductor/task-2/x"}
	client := &fakeForgeClient{compare: &forge.CompareResult{ChangedFiles: []string{"a.go"}}}

	review, err := r.Run(context.Background(), ops, task, client, nil, noopReadFile, "cred", 10)
	require.NoError(t, err)
	require.Equal(t, persistence.ReviewChangesRequested, review.Result)
}

func TestRunFallsBackToFileContentsWhenDiffFails(t *testing.T) {
	resp := "```json\n{\"result\":\"approved\",\"summary\":\"ok\",\"issues\":[]}\n```"
	r := newTestReviewer(t, resp)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-3", Title: "t", BranchName: "conductor/task-3/x"}
	client := &fakeForgeClient{compareErr: forge.ErrNotFound}

	read := func(path string) (string, error) { return "package a\n", nil }
	review, err := r.Run(context.Background(), ops, task, client, []string{"a.go"}, read, "cred", 10)
	require.NoError(t, err)
	require.Equal(t, persistence.ReviewApproved, review.Result)
}

func TestRunShortCircuitsAtMaxIterations(t *testing.T) {
	r := newTestReviewer(t, "unused").WithLimits(2, DefaultPassThreshold)
	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-4", Title: "t", BranchName: "conductor/task-4/x"}
	client := &fakeForgeClient{compare: &forge.CompareResult{}}

	for i := 0; i < 2; i++ {
		review := &persistence.CodeReview{ID: "seed-" + string(rune('a'+i)), TaskID: task.ID, Result: persistence.ReviewChangesRequested, Iteration: i + 1}
		require.NoError(t, ops.InsertCodeReview(review))
	}

	review, err := r.Run(context.Background(), ops, task, client, nil, noopReadFile, "cred", 10)
	require.NoError(t, err)
	require.Equal(t, persistence.ReviewFailed, review.Result)
	require.Equal(t, "Maximum review iterations reached", review.Summary)
	require.Equal(t, 3, review.Iteration)
}
