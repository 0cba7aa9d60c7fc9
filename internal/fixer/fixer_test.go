package fixer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/agentrunner"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
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

type statusStub string

func (s statusStub) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return []byte(string(s)), nil
}

func fakeAgentScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent.sh")
	script := "#!/bin/sh\necho '{\"type\":\"result\",\"result\":{\"success\":true}}'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunFixesIssuesAndUnionsModifiedFiles(t *testing.T) {
	renderer, err := prompt.NewRenderer()
	require.NoError(t, err)
	runner := agentrunner.New().WithBinary(fakeAgentScript(t))
	wsManager := workspace.New(t.TempDir(), statusStub("M  a.go\n?? b.go\n"))
	f := New(runner, renderer, wsManager)

	ops := newTestOps(t)
	task := &persistence.Task{ID: "task-1", Title: "fix it"}
	line := 12
	review := &persistence.CodeReview{
		ID:     "review-1",
		TaskID: task.ID,
		Issues: []persistence.ReviewIssue{
			{Severity: persistence.SeverityError, File: "a.go", Line: &line, Message: "bug", Suggestion: "do x"},
		},
	}
	ws := &workspace.Workspace{Dir: t.TempDir(), BranchName: "conductor/task-1/x"}

	result, err := f.Run(context.Background(), ops, task, review, ws, "cred", 10)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.ElementsMatch(t, []string{"a.go", "b.go"}, result.FilesModified)
}

func TestUnionFilesDeduplicates(t *testing.T) {
	got := unionFiles([]string{"a.go", "b.go"}, []string{"b.go", "c.go"})
	require.ElementsMatch(t, []string{"a.go", "b.go", "c.go"}, got)
}
