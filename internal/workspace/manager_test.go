package workspace

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGitRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func newFakeGitRunner() *fakeGitRunner {
	return &fakeGitRunner{fail: map[string]error{}}
}

func (f *fakeGitRunner) Run(_ context.Context, dir string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := fmt.Sprintf("%s|%s", dir, strings.Join(args, " "))
	f.calls = append(f.calls, call)

	if len(args) == 0 {
		return nil, nil
	}
	switch args[0] {
	case "clone":
		// Real git creates the target directory; mirror that so existence checks see it.
		_ = os.MkdirAll(args[len(args)-1], 0o755)
	case "worktree":
		if len(args) > 3 && args[1] == "add" {
			_ = os.MkdirAll(args[3], 0o755)
		}
	case "status":
		return []byte(""), nil
	case "rev-parse":
		return []byte("deadbeef\n"), nil
	case "switch":
		if err, ok := f.fail["switch"]; ok {
			return nil, err
		}
		return []byte(""), nil
	}
	return []byte(""), nil
}

func TestPrepareWorkspaceClonesMirrorAndWorktreeOnce(t *testing.T) {
	git := newFakeGitRunner()
	m := New(t.TempDir(), git)

	ws, err := m.PrepareWorkspace(context.Background(), "task-1", "https://example.com/o/r.git", "main", "conductor/task-1/add-x")
	require.NoError(t, err)
	require.Equal(t, "conductor/task-1/add-x", ws.BranchName)

	_, err = m.PrepareWorkspace(context.Background(), "task-1", "https://example.com/o/r.git", "main", "conductor/task-1/add-x")
	require.NoError(t, err)

	var cloneCalls, worktreeCalls int
	for _, c := range git.calls {
		if strings.Contains(c, "clone --bare") {
			cloneCalls++
		}
		if strings.Contains(c, "worktree add") {
			worktreeCalls++
		}
	}
	require.Equal(t, 1, cloneCalls)
	require.Equal(t, 1, worktreeCalls)
}

func TestCommitAndPushCleanTreeReturnsHeadWithoutCommitting(t *testing.T) {
	git := newFakeGitRunner()
	m := New(t.TempDir(), git)
	ws := &Workspace{Dir: t.TempDir(), BranchName: "conductor/task-1/x"}

	head, err := m.CommitAndPush(context.Background(), ws, "wip")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", head)

	for _, c := range git.calls {
		require.NotContains(t, c, "commit -m")
	}
}

func TestModifiedFilesParsesPorcelainStatus(t *testing.T) {
	m := New(t.TempDir(), statusStub("M  packages/api/handler.go\n?? packages/web/new.tsx\n"))
	files, err := m.ModifiedFiles(context.Background(), &Workspace{Dir: "."})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"packages/api/handler.go", "packages/web/new.tsx"}, files)
}

type statusStub string

func (s statusStub) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return []byte(string(s)), nil
}
