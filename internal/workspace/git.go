// Package workspace manages the per-task git lifecycle: a shared bare
// mirror per repository, a worktree checked out per task, commit/push of
// agent-produced changes, and per-task mutual exclusion so two jobs never
// touch the same working tree concurrently.
//
// Grounded on the teacher's pkg/coder/git.go (GitRunner abstraction,
// mirror-clone-plus-worktree setup) and pkg/workspace/tempclone.go
// (AtomicReplace, temp-dir-under-project-dir convention).
package workspace

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"conductor/internal/logx"
)

// GitRunner executes a git subcommand in a working directory and returns
// its combined output. Exists so tests can substitute a fake without
// shelling out.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecGitRunner runs git via os/exec.
type ExecGitRunner struct {
	logger *logx.Logger
}

// NewExecGitRunner constructs the production GitRunner.
func NewExecGitRunner() *ExecGitRunner {
	return &ExecGitRunner{logger: logx.NewLogger("git")}
}

// Run implements GitRunner.
func (g *ExecGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	logDir := dir
	if logDir == "" {
		logDir = "."
	}
	g.logger.Debug("cd %s && git %s", logDir, strings.Join(args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("git %s failed in %s: %w\noutput: %s", strings.Join(args, " "), dir, err, string(output))
	}
	return output, nil
}
