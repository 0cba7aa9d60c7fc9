package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"conductor/internal/logx"
)

// Workspace is a prepared working tree ready for an agent to edit.
type Workspace struct {
	Dir        string
	BranchName string
	RepoURL    string
}

// Manager owns one bare mirror per repository and one worktree per task,
// and serializes all operations on a given task's worktree so the task
// and subtask processors never race on the same files.
type Manager struct {
	rootDir string
	git     GitRunner
	logger  *logx.Logger

	locks sync.Map // taskID -> *sync.Mutex
}

// New constructs a Manager rooted at rootDir (mirrors live in
// <rootDir>/.mirrors, worktrees in <rootDir>/<taskID>).
func New(rootDir string, git GitRunner) *Manager {
	return &Manager{
		rootDir: rootDir,
		git:     git,
		logger:  logx.NewLogger("workspace"),
	}
}

func (m *Manager) lockFor(taskID string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(taskID, &sync.Mutex{})
	return l.(*sync.Mutex) //nolint:forcetypeassert // locks map only ever holds *sync.Mutex
}

func (m *Manager) mirrorPath(repoURL string) string {
	name := filepath.Base(repoURL)
	name = strings.TrimSuffix(name, ".git")
	return filepath.Join(m.rootDir, ".mirrors", name+".git")
}

func (m *Manager) taskDir(taskID string) string {
	return filepath.Join(m.rootDir, taskID)
}

func (m *Manager) ensureMirror(ctx context.Context, repoURL string) (string, error) {
	mirror := m.mirrorPath(repoURL)
	if _, err := os.Stat(mirror); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(mirror), 0o755); err != nil {
			return "", fmt.Errorf("create mirror parent: %w", err)
		}
		if _, err := m.git.Run(ctx, "", "clone", "--bare", repoURL, mirror); err != nil {
			return "", fmt.Errorf("clone mirror: %w", err)
		}
		return mirror, nil
	}

	if _, err := m.git.Run(ctx, mirror, "remote", "update", "--prune"); err != nil {
		return "", fmt.Errorf("update mirror: %w", err)
	}
	return mirror, nil
}

// PrepareWorkspace ensures the repository's mirror is current, checks out
// (or reuses) a worktree for taskID, and makes sure branchName exists and
// is checked out. Idempotent: calling it again for the same task resumes
// the existing worktree rather than re-cloning.
func (m *Manager) PrepareWorkspace(ctx context.Context, taskID, repoURL, baseBranch, branchName string) (*Workspace, error) {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	mirror, err := m.ensureMirror(ctx, repoURL)
	if err != nil {
		return nil, err
	}

	dir := m.taskDir(taskID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return nil, fmt.Errorf("create task worktree parent: %w", err)
		}
		if _, err := m.git.Run(ctx, mirror, "worktree", "add", "--detach", dir, baseBranch); err != nil {
			return nil, fmt.Errorf("add worktree: %w", err)
		}
		if err := m.checkoutOrCreateBranch(ctx, dir, branchName); err != nil {
			return nil, err
		}
	}

	return &Workspace{Dir: dir, BranchName: branchName, RepoURL: repoURL}, nil
}

func (m *Manager) checkoutOrCreateBranch(ctx context.Context, dir, branchName string) error {
	if _, err := m.git.Run(ctx, dir, "switch", branchName); err == nil {
		return nil
	}
	if _, err := m.git.Run(ctx, dir, "switch", "-c", branchName); err != nil {
		return fmt.Errorf("create branch %s: %w", branchName, err)
	}
	return nil
}

const botAuthor = "conductor-bot <conductor-bot@users.noreply.github.com>"

// CommitAndPush stages everything, commits under the bot identity if the
// tree is dirty, and pushes the branch. A clean tree is not an error: it
// returns the current HEAD commit id unchanged. Push failures are
// returned to the caller, who decides whether they're fatal (spec §4.4:
// non-fatal pre-review, fatal at create_pr time).
func (m *Manager) CommitAndPush(ctx context.Context, ws *Workspace, message string) (string, error) {
	lock := m.lockFor(filepath.Base(ws.Dir))
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.git.Run(ctx, ws.Dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %w", err)
	}

	statusOut, err := m.git.Run(ctx, ws.Dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	if len(strings.TrimSpace(string(statusOut))) == 0 {
		head, err := m.git.Run(ctx, ws.Dir, "rev-parse", "HEAD")
		if err != nil {
			return "", fmt.Errorf("rev-parse HEAD: %w", err)
		}
		return strings.TrimSpace(string(head)), nil
	}

	if _, err := m.git.Run(ctx, ws.Dir, "-c", "user.name=conductor-bot", "-c", "user.email=conductor-bot@users.noreply.github.com",
		"commit", "-m", message, "--author", botAuthor); err != nil {
		return "", fmt.Errorf("git commit: %w", err)
	}

	if _, err := m.git.Run(ctx, ws.Dir, "push", "-u", "origin", ws.BranchName); err != nil {
		return "", fmt.Errorf("git push: %w", err)
	}

	head, err := m.git.Run(ctx, ws.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("rev-parse HEAD after commit: %w", err)
	}
	return strings.TrimSpace(string(head)), nil
}

// ModifiedFiles returns the paths git considers modified, added, or
// deleted relative to the last commit, used as a fallback when an agent
// run doesn't self-report its file changes.
func (m *Manager) ModifiedFiles(ctx context.Context, ws *Workspace) ([]string, error) {
	out, err := m.git.Run(ctx, ws.Dir, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		files = append(files, fields[len(fields)-1])
	}
	return files, nil
}

// Cleanup removes a task's worktree. Safe to call on a task that has no
// worktree.
func (m *Manager) Cleanup(ctx context.Context, taskID, repoURL string) error {
	lock := m.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	dir := m.taskDir(taskID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	mirror := m.mirrorPath(repoURL)
	if _, err := m.git.Run(ctx, mirror, "worktree", "remove", "--force", dir); err != nil {
		m.logger.Warn("worktree remove failed for %s, removing directory directly: %v", dir, err)
		return os.RemoveAll(dir)
	}
	return nil
}
