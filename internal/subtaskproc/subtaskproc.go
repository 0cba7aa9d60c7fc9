// Package subtaskproc implements the Subtask Processor (spec §4.5): the
// subtasks-queue handler that prepares a workspace, runs the agent CLI
// against one subtask, and records the outcome. Grounded on
// internal/taskproc for the load-transition-invoke-persist shape, and on
// internal/agentpool (spec §4.11) for RunForTask's per-task bounded-
// concurrency fan-out of several of one task's subtasks at once. Only
// Handle is wired into the running service; nothing in this repository
// calls RunForTask.
package subtaskproc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conductor/internal/agentpool"
	"conductor/internal/agentrunner"
	"conductor/internal/branchname"
	"conductor/internal/config"
	"conductor/internal/forge"
	"conductor/internal/logx"
	"conductor/internal/metrics"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
	"conductor/internal/queue"
	"conductor/internal/subtaskfsm"
	"conductor/internal/workspace"
)

// Payload is the subtasks-queue job body.
type Payload struct {
	SubtaskID string `json:"subtaskId"`
}

// ClientFactory resolves the forge client for a task's repository.
type ClientFactory func(ctx context.Context, task *persistence.Task) (forge.Client, error)

// CredentialSource resolves the LLM API credential to run agents with.
type CredentialSource func(ctx context.Context, task *persistence.Task) (string, error)

// RepoURLSource resolves an authenticated clone URL for a task's repository.
type RepoURLSource func(ctx context.Context, task *persistence.Task) (string, error)

// Processor drives Subtask jobs off the subtasks queue.
type Processor struct {
	Ops        *persistence.DatabaseOperations
	Workspace  *workspace.Manager
	Runner     *agentrunner.Runner
	Renderer   *prompt.Renderer
	Forge      ClientFactory
	Credential CredentialSource
	RepoURL    RepoURLSource
	Config     func() config.Config
	MaxTurns   int
	Metrics    metrics.Recorder
	logger     *logx.Logger
}

// New constructs a Processor. Config defaults to config.Get and Metrics to
// a no-op recorder when unset.
func New(p Processor) *Processor {
	if p.Config == nil {
		p.Config = config.Get
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Nop()
	}
	p.logger = logx.NewLogger("subtaskproc")
	return &p
}

// Handle implements queue.Handler for the subtasks queue.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("subtaskproc: decode payload: %w", err)
	}
	return p.runOne(ctx, payload.SubtaskID)
}

// RunForTask runs every named subtask of one task concurrently, bounded by
// maxParallel, via agentpool.Pool (spec §4.11). Used when the caller wants
// to fan a task's ready subtasks out in-process instead of relying solely
// on the subtasks queue's own consumer loop to drain them one at a time.
func (p *Processor) RunForTask(ctx context.Context, subtaskIDs []string, maxParallel int) map[string]agentpool.Outcome {
	pool := agentpool.New(maxParallel)
	for _, id := range subtaskIDs {
		subtaskID := id
		_ = pool.Add(subtaskID, func(runCtx context.Context) (any, error) {
			return nil, p.runOne(runCtx, subtaskID)
		})
	}
	return pool.RunAll(ctx, nil)
}

func (p *Processor) runOne(ctx context.Context, subtaskID string) error {
	subtask, err := p.Ops.GetSubtask(subtaskID)
	if err != nil {
		return fmt.Errorf("subtaskproc: load subtask %s: %w", subtaskID, err)
	}
	task, err := p.Ops.GetTask(subtask.TaskID)
	if err != nil {
		return fmt.Errorf("subtaskproc: load task %s: %w", subtask.TaskID, err)
	}

	if err := p.runAndRecord(ctx, task, subtask); err != nil {
		_ = p.Ops.SetSubtaskResult(subtask.ID, "", subtask.FilesModified, err.Error())
		if subtaskfsm.IsValidTransition(subtask.Status, persistence.SubtaskFailed) {
			_ = p.Ops.UpdateSubtaskStatus(subtask.ID, persistence.SubtaskFailed)
		}
		return err
	}
	return nil
}

func (p *Processor) runAndRecord(ctx context.Context, task *persistence.Task, subtask *persistence.Subtask) error {
	if err := p.transitionSubtask(subtask, persistence.SubtaskQueued); err != nil {
		return err
	}
	if err := p.transitionSubtask(subtask, persistence.SubtaskRunning); err != nil {
		return err
	}

	run := &persistence.AgentRun{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		SubtaskID: &subtask.ID,
		Type:      persistence.AgentRunSubAgent,
		Status:    persistence.AgentRunStarting,
	}
	if err := p.Ops.InsertAgentRun(run); err != nil {
		return fmt.Errorf("subtaskproc: insert agent run: %w", err)
	}
	if err := p.Ops.SetSubtaskResult(subtask.ID, run.ID, subtask.FilesModified, subtask.ErrorMessage); err != nil {
		return fmt.Errorf("subtaskproc: record agent run id: %w", err)
	}

	ws, err := p.prepareWorkspace(ctx, task)
	if err != nil {
		return err
	}

	credential, err := p.Credential(ctx, task)
	if err != nil {
		return fmt.Errorf("subtaskproc: credential: %w", err)
	}

	requestPrompt := subtask.Description
	if requestPrompt == "" {
		requestPrompt = subtask.Title
	}
	systemPrompt, err := p.Renderer.Render(prompt.MasterSystem, nil)
	if err != nil {
		return fmt.Errorf("subtaskproc: render system prompt: %w", err)
	}

	if err := p.Ops.CompleteAgentRun(run.ID, persistence.AgentRunRunning, 0, 0, 0, ""); err != nil {
		return fmt.Errorf("subtaskproc: mark agent run running: %w", err)
	}

	started := time.Now()
	runResult, err := p.Runner.Run(ctx, agentrunner.RunOptions{
		WorkDir:      workDirFor(ws, subtask.SubprojectPath),
		Prompt:       requestPrompt,
		SystemPrompt: systemPrompt,
		Credential:   credential,
		MaxTurns:     p.MaxTurns,
	})
	if err != nil {
		_ = p.Ops.CompleteAgentRun(run.ID, persistence.AgentRunFailedS, 0, 0, 0, err.Error())
		p.Metrics.ObserveAgentRun(string(persistence.AgentRunSubAgent), "", 0, 0, 0, false, time.Since(started))
		return fmt.Errorf("subtaskproc: agent run: %w", err)
	}

	status := persistence.AgentRunComplete
	if !runResult.Success {
		status = persistence.AgentRunFailedS
	}
	if err := p.Ops.CompleteAgentRun(run.ID, status, runResult.InputTokens, runResult.OutputTokens, runResult.TotalCostUSD, runResult.Output); err != nil {
		return fmt.Errorf("subtaskproc: complete agent run: %w", err)
	}
	p.Metrics.ObserveAgentRun(string(persistence.AgentRunSubAgent), "", int(runResult.InputTokens), int(runResult.OutputTokens), runResult.TotalCostUSD, runResult.Success, time.Since(started))

	if !runResult.Success {
		return fmt.Errorf("subtaskproc: agent run for subtask %s exited %d", subtask.ID, runResult.ExitCode)
	}

	if err := p.Ops.SetSubtaskResult(subtask.ID, run.ID, runResult.FilesModified, ""); err != nil {
		return fmt.Errorf("subtaskproc: record subtask result: %w", err)
	}
	return p.transitionSubtask(subtask, persistence.SubtaskCompleted)
}

func (p *Processor) transitionSubtask(subtask *persistence.Subtask, to persistence.SubtaskStatus) error {
	if err := subtaskfsm.CheckTransition(subtask.Status, to); err != nil {
		return err
	}
	from := subtask.Status
	if err := p.Ops.UpdateSubtaskStatus(subtask.ID, to); err != nil {
		return err
	}
	subtask.Status = to
	p.Metrics.ObserveSubtaskTransition(string(from), string(to))
	return nil
}

func (p *Processor) prepareWorkspace(ctx context.Context, task *persistence.Task) (*workspace.Workspace, error) {
	repoURL, err := p.RepoURL(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("subtaskproc: repo url: %w", err)
	}
	client, err := p.Forge(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("subtaskproc: forge client: %w", err)
	}
	baseBranch, err := client.GetDefaultBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("subtaskproc: get default branch: %w", err)
	}

	branchName := task.BranchName
	if branchName == "" {
		branchName = branchname.Generate(p.Config().Workflow.BranchPattern, task.ID, task.Title)
	}
	ws, err := p.Workspace.PrepareWorkspace(ctx, task.ID, repoURL, baseBranch, branchName)
	if err != nil {
		return nil, fmt.Errorf("subtaskproc: prepare workspace: %w", err)
	}

	if task.BranchName == "" {
		if err := p.Ops.SetTaskBranchAndPR(task.ID, ws.BranchName, 0, ""); err != nil {
			return nil, err
		}
		task.BranchName = ws.BranchName
	}
	return ws, nil
}

func workDirFor(ws *workspace.Workspace, subprojectPath string) string {
	if subprojectPath == "" || subprojectPath == "." {
		return ws.Dir
	}
	return ws.Dir + "/" + subprojectPath
}
