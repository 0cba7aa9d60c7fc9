// Package fixer implements the Fixer agent (spec §4.9): given a code
// review's issue list, it re-invokes the agent CLI against the task's
// prepared workspace and reports which files it touched. Grounded on
// internal/decomposer and internal/reviewer for the
// render-prompt/run-agent sequence; the modified-files accounting is
// grounded on internal/workspace.Manager.ModifiedFiles.
package fixer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"conductor/internal/agentrunner"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
	"conductor/internal/workspace"
)

// Result is the outcome of one Fixer invocation.
type Result struct {
	Success       bool
	FilesModified []string
	InputTokens   int64
	OutputTokens  int64
	CostUSD       float64
}

// Fixer drives the fixer prompt against a task's outstanding review issues.
type Fixer struct {
	runner    *agentrunner.Runner
	renderer  *prompt.Renderer
	workspace *workspace.Manager
}

// New constructs a Fixer.
func New(runner *agentrunner.Runner, renderer *prompt.Renderer, wsManager *workspace.Manager) *Fixer {
	return &Fixer{runner: runner, renderer: renderer, workspace: wsManager}
}

// Run asks the agent CLI to address review's issues within ws, then
// reports the files it left modified in the working tree.
func (f *Fixer) Run(ctx context.Context, ops *persistence.DatabaseOperations, task *persistence.Task, review *persistence.CodeReview, ws *workspace.Workspace, credential string, maxTurns int) (*Result, error) {
	data := prompt.FixerRequestData{Title: task.Title}
	for _, issue := range review.Issues {
		line := 0
		if issue.Line != nil {
			line = *issue.Line
		}
		data.Issues = append(data.Issues, prompt.FixerIssue{
			Severity:   string(issue.Severity),
			File:       issue.File,
			Line:       line,
			Message:    issue.Message,
			Suggestion: issue.Suggestion,
		})
	}

	requestPrompt, err := f.renderer.Render(prompt.FixerRequest, data)
	if err != nil {
		return nil, fmt.Errorf("fixer: render prompt: %w", err)
	}
	systemPrompt, err := f.renderer.Render(prompt.FixerSystem, nil)
	if err != nil {
		return nil, fmt.Errorf("fixer: render system prompt: %w", err)
	}

	run := &persistence.AgentRun{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Type:   persistence.AgentRunSubAgent,
		Status: persistence.AgentRunRunning,
	}
	if err := ops.InsertAgentRun(run); err != nil {
		return nil, fmt.Errorf("fixer: insert agent run: %w", err)
	}

	runResult, err := f.runner.Run(ctx, agentrunner.RunOptions{
		Prompt:       requestPrompt,
		SystemPrompt: systemPrompt,
		Credential:   credential,
		MaxTurns:     maxTurns,
		WorkDir:      ws.Dir,
	})
	if err != nil {
		_ = ops.CompleteAgentRun(run.ID, persistence.AgentRunFailedS, 0, 0, 0, err.Error())
		return nil, fmt.Errorf("fixer: agent run: %w", err)
	}

	status := persistence.AgentRunComplete
	if !runResult.Success {
		status = persistence.AgentRunFailedS
	}
	if err := ops.CompleteAgentRun(run.ID, status, runResult.InputTokens, runResult.OutputTokens, runResult.TotalCostUSD, runResult.Output); err != nil {
		return nil, fmt.Errorf("fixer: complete agent run: %w", err)
	}

	gitModified, err := f.workspace.ModifiedFiles(ctx, ws)
	if err != nil {
		return nil, fmt.Errorf("fixer: modified files: %w", err)
	}

	return &Result{
		Success:       runResult.Success,
		FilesModified: unionFiles(runResult.FilesModified, gitModified),
		InputTokens:   runResult.InputTokens,
		OutputTokens:  runResult.OutputTokens,
		CostUSD:       runResult.TotalCostUSD,
	}, nil
}

// unionFiles merges the agent's self-reported touched files with git's
// own view of the working tree, since a tool call the agent made outside
// its reported edits (e.g. a generated file) still counts as modified.
func unionFiles(reported, gitStatus []string) []string {
	seen := make(map[string]bool, len(reported)+len(gitStatus))
	var union []string
	for _, group := range [][]string{reported, gitStatus} {
		for _, path := range group {
			if seen[path] {
				continue
			}
			seen[path] = true
			union = append(union, path)
		}
	}
	return union
}
