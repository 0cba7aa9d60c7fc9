// Package reviewer implements the Reviewer agent (spec §4.8): it gathers
// the task's modified files, diffs them against the base branch (falling
// back to full file contents), asks the LLM to judge the change, and
// applies a pass-threshold override before persisting a CodeReview row.
// Grounded on the teacher's pkg/coder/code_parsing_test.go review-response
// shape and pkg/architect code-review state for the overall "count
// iterations, cap at a maximum, persist a structured verdict" pattern.
package reviewer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"conductor/internal/agentrunner"
	"conductor/internal/forge"
	"conductor/internal/llmjson"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
)

// DefaultMaxIterations caps review/fix cycles per task.
const DefaultMaxIterations = 3

// DefaultPassThreshold is the maximum count of error-severity issues that
// is still force-approved.
const DefaultPassThreshold = 0

type reviewResponse struct {
	Result  string          `json:"result"`
	Summary string          `json:"summary"`
	Issues  []issueResponse `json:"issues"`
}

type issueResponse struct {
	Severity   string `json:"severity"`
	File       string `json:"file"`
	Line       *int   `json:"line"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// Reviewer drives the review prompt against a task's modified files.
type Reviewer struct {
	runner        *agentrunner.Runner
	renderer      *prompt.Renderer
	maxIterations int
	passThreshold int
}

// New constructs a Reviewer with default iteration/threshold limits.
func New(runner *agentrunner.Runner, renderer *prompt.Renderer) *Reviewer {
	return &Reviewer{runner: runner, renderer: renderer, maxIterations: DefaultMaxIterations, passThreshold: DefaultPassThreshold}
}

// WithLimits overrides the default maxIterations/passThreshold, for tests
// and for config-driven tuning.
func (r *Reviewer) WithLimits(maxIterations, passThreshold int) *Reviewer {
	r.maxIterations = maxIterations
	r.passThreshold = passThreshold
	return r
}

// FileReader reads a file's content from the prepared workspace, used as
// the fallback when a compare-commits diff can't be obtained.
type FileReader func(path string) (string, error)

// Run executes the Reviewer contract for task, returning the persisted
// CodeReview. baseBranch/headBranch name the compare-commits range;
// modifiedFiles is the union of the task's subtasks' filesModified.
func (r *Reviewer) Run(ctx context.Context, ops *persistence.DatabaseOperations, task *persistence.Task, client forge.Client, modifiedFiles []string, readFile FileReader, credential string, maxTurns int) (*persistence.CodeReview, error) {
	count, err := ops.CountReviewsForTask(task.ID)
	if err != nil {
		return nil, fmt.Errorf("reviewer: count reviews: %w", err)
	}
	iteration := count + 1

	if iteration > r.maxIterations {
		review := &persistence.CodeReview{
			ID:        uuid.NewString(),
			TaskID:    task.ID,
			Result:    persistence.ReviewFailed,
			Iteration: iteration,
			Summary:   "Maximum review iterations reached",
		}
		if err := ops.InsertCodeReview(review); err != nil {
			return nil, fmt.Errorf("reviewer: insert review: %w", err)
		}
		return review, nil
	}

	run := &persistence.AgentRun{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Type:   persistence.AgentRunCodeReview,
		Status: persistence.AgentRunRunning,
	}
	if err := ops.InsertAgentRun(run); err != nil {
		return nil, fmt.Errorf("reviewer: insert agent run: %w", err)
	}

	baseBranch, err := client.GetDefaultBranch(ctx)
	if err != nil {
		_ = ops.CompleteAgentRun(run.ID, persistence.AgentRunFailedS, 0, 0, 0, err.Error())
		return nil, fmt.Errorf("reviewer: get default branch: %w", err)
	}

	data := prompt.ReviewerRequestData{
		Title:       task.Title,
		Description: task.Description,
		Iteration:   iteration,
		BaseBranch:  baseBranch,
		HeadBranch:  task.BranchName,
	}

	diff, diffErr := client.CompareCommits(ctx, baseBranch, task.BranchName)
	if diffErr == nil && diff != nil {
		data.DiffAvailable = true
		data.Diff = fmt.Sprintf("%d file(s) changed: %v", len(diff.ChangedFiles), diff.ChangedFiles)
	} else {
		data.DiffAvailable = false
		for _, path := range modifiedFiles {
			content, err := readFile(path)
			if err != nil {
				continue
			}
			data.Files = append(data.Files, prompt.ContextFile{Path: path, Content: content})
		}
	}

	requestPrompt, err := r.renderer.Render(prompt.ReviewerRequest, data)
	if err != nil {
		return nil, fmt.Errorf("reviewer: render prompt: %w", err)
	}
	systemPrompt, err := r.renderer.Render(prompt.ReviewerSystem, nil)
	if err != nil {
		return nil, fmt.Errorf("reviewer: render system prompt: %w", err)
	}

	runResult, err := r.runner.Run(ctx, agentrunner.RunOptions{
		Prompt:       requestPrompt,
		SystemPrompt: systemPrompt,
		Credential:   credential,
		MaxTurns:     maxTurns,
	})
	if err != nil {
		_ = ops.CompleteAgentRun(run.ID, persistence.AgentRunFailedS, 0, 0, 0, err.Error())
		return nil, fmt.Errorf("reviewer: agent run: %w", err)
	}

	var decoded reviewResponse
	if err := llmjson.ParseFirst(runResult.Output, &decoded); err != nil {
		_ = ops.CompleteAgentRun(run.ID, persistence.AgentRunFailedS, runResult.InputTokens, runResult.OutputTokens, runResult.TotalCostUSD, err.Error())
		return nil, fmt.Errorf("reviewer: parse response: %w", err)
	}
	if err := ops.CompleteAgentRun(run.ID, persistence.AgentRunComplete, runResult.InputTokens, runResult.OutputTokens, runResult.TotalCostUSD, runResult.Output); err != nil {
		return nil, fmt.Errorf("reviewer: complete agent run: %w", err)
	}

	issues := make([]persistence.ReviewIssue, len(decoded.Issues))
	errorCount := 0
	for i, issue := range decoded.Issues {
		severity := persistence.Severity(issue.Severity)
		if severity == persistence.SeverityError {
			errorCount++
		}
		issues[i] = persistence.ReviewIssue{
			File:       issue.File,
			Line:       issue.Line,
			Severity:   severity,
			Message:    issue.Message,
			Suggestion: issue.Suggestion,
		}
	}

	result := persistence.ReviewResult(decoded.Result)
	if errorCount <= r.passThreshold {
		result = persistence.ReviewApproved
	}

	review := &persistence.CodeReview{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		AgentRunID: run.ID,
		Result:     result,
		Iteration:  iteration,
		Summary:    decoded.Summary,
		Issues:     issues,
	}
	if err := ops.InsertCodeReview(review); err != nil {
		return nil, fmt.Errorf("reviewer: insert review: %w", err)
	}
	return review, nil
}
