// Package decomposer implements the Master agent (spec §4.7): it asks the
// LLM to split a task into subtasks (simple) or child work items (epic),
// or to flag the task for human review. Grounded on the teacher's
// pkg/architect spec2stories.go (LLM-driven decomposition of a spec into
// stories) for the overall shape, with the teacher's fenced-block parsing
// replaced by internal/llmjson since the teacher integration this is
// modeled on instead drives a structured-output API.
package decomposer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"conductor/internal/agentrunner"
	"conductor/internal/config"
	"conductor/internal/forge"
	"conductor/internal/llmjson"
	"conductor/internal/persistence"
	"conductor/internal/prompt"
	"conductor/internal/subproject"
)

const maxRepoPaths = 500

var contextFileNames = []string{
	"README.md", "CLAUDE.md", "REQUIREMENTS.md", "package.json", "pnpm-workspace.yaml", "turbo.json",
}

// SubtaskDefinition is one subtask the model proposed for a simple task.
type SubtaskDefinition struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	SubprojectPath string   `json:"subprojectPath"`
	DependsOn      []string `json:"dependsOn"`
}

// ChildDefinition is one child work item the model proposed for an epic.
type ChildDefinition struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	DependsOn   []string `json:"dependsOn"`
}

type decompositionResponse struct {
	Type                string              `json:"type"`
	Subtasks            []SubtaskDefinition `json:"subtasks"`
	Children            []ChildDefinition   `json:"children"`
	AffectedSubprojects []string            `json:"affectedSubprojects"`
	Summary             string              `json:"summary"`
	NeedsHumanReview    bool                `json:"needsHumanReview"`
	Question            string              `json:"question"`
}

// Result is the outcome of Decomposer.Run.
type Result struct {
	NeedsHumanReview    bool
	Question            string
	IsEpic              bool
	Subtasks            []persistence.Subtask
	AffectedSubprojects []string
	Summary             string
	Children            []ChildDefinition
}

// Decomposer drives the master prompt against a task's repository.
type Decomposer struct {
	runner   *agentrunner.Runner
	renderer *prompt.Renderer
}

// New constructs a Decomposer.
func New(runner *agentrunner.Runner, renderer *prompt.Renderer) *Decomposer {
	return &Decomposer{runner: runner, renderer: renderer}
}

// Run executes the Decomposer contract for task against the given forge
// client, returning validated subtasks (already persisted) for a simple
// task, or child definitions for the Task Processor to turn into issues.
func (d *Decomposer) Run(ctx context.Context, ops *persistence.DatabaseOperations, task *persistence.Task, client forge.Client, credential string, maxTurns int) (*Result, error) {
	branch, err := client.GetDefaultBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("decomposer: get default branch: %w", err)
	}

	paths, err := fetchRepoTree(ctx, client, branch)
	if err != nil {
		return nil, fmt.Errorf("decomposer: fetch repo tree: %w", err)
	}

	cfg := config.Default()
	if raw, err := client.GetFileContent(ctx, branch, ".conductor.yml"); err == nil {
		if parsed, parseErr := config.Parse(raw); parseErr == nil {
			cfg = parsed
		}
	}

	detector := subproject.NewDetector(cfg.Subprojects)
	detected := detector.Detect(paths)

	contextFiles := fetchContextFiles(ctx, client, branch)

	analysisPrompt, err := d.renderer.Render(prompt.DecomposerAnalysis, buildAnalysisData(task, paths, detected, contextFiles))
	if err != nil {
		return nil, fmt.Errorf("decomposer: render prompt: %w", err)
	}

	systemPrompt, err := d.renderer.Render(prompt.MasterSystem, nil)
	if err != nil {
		return nil, fmt.Errorf("decomposer: render system prompt: %w", err)
	}

	runResult, err := d.runner.Run(ctx, agentrunner.RunOptions{
		Prompt:       analysisPrompt,
		SystemPrompt: systemPrompt,
		Credential:   credential,
		MaxTurns:     maxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposer: agent run: %w", err)
	}
	if !runResult.Success {
		return nil, fmt.Errorf("decomposer: agent run exited %d", runResult.ExitCode)
	}

	var decoded decompositionResponse
	if err := llmjson.ParseFirst(runResult.Output, &decoded); err != nil {
		// A decomposition that fails to parse still has to make progress:
		// fall back to a single subtask covering the whole task rather
		// than failing it outright (spec §9).
		return d.insertSimpleSubtasks(ops, task, nil, detected)
	}

	if decoded.NeedsHumanReview {
		return &Result{NeedsHumanReview: true, Question: decoded.Question}, nil
	}

	switch decoded.Type {
	case "epic":
		return &Result{IsEpic: true, Children: decoded.Children}, nil
	case "simple", "":
		result, err := d.insertSimpleSubtasks(ops, task, decoded.Subtasks, detected)
		if err != nil {
			return nil, err
		}
		result.AffectedSubprojects = decoded.AffectedSubprojects
		result.Summary = decoded.Summary
		return result, nil
	default:
		return nil, fmt.Errorf("decomposer: unknown decomposition type %q", decoded.Type)
	}
}

// insertSimpleSubtasks validates and persists a simple-task decomposition.
// proposed may be empty (either the model returned none, or the response
// failed to parse), in which case validateSubtasks synthesizes a single
// subtask covering the whole task.
func (d *Decomposer) insertSimpleSubtasks(ops *persistence.DatabaseOperations, task *persistence.Task, proposed []SubtaskDefinition, detected []subproject.Subproject) (*Result, error) {
	subtasks := validateSubtasks(proposed, detected, task)
	rows := make([]persistence.Subtask, 0, len(subtasks))
	for _, sub := range subtasks {
		row := persistence.Subtask{
			ID:             uuid.NewString(),
			TaskID:         task.ID,
			SubprojectPath: sub.SubprojectPath,
			Title:          sub.Title,
			Description:    sub.Description,
			Status:         persistence.SubtaskPending,
			DependsOn:      sub.DependsOn,
		}
		if err := ops.InsertSubtask(&row); err != nil {
			return nil, fmt.Errorf("decomposer: insert subtask: %w", err)
		}
		rows = append(rows, row)
	}
	return &Result{Subtasks: rows}, nil
}

// validateSubtasks enforces step 8 of the contract: subprojectPath must be
// a detected subproject or ".", and an empty list synthesizes one subtask
// targeting "." with the task's own title/description.
func validateSubtasks(proposed []SubtaskDefinition, detected []subproject.Subproject, task *persistence.Task) []SubtaskDefinition {
	if len(proposed) == 0 {
		return []SubtaskDefinition{{
			Title:       task.Title,
			Description: task.Description,
			SubprojectPath: ".",
		}}
	}

	valid := map[string]bool{".": true}
	for _, sp := range detected {
		valid[sp.Path] = true
	}

	result := make([]SubtaskDefinition, 0, len(proposed))
	for _, sub := range proposed {
		if !valid[sub.SubprojectPath] {
			sub.SubprojectPath = "."
		}
		result = append(result, sub)
	}
	return result
}

func fetchRepoTree(ctx context.Context, client forge.Client, branch string) ([]string, error) {
	entries, err := client.GetRepoTree(ctx, branch)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type != "blob" || isHidden(e.Path) {
			continue
		}
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	if len(paths) > maxRepoPaths {
		paths = paths[:maxRepoPaths]
	}
	return paths, nil
}

func isHidden(path string) bool {
	for _, segment := range strings.Split(path, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

func fetchContextFiles(ctx context.Context, client forge.Client, branch string) []prompt.ContextFile {
	var files []prompt.ContextFile
	for _, name := range contextFileNames {
		content, err := client.GetFileContent(ctx, branch, name)
		if err != nil {
			continue
		}
		files = append(files, prompt.ContextFile{Path: name, Content: string(content)})
	}
	return files
}

func buildAnalysisData(task *persistence.Task, paths []string, detected []subproject.Subproject, contextFiles []prompt.ContextFile) prompt.DecomposerAnalysisData {
	subprojects := make([]prompt.DecomposerSubproject, len(detected))
	for i, sp := range detected {
		subprojects[i] = prompt.DecomposerSubproject{Path: sp.Path, Name: sp.Name, Language: sp.Language}
	}
	return prompt.DecomposerAnalysisData{
		Title:        task.Title,
		Description:  task.Description,
		RepoFullName: task.RepositoryFullName,
		Subprojects:  subprojects,
		RepoPaths:    paths,
		MaxPaths:     maxRepoPaths,
		ContextFiles: contextFiles,
	}
}
