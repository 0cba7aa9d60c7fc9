// Package taskproc implements the Task Processor (spec §4.4): the
// tasks-queue handler that drives a Task through decompose, execute,
// review, fix, create_pr, and smoke_test actions. Grounded on the
// teacher's pkg/architect state-machine driver (load, dispatch by
// action, transition, persist) generalized from the teacher's
// single-stage drive loop to conductor's multi-action job payload.
package taskproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"conductor/internal/branchname"
	"conductor/internal/config"
	"conductor/internal/decomposer"
	"conductor/internal/fixer"
	"conductor/internal/forge"
	"conductor/internal/logx"
	"conductor/internal/metrics"
	"conductor/internal/persistence"
	"conductor/internal/queue"
	"conductor/internal/reviewer"
	"conductor/internal/taskfsm"
	"conductor/internal/workspace"
)

// Actions a tasks-queue job payload may request.
const (
	ActionDecompose = "decompose"
	ActionExecute   = "execute"
	ActionReview    = "review"
	ActionFix       = "fix"
	ActionCreatePR  = "create_pr"
	ActionSmokeTest = "smoke_test"
)

// Board columns the processor moves cards through.
const (
	columnInProgress  = "In Progress"
	columnHumanReview = "Human Review"
	columnTodo        = "Todo"
	columnDone        = "Done"
)

const reExecuteDelay = 30 * time.Second

// Payload is the tasks-queue job body.
type Payload struct {
	TaskID string `json:"taskId"`
	Action string `json:"action"`
}

// ClientFactory resolves the forge client for a task's repository and
// installation.
type ClientFactory func(ctx context.Context, task *persistence.Task) (forge.Client, error)

// CredentialSource resolves the LLM API credential to run agents with.
type CredentialSource func(ctx context.Context, task *persistence.Task) (string, error)

// RepoURLSource resolves an authenticated clone URL for a task's repository.
type RepoURLSource func(ctx context.Context, task *persistence.Task) (string, error)

// Processor drives Task jobs off the tasks queue.
type Processor struct {
	Ops        *persistence.DatabaseOperations
	Queue      *queue.Queue
	Workspace  *workspace.Manager
	Decomposer *decomposer.Decomposer
	Reviewer   *reviewer.Reviewer
	Fixer      *fixer.Fixer
	Forge      ClientFactory
	Credential CredentialSource
	RepoURL    RepoURLSource
	Config     func() config.Config
	HTTPClient *http.Client
	Metrics    metrics.Recorder
	logger     *logx.Logger
}

// New constructs a Processor. HTTPClient defaults to http.DefaultClient and
// Metrics to a no-op recorder when unset.
func New(p Processor) *Processor {
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Nop()
	}
	p.logger = logx.NewLogger("taskproc")
	return &p
}

// Handle implements queue.Handler for the tasks queue.
func (p *Processor) Handle(ctx context.Context, job queue.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("taskproc: decode payload: %w", err)
	}

	task, err := p.Ops.GetTask(payload.TaskID)
	if err != nil {
		return fmt.Errorf("taskproc: load task %s: %w", payload.TaskID, err)
	}

	if err := p.dispatch(ctx, task, payload.Action); err != nil {
		_ = p.Ops.UpdateTaskError(task.ID, err.Error())
		if taskfsm.IsValidTransition(task.Status, persistence.TaskFailed) {
			_ = p.Ops.UpdateTaskStatus(task.ID, persistence.TaskFailed)
		}
		return err
	}
	return nil
}

func (p *Processor) dispatch(ctx context.Context, task *persistence.Task, action string) error {
	switch action {
	case ActionDecompose:
		return p.decompose(ctx, task)
	case ActionExecute:
		return p.execute(ctx, task)
	case ActionReview:
		return p.review(ctx, task)
	case ActionFix:
		return p.fix(ctx, task)
	case ActionCreatePR:
		return p.createPR(ctx, task)
	case ActionSmokeTest:
		return p.smokeTest(ctx, task)
	default:
		return fmt.Errorf("taskproc: unknown action %q", action)
	}
}

func (p *Processor) transition(task *persistence.Task, to persistence.TaskStatus) error {
	if err := taskfsm.CheckTransition(task.Status, to); err != nil {
		return err
	}
	from := task.Status
	if err := p.Ops.UpdateTaskStatus(task.ID, to); err != nil {
		return err
	}
	task.Status = to
	p.Metrics.ObserveTaskTransition(string(from), string(to), task.RepositoryFullName)
	return nil
}

func (p *Processor) moveCard(ctx context.Context, client forge.Client, task *persistence.Task, column string) {
	if task.ExternalProjectID == "" || task.ExternalItemID == "" {
		return
	}
	if err := client.MoveProjectItemToColumn(ctx, task.ExternalProjectID, task.ExternalItemID, column); err != nil {
		p.logger.Warn("move card for task %s to %q failed: %v", task.ID, column, err)
	}
}

func (p *Processor) enqueueNotification(notifType string, task *persistence.Task, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal notification payload for task %s: %v", task.ID, err)
		return
	}
	cfg := p.Config().Notifications
	for channel, ch := range map[persistence.NotificationChannel]config.ChannelConfig{
		persistence.ChannelTelegram: cfg.Telegram,
		persistence.ChannelSlack:    cfg.Slack,
		persistence.ChannelWebhook:  cfg.Webhook,
	} {
		if !ch.Enabled {
			continue
		}
		n := &persistence.Notification{ID: uuid.NewString(), TaskID: task.ID, Type: notifType, Channel: channel, Payload: string(body)}
		if err := p.Ops.InsertNotification(n); err != nil {
			p.logger.Error("insert %s notification for task %s: %v", channel, task.ID, err)
		}
	}
}

// decompose handles spec §4.4's "decompose" action.
func (p *Processor) decompose(ctx context.Context, task *persistence.Task) error {
	if err := p.transition(task, persistence.TaskDecomposing); err != nil {
		return err
	}

	client, err := p.Forge(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: forge client: %w", err)
	}
	p.moveCard(ctx, client, task, columnInProgress)

	credential, err := p.Credential(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: credential: %w", err)
	}

	cfg := p.Config()
	result, err := p.Decomposer.Run(ctx, p.Ops, task, client, credential, cfg.Agents.Master.MaxTurns)
	if err != nil {
		return fmt.Errorf("taskproc: decomposer: %w", err)
	}

	switch {
	case result.NeedsHumanReview:
		p.moveCard(ctx, client, task, columnHumanReview)
		if task.LinkedIssueNumber != nil {
			if err := client.AddIssueComment(ctx, *task.LinkedIssueNumber, result.Question); err != nil {
				p.logger.Warn("post human-review question for task %s: %v", task.ID, err)
			}
		}
		if err := p.Ops.SetHumanReviewQuestion(task.ID, result.Question); err != nil {
			return err
		}
		if err := p.transition(task, persistence.TaskHumanReview); err != nil {
			return err
		}
		p.enqueueNotification("human_review_needed", task, map[string]string{"taskId": task.ID, "question": result.Question})
		return nil

	case result.IsEpic:
		return p.decomposeEpic(ctx, client, task, result.Children)

	default:
		for _, sub := range result.Subtasks {
			if err := p.Queue.Enqueue(queue.Subtasks, "subtask-"+sub.ID, map[string]string{"subtaskId": sub.ID}); err != nil {
				return fmt.Errorf("taskproc: enqueue subtask %s: %w", sub.ID, err)
			}
		}
		if err := p.transition(task, persistence.TaskExecuting); err != nil {
			return err
		}
		return p.Queue.EnqueueAt(queue.Tasks, "check-complete-"+task.ID, Payload{TaskID: task.ID, Action: ActionExecute}, time.Now().UTC().Add(reExecuteDelay))
	}
}

func (p *Processor) decomposeEpic(ctx context.Context, client forge.Client, task *persistence.Task, children []decomposer.ChildDefinition) error {
	for _, child := range children {
		issue, err := client.CreateIssue(ctx, forge.IssueCreateOptions{
			Title:  child.Title,
			Body:   child.Description,
			Labels: []string{"conductor", "automated"},
		})
		if err != nil {
			return fmt.Errorf("taskproc: create child issue %q: %w", child.Title, err)
		}
		itemID, err := client.AddItemToProject(ctx, task.ExternalProjectID, issue.NodeID)
		if err != nil {
			return fmt.Errorf("taskproc: add child issue %q to project: %w", child.Title, err)
		}
		if err := client.MoveProjectItemToColumn(ctx, task.ExternalProjectID, itemID, columnTodo); err != nil {
			p.logger.Warn("move child card for %q to Todo failed: %v", child.Title, err)
		}

		childTask := &persistence.Task{
			ID:                  uuid.NewString(),
			ExternalItemID:      itemID,
			ExternalProjectID:   task.ExternalProjectID,
			RepositoryFullName:  task.RepositoryFullName,
			RepositoryID:        task.RepositoryID,
			InstallationID:      task.InstallationID,
			Title:               child.Title,
			Description:         child.Description,
			Status:              persistence.TaskPending,
			ParentTaskID:        &task.ID,
			LinkedIssueNumber:   &issue.Number,
			ChildDependencies:   child.DependsOn,
		}
		if err := p.Ops.UpsertTask(childTask); err != nil {
			return fmt.Errorf("taskproc: insert child task for %q: %w", child.Title, err)
		}
		if len(child.DependsOn) == 0 {
			if err := p.Queue.Enqueue(queue.Tasks, "decompose-"+childTask.ID, Payload{TaskID: childTask.ID, Action: ActionDecompose}); err != nil {
				return fmt.Errorf("taskproc: enqueue decompose for child %q: %w", child.Title, err)
			}
		}
	}

	if err := p.Ops.MarkTaskEpic(task.ID); err != nil {
		return fmt.Errorf("taskproc: mark task %s as epic: %w", task.ID, err)
	}
	task.IsEpic = true
	return p.transition(task, persistence.TaskExecuting)
}

// execute handles spec §4.4's "execute" action for both simple and epic tasks.
func (p *Processor) execute(ctx context.Context, task *persistence.Task) error {
	if task.IsEpic {
		return p.executeEpic(ctx, task)
	}
	return p.executeSimple(ctx, task)
}

func (p *Processor) executeSimple(ctx context.Context, task *persistence.Task) error {
	allDone, _, err := p.Ops.AreAllSubtasksComplete(task.ID)
	if err != nil {
		return fmt.Errorf("taskproc: check subtasks complete for task %s: %w", task.ID, err)
	}
	if !allDone {
		return p.Queue.EnqueueAt(queue.Tasks, fmt.Sprintf("check-complete-%s-%d", task.ID, time.Now().UnixNano()),
			Payload{TaskID: task.ID, Action: ActionExecute}, time.Now().UTC().Add(reExecuteDelay))
	}
	return p.Queue.Enqueue(queue.Tasks, "review-"+task.ID, Payload{TaskID: task.ID, Action: ActionReview})
}

func (p *Processor) executeEpic(ctx context.Context, task *persistence.Task) error {
	children, err := p.Ops.GetChildTasks(task.ID)
	if err != nil {
		return fmt.Errorf("taskproc: load children for task %s: %w", task.ID, err)
	}

	byTitle := make(map[string]*persistence.Task, len(children))
	for _, c := range children {
		byTitle[c.Title] = c
	}

	allTerminal := true
	anyFailed := false
	var prURLs []string
	for _, child := range children {
		switch child.Status {
		case persistence.TaskDone:
			if child.PullRequestURL != "" {
				prURLs = append(prURLs, child.PullRequestURL)
			}
		case persistence.TaskFailed:
			anyFailed = true
		default:
			allTerminal = false
		}

		if child.Status == persistence.TaskPending && dependenciesSatisfied(child, byTitle) {
			if err := p.Queue.Enqueue(queue.Tasks, "decompose-"+child.ID, Payload{TaskID: child.ID, Action: ActionDecompose}); err != nil {
				return fmt.Errorf("taskproc: enqueue decompose for child %s: %w", child.ID, err)
			}
		}
	}

	if !allTerminal {
		return p.Queue.EnqueueAt(queue.Tasks, fmt.Sprintf("check-complete-%s-%d", task.ID, time.Now().UnixNano()),
			Payload{TaskID: task.ID, Action: ActionExecute}, time.Now().UTC().Add(reExecuteDelay))
	}

	client, err := p.Forge(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: forge client: %w", err)
	}

	if anyFailed {
		p.moveCard(ctx, client, task, columnHumanReview)
		return p.transition(task, persistence.TaskFailed)
	}

	p.moveCard(ctx, client, task, columnDone)
	if err := p.transition(task, persistence.TaskDone); err != nil {
		return err
	}
	if task.LinkedIssueNumber != nil {
		comment := "All child tasks complete.\n" + strings.Join(prURLs, "\n")
		if err := client.AddIssueComment(ctx, *task.LinkedIssueNumber, comment); err != nil {
			p.logger.Warn("post epic completion comment for task %s: %v", task.ID, err)
		}
	}
	return nil
}

func dependenciesSatisfied(child *persistence.Task, byTitle map[string]*persistence.Task) bool {
	for _, dep := range child.ChildDependencies {
		sibling, ok := byTitle[dep]
		if !ok || sibling.Status != persistence.TaskDone {
			return false
		}
	}
	return true
}

// review handles spec §4.4's "review" action.
func (p *Processor) review(ctx context.Context, task *persistence.Task) error {
	if err := p.transition(task, persistence.TaskReview); err != nil {
		return err
	}

	ws, err := p.prepareWorkspace(ctx, task)
	if err != nil {
		return err
	}
	if _, err := p.Workspace.CommitAndPush(ctx, ws, "conductor: checkpoint before review"); err != nil {
		p.logger.Warn("commit-and-push before review for task %s: %v", task.ID, err)
	}

	client, err := p.Forge(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: forge client: %w", err)
	}
	credential, err := p.Credential(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: credential: %w", err)
	}

	subtasks, err := p.Ops.GetSubtasksByTask(task.ID)
	if err != nil {
		return fmt.Errorf("taskproc: load subtasks for task %s: %w", task.ID, err)
	}
	var modifiedFiles []string
	for _, s := range subtasks {
		modifiedFiles = append(modifiedFiles, s.FilesModified...)
	}

	readFile := func(path string) (string, error) {
		content, err := client.GetFileContent(ctx, task.BranchName, path)
		if err != nil {
			return "", err
		}
		return string(content), nil
	}

	cfg := p.Config()
	review, err := p.Reviewer.Run(ctx, p.Ops, task, client, modifiedFiles, readFile, credential, cfg.Agents.CodeReview.MaxTurns)
	if err != nil {
		return fmt.Errorf("taskproc: reviewer: %w", err)
	}

	p.Metrics.ObserveReviewIteration(review.Result == persistence.ReviewApproved)

	switch review.Result {
	case persistence.ReviewApproved:
		if cfg.Workflow.RequireSmokeTest {
			return p.Queue.Enqueue(queue.Tasks, "smoke-test-"+task.ID, Payload{TaskID: task.ID, Action: ActionSmokeTest})
		}
		return p.Queue.Enqueue(queue.Tasks, "create-pr-"+task.ID, Payload{TaskID: task.ID, Action: ActionCreatePR})

	case persistence.ReviewChangesRequested:
		if review.Iteration < reviewer.DefaultMaxIterations {
			issues, err := json.Marshal(review.Issues)
			if err != nil {
				return fmt.Errorf("taskproc: marshal review issues: %w", err)
			}
			if err := p.Ops.UpdateTaskError(task.ID, string(issues)); err != nil {
				return err
			}
			if err := p.transition(task, persistence.TaskExecuting); err != nil {
				return err
			}
			return p.Queue.Enqueue(queue.Tasks, fmt.Sprintf("fix-%s-%d", task.ID, review.Iteration), Payload{TaskID: task.ID, Action: ActionFix})
		}
		return fmt.Errorf("code review failed after maximum iterations")

	default:
		return fmt.Errorf("code review failed after maximum iterations")
	}
}

// fix handles spec §4.4's "fix" action.
func (p *Processor) fix(ctx context.Context, task *persistence.Task) error {
	var issues []persistence.ReviewIssue
	if task.ErrorMessage != "" {
		if err := json.Unmarshal([]byte(task.ErrorMessage), &issues); err != nil {
			return fmt.Errorf("taskproc: parse review issues for task %s: %w", task.ID, err)
		}
	}

	ws, err := p.prepareWorkspace(ctx, task)
	if err != nil {
		return err
	}
	credential, err := p.Credential(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: credential: %w", err)
	}
	review, err := p.Ops.GetLatestCodeReview(task.ID)
	if err != nil {
		return fmt.Errorf("taskproc: load latest review for task %s: %w", task.ID, err)
	}
	if review == nil {
		review = &persistence.CodeReview{TaskID: task.ID, Issues: issues}
	} else {
		review.Issues = issues
	}

	cfg := p.Config()
	if _, err := p.Fixer.Run(ctx, p.Ops, task, review, ws, credential, cfg.Agents.SubAgent.MaxTurns); err != nil {
		return fmt.Errorf("taskproc: fixer: %w", err)
	}

	if err := p.Ops.UpdateTaskError(task.ID, ""); err != nil {
		return err
	}
	return p.Queue.Enqueue(queue.Tasks, fmt.Sprintf("review-%s-%d", task.ID, time.Now().UnixNano()), Payload{TaskID: task.ID, Action: ActionReview})
}

// createPR handles spec §4.4's "create_pr" action.
func (p *Processor) createPR(ctx context.Context, task *persistence.Task) error {
	ws, err := p.prepareWorkspace(ctx, task)
	if err != nil {
		return err
	}
	if _, err := p.Workspace.CommitAndPush(ctx, ws, "conductor: final changes"); err != nil {
		return fmt.Errorf("taskproc: commit and push for task %s: %w", task.ID, err)
	}

	client, err := p.Forge(ctx, task)
	if err != nil {
		return fmt.Errorf("taskproc: forge client: %w", err)
	}
	defaultBranch, err := client.GetDefaultBranch(ctx)
	if err != nil {
		return fmt.Errorf("taskproc: get default branch: %w", err)
	}

	pr, err := client.GetOrCreatePR(ctx, forge.PRCreateOptions{
		Title: task.Title,
		Body:  task.Description,
		Head:  task.BranchName,
		Base:  defaultBranch,
	})
	if err != nil {
		return fmt.Errorf("taskproc: create pull request: %w", err)
	}

	record := &persistence.PullRequest{
		ID:                 uuid.NewString(),
		TaskID:             task.ID,
		RepositoryFullName: task.RepositoryFullName,
		Number:             pr.Number,
		Title:              pr.Title,
		Body:               pr.Body,
		BranchName:         task.BranchName,
		URL:                pr.URL,
		Status:             persistence.PROpen,
	}
	if err := p.Ops.InsertPullRequest(record); err != nil {
		return fmt.Errorf("taskproc: persist pull request: %w", err)
	}
	if err := p.Ops.SetTaskBranchAndPR(task.ID, task.BranchName, pr.Number, pr.URL); err != nil {
		return err
	}
	if err := p.transition(task, persistence.TaskPRCreated); err != nil {
		return err
	}
	p.moveCard(ctx, client, task, columnHumanReview)
	return nil
}

type smokeTestRequest struct {
	TaskID             string `json:"taskId"`
	Title              string `json:"title"`
	BranchName         string `json:"branchName"`
	RepositoryFullName string `json:"repositoryFullName"`
}

const smokeTestTimeout = 2 * time.Minute

// smokeTest handles spec §4.4's "smoke_test" action.
func (p *Processor) smokeTest(ctx context.Context, task *persistence.Task) error {
	cfg := p.Config()

	var ok bool
	var err error
	if cfg.Workflow.SmokeTestWebhook != "" {
		ok, err = p.postSmokeTestWebhook(ctx, cfg.Workflow.SmokeTestWebhook, task)
	} else {
		ok, err = p.runSmokeTestCommand(ctx, task)
	}
	if err != nil {
		return fmt.Errorf("taskproc: smoke test: %w", err)
	}

	if ok {
		return p.Queue.Enqueue(queue.Tasks, "create-pr-"+task.ID, Payload{TaskID: task.ID, Action: ActionCreatePR})
	}
	return fmt.Errorf("smoke test failed")
}

func (p *Processor) postSmokeTestWebhook(ctx context.Context, url string, task *persistence.Task) (bool, error) {
	body, err := json.Marshal(smokeTestRequest{
		TaskID: task.ID, Title: task.Title, BranchName: task.BranchName, RepositoryFullName: task.RepositoryFullName,
	})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, nil
	}
	var decoded struct {
		Success *bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return true, nil // non-JSON 2xx body: treat as success per spec's "non-2xx or success===false" wording
	}
	if decoded.Success != nil && !*decoded.Success {
		return false, nil
	}
	return true, nil
}

func (p *Processor) runSmokeTestCommand(ctx context.Context, task *persistence.Task) (bool, error) {
	ws, err := p.prepareWorkspace(ctx, task)
	if err != nil {
		return false, err
	}

	testCommand := smokeTestCommandFor(p.Config(), task)
	if testCommand == "" {
		return true, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, smokeTestTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", testCommand) //nolint:gosec // testCommand is operator-configured, not externally supplied
	cmd.Dir = ws.Dir
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}

func smokeTestCommandFor(cfg config.Config, task *persistence.Task) string {
	for _, sp := range cfg.Subprojects.Explicit {
		if sp.TestCommand != "" {
			return sp.TestCommand
		}
	}
	return ""
}

func (p *Processor) prepareWorkspace(ctx context.Context, task *persistence.Task) (*workspace.Workspace, error) {
	repoURL, err := p.RepoURL(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("taskproc: repo url: %w", err)
	}

	client, err := p.Forge(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("taskproc: forge client: %w", err)
	}
	baseBranch, err := client.GetDefaultBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskproc: get default branch: %w", err)
	}

	branchName := task.BranchName
	if branchName == "" {
		branchName = branchname.Generate(p.Config().Workflow.BranchPattern, task.ID, task.Title)
	}

	ws, err := p.Workspace.PrepareWorkspace(ctx, task.ID, repoURL, baseBranch, branchName)
	if err != nil {
		return nil, fmt.Errorf("taskproc: prepare workspace: %w", err)
	}

	if task.BranchName == "" {
		if err := p.Ops.SetTaskBranchAndPR(task.ID, ws.BranchName, 0, ""); err != nil {
			return nil, err
		}
		task.BranchName = ws.BranchName
	}
	return ws, nil
}
