package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("persistence: not found")

// DatabaseOperations is a thin, typed layer over *sql.DB. Every orchestration
// component talks to storage through one of these methods, except
// internal/queue, which runs its own SQL against the queue_jobs table.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations binds operations to an existing connection. Ops()
// calls it with the singleton connection; production code and the tests
// both go through Ops().
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("marshal string slice: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal string slice: %w", err)
	}
	return ss, nil
}

// --- Tasks -----------------------------------------------------------------

// UpsertTask inserts a new task, keyed by the external board-item ID it
// mirrors. Calling this twice for the same ExternalItemID is a no-op on the
// second call, making webhook redelivery safe. Tasks with an empty
// ExternalItemID (manual triggers) are never deduplicated.
func (o *DatabaseOperations) UpsertTask(t *Task) error {
	childDeps, err := marshalStrings(t.ChildDependencies)
	if err != nil {
		return err
	}

	_, err = o.db.Exec(`
		INSERT INTO tasks (
			id, external_item_id, external_project_id, repository_full_name,
			repository_id, installation_id, title, description, status,
			branch_name, pull_request_number, pull_request_url, error_message,
			human_review_question, human_review_answer, retry_count, is_epic,
			parent_task_id, linked_issue_number, child_dependencies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_item_id) WHERE external_item_id <> '' DO NOTHING
	`,
		t.ID, t.ExternalItemID, t.ExternalProjectID, t.RepositoryFullName,
		t.RepositoryID, t.InstallationID, t.Title, t.Description, t.Status,
		t.BranchName, t.PullRequestNumber, t.PullRequestURL, t.ErrorMessage,
		t.HumanReviewQuestion, t.HumanReviewAnswer, t.RetryCount, t.IsEpic,
		t.ParentTaskID, t.LinkedIssueNumber, childDeps,
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus transitions a task's status and, where applicable, stamps
// started_at/completed_at. Callers validate the transition with taskfsm
// before calling this; this method does not re-check legality.
func (o *DatabaseOperations) UpdateTaskStatus(taskID string, status TaskStatus) error {
	now := timeNow()
	var err error
	switch status {
	case TaskExecuting:
		_, err = o.db.Exec(`UPDATE tasks SET status = ?, updated_at = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			status, now, now, taskID)
	case TaskDone, TaskFailed:
		_, err = o.db.Exec(`UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			status, now, now, taskID)
	default:
		_, err = o.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, status, now, taskID)
	}
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// UpdateTaskError records an error message on a task without changing its
// status, used for soft-failure annotations prior to a retry.
func (o *DatabaseOperations) UpdateTaskError(taskID, message string) error {
	_, err := o.db.Exec(`UPDATE tasks SET error_message = ?, updated_at = ? WHERE id = ?`, message, timeNow(), taskID)
	if err != nil {
		return fmt.Errorf("update task error: %w", err)
	}
	return nil
}

// IncrementTaskRetryCount bumps retry_count and returns the new value.
func (o *DatabaseOperations) IncrementTaskRetryCount(taskID string) (int, error) {
	_, err := o.db.Exec(`UPDATE tasks SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`, timeNow(), taskID)
	if err != nil {
		return 0, fmt.Errorf("increment task retry count: %w", err)
	}
	task, err := o.GetTask(taskID)
	if err != nil {
		return 0, err
	}
	return task.RetryCount, nil
}

// SetTaskBranchAndPR records the branch and pull request identity once the
// task's PR has been opened.
func (o *DatabaseOperations) SetTaskBranchAndPR(taskID, branchName string, prNumber int, prURL string) error {
	_, err := o.db.Exec(`
		UPDATE tasks SET branch_name = ?, pull_request_number = ?, pull_request_url = ?, updated_at = ?
		WHERE id = ?
	`, branchName, prNumber, prURL, timeNow(), taskID)
	if err != nil {
		return fmt.Errorf("set task branch and pr: %w", err)
	}
	return nil
}

// MarkTaskEpic flags a task as an epic once the Decomposer has split it
// into child tasks rather than subtasks.
func (o *DatabaseOperations) MarkTaskEpic(taskID string) error {
	_, err := o.db.Exec(`UPDATE tasks SET is_epic = 1, updated_at = ? WHERE id = ?`, timeNow(), taskID)
	if err != nil {
		return fmt.Errorf("mark task epic: %w", err)
	}
	return nil
}

// SetHumanReviewQuestion records the question posed to a human reviewer and
// clears any stale answer.
func (o *DatabaseOperations) SetHumanReviewQuestion(taskID, question string) error {
	_, err := o.db.Exec(`
		UPDATE tasks SET human_review_question = ?, human_review_answer = '', status = ?, updated_at = ?
		WHERE id = ?
	`, question, TaskHumanReview, timeNow(), taskID)
	if err != nil {
		return fmt.Errorf("set human review question: %w", err)
	}
	return nil
}

// SetHumanReviewAnswer records a reviewer's reply to an open question.
func (o *DatabaseOperations) SetHumanReviewAnswer(taskID, answer string) error {
	_, err := o.db.Exec(`UPDATE tasks SET human_review_answer = ?, updated_at = ? WHERE id = ?`, answer, timeNow(), taskID)
	if err != nil {
		return fmt.Errorf("set human review answer: %w", err)
	}
	return nil
}

func (o *DatabaseOperations) scanTask(row rowScanner) (*Task, error) {
	var t Task
	var childDeps string
	if err := row.Scan(
		&t.ID, &t.ExternalItemID, &t.ExternalProjectID, &t.RepositoryFullName,
		&t.RepositoryID, &t.InstallationID, &t.Title, &t.Description, &t.Status,
		&t.BranchName, &t.PullRequestNumber, &t.PullRequestURL, &t.ErrorMessage,
		&t.HumanReviewQuestion, &t.HumanReviewAnswer, &t.RetryCount, &t.IsEpic,
		&t.ParentTaskID, &t.LinkedIssueNumber, &childDeps,
		&t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	deps, err := unmarshalStrings(childDeps)
	if err != nil {
		return nil, err
	}
	t.ChildDependencies = deps
	return &t, nil
}

const taskColumns = `
	id, external_item_id, external_project_id, repository_full_name,
	repository_id, installation_id, title, description, status,
	branch_name, pull_request_number, pull_request_url, error_message,
	human_review_question, human_review_answer, retry_count, is_epic,
	parent_task_id, linked_issue_number, child_dependencies,
	created_at, updated_at, started_at, completed_at
`

// GetTask fetches a task by primary key.
func (o *DatabaseOperations) GetTask(taskID string) (*Task, error) {
	row := o.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	return o.scanTask(row)
}

// GetTaskByExternalItemID fetches a task by the board item it mirrors.
func (o *DatabaseOperations) GetTaskByExternalItemID(externalItemID string) (*Task, error) {
	row := o.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE external_item_id = ?`, externalItemID)
	return o.scanTask(row)
}

// GetChildTasks returns every task whose parent_task_id is taskID, ordered
// by creation so dependency indices line up with decomposition order.
func (o *DatabaseOperations) GetChildTasks(taskID string) ([]*Task, error) {
	rows, err := o.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE parent_task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query child tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := o.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksByStatus returns every task in the given status, oldest first.
func (o *DatabaseOperations) ListTasksByStatus(status TaskStatus) ([]*Task, error) {
	rows, err := o.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := o.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListRecentTasks returns the most recently updated tasks for a repository,
// used to answer the `/conductor status` chat command.
func (o *DatabaseOperations) ListRecentTasks(repositoryFullName string, limit int) ([]*Task, error) {
	rows, err := o.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE repository_full_name = ?
		ORDER BY updated_at DESC LIMIT ?
	`, repositoryFullName, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := o.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Subtasks ----------------------------------------------------------------

// InsertSubtask creates a new subtask belonging to a task.
func (o *DatabaseOperations) InsertSubtask(s *Subtask) error {
	dependsOn, err := marshalStrings(s.DependsOn)
	if err != nil {
		return err
	}
	filesModified, err := marshalStrings(s.FilesModified)
	if err != nil {
		return err
	}

	_, err = o.db.Exec(`
		INSERT INTO subtasks (
			id, task_id, subproject_path, title, description, status,
			depends_on, last_agent_run_id, files_modified, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TaskID, s.SubprojectPath, s.Title, s.Description, s.Status,
		dependsOn, s.LastAgentRunID, filesModified, s.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

// UpdateSubtaskStatus transitions a subtask's status and stamps timestamps
// the same way UpdateTaskStatus does for tasks.
func (o *DatabaseOperations) UpdateSubtaskStatus(subtaskID string, status SubtaskStatus) error {
	now := timeNow()
	var err error
	switch status {
	case SubtaskRunning:
		_, err = o.db.Exec(`UPDATE subtasks SET status = ?, updated_at = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			status, now, now, subtaskID)
	case SubtaskCompleted, SubtaskFailed:
		_, err = o.db.Exec(`UPDATE subtasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
			status, now, now, subtaskID)
	default:
		_, err = o.db.Exec(`UPDATE subtasks SET status = ?, updated_at = ? WHERE id = ?`, status, now, subtaskID)
	}
	if err != nil {
		return fmt.Errorf("update subtask status: %w", err)
	}
	return nil
}

// SetSubtaskResult records the outcome of the agent run that most recently
// touched a subtask: which files it changed, and (on failure) why.
func (o *DatabaseOperations) SetSubtaskResult(subtaskID, agentRunID string, filesModified []string, errMessage string) error {
	files, err := marshalStrings(filesModified)
	if err != nil {
		return err
	}
	_, err = o.db.Exec(`
		UPDATE subtasks SET last_agent_run_id = ?, files_modified = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, agentRunID, files, errMessage, timeNow(), subtaskID)
	if err != nil {
		return fmt.Errorf("set subtask result: %w", err)
	}
	return nil
}

const subtaskColumns = `
	id, task_id, subproject_path, title, description, status,
	depends_on, last_agent_run_id, files_modified, error_message,
	created_at, updated_at, started_at, completed_at
`

func (o *DatabaseOperations) scanSubtask(row rowScanner) (*Subtask, error) {
	var s Subtask
	var dependsOn, filesModified string
	if err := row.Scan(
		&s.ID, &s.TaskID, &s.SubprojectPath, &s.Title, &s.Description, &s.Status,
		&dependsOn, &s.LastAgentRunID, &filesModified, &s.ErrorMessage,
		&s.CreatedAt, &s.UpdatedAt, &s.StartedAt, &s.CompletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan subtask: %w", err)
	}
	deps, err := unmarshalStrings(dependsOn)
	if err != nil {
		return nil, err
	}
	s.DependsOn = deps
	files, err := unmarshalStrings(filesModified)
	if err != nil {
		return nil, err
	}
	s.FilesModified = files
	return &s, nil
}

// GetSubtask fetches a subtask by primary key.
func (o *DatabaseOperations) GetSubtask(subtaskID string) (*Subtask, error) {
	row := o.db.QueryRow(`SELECT `+subtaskColumns+` FROM subtasks WHERE id = ?`, subtaskID)
	return o.scanSubtask(row)
}

// GetSubtasksByTask returns every subtask of a task in creation order.
func (o *DatabaseOperations) GetSubtasksByTask(taskID string) ([]*Subtask, error) {
	rows, err := o.db.Query(`SELECT `+subtaskColumns+` FROM subtasks WHERE task_id = ? ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query subtasks by task: %w", err)
	}
	defer rows.Close()

	var out []*Subtask
	for rows.Next() {
		s, err := o.scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AreAllSubtasksComplete reports whether every subtask of a task has reached
// a terminal state, and whether any of them failed.
func (o *DatabaseOperations) AreAllSubtasksComplete(taskID string) (allDone bool, anyFailed bool, err error) {
	subtasks, err := o.GetSubtasksByTask(taskID)
	if err != nil {
		return false, false, err
	}
	if len(subtasks) == 0 {
		return true, false, nil
	}
	for _, s := range subtasks {
		if s.Status != SubtaskCompleted && s.Status != SubtaskFailed {
			return false, false, nil
		}
		if s.Status == SubtaskFailed {
			anyFailed = true
		}
	}
	return true, anyFailed, nil
}

// --- Agent runs --------------------------------------------------------------

// InsertAgentRun records the start of a new agent invocation.
func (o *DatabaseOperations) InsertAgentRun(r *AgentRun) error {
	_, err := o.db.Exec(`
		INSERT INTO agent_runs (id, task_id, subtask_id, type, status, model, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.SubtaskID, r.Type, r.Status, r.Model, timeNow())
	if err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}
	return nil
}

// CompleteAgentRun records the terminal outcome of an agent invocation,
// including token usage and derived cost.
func (o *DatabaseOperations) CompleteAgentRun(runID string, status AgentRunStatus, inputTokens, outputTokens int64, costUSD float64, log string) error {
	_, err := o.db.Exec(`
		UPDATE agent_runs
		SET status = ?, input_tokens = ?, output_tokens = ?, cost_usd = ?, log = ?, completed_at = ?
		WHERE id = ?
	`, status, inputTokens, outputTokens, costUSD, log, timeNow(), runID)
	if err != nil {
		return fmt.Errorf("complete agent run: %w", err)
	}
	return nil
}

const agentRunColumns = `
	id, task_id, subtask_id, type, status, model, input_tokens, output_tokens,
	cost_usd, log, created_at, started_at, completed_at
`

func (o *DatabaseOperations) scanAgentRun(row rowScanner) (*AgentRun, error) {
	var r AgentRun
	if err := row.Scan(
		&r.ID, &r.TaskID, &r.SubtaskID, &r.Type, &r.Status, &r.Model,
		&r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.Log,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan agent run: %w", err)
	}
	return &r, nil
}

// GetAgentRun fetches an agent run by primary key.
func (o *DatabaseOperations) GetAgentRun(runID string) (*AgentRun, error) {
	row := o.db.QueryRow(`SELECT `+agentRunColumns+` FROM agent_runs WHERE id = ?`, runID)
	return o.scanAgentRun(row)
}

// TotalCostForTask sums cost_usd across every agent run tied to a task,
// directly or through its subtasks, for budget reporting.
func (o *DatabaseOperations) TotalCostForTask(taskID string) (float64, error) {
	var total sql.NullFloat64
	err := o.db.QueryRow(`SELECT SUM(cost_usd) FROM agent_runs WHERE task_id = ?`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum agent run cost: %w", err)
	}
	return total.Float64, nil
}

// --- Pull requests -------------------------------------------------------------

// InsertPullRequest records a newly opened pull request.
func (o *DatabaseOperations) InsertPullRequest(p *PullRequest) error {
	_, err := o.db.Exec(`
		INSERT INTO pull_requests (
			id, task_id, repository_full_name, number, title, body,
			branch_name, head_commit_id, url, status, reviews_passed, check_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.TaskID, p.RepositoryFullName, p.Number, p.Title, p.Body,
		p.BranchName, p.HeadCommitID, p.URL, p.Status, p.ReviewsPassed, p.CheckStatus)
	if err != nil {
		return fmt.Errorf("insert pull request: %w", err)
	}
	return nil
}

// UpdatePullRequestStatus updates a PR's lifecycle status and check state.
func (o *DatabaseOperations) UpdatePullRequestStatus(prID string, status PRStatus, checkStatus string) error {
	_, err := o.db.Exec(`
		UPDATE pull_requests SET status = ?, check_status = ?, updated_at = ? WHERE id = ?
	`, status, checkStatus, timeNow(), prID)
	if err != nil {
		return fmt.Errorf("update pull request status: %w", err)
	}
	return nil
}

const pullRequestColumns = `
	id, task_id, repository_full_name, number, title, body, branch_name,
	head_commit_id, url, status, reviews_passed, check_status, created_at, updated_at
`

func (o *DatabaseOperations) scanPullRequest(row rowScanner) (*PullRequest, error) {
	var p PullRequest
	if err := row.Scan(
		&p.ID, &p.TaskID, &p.RepositoryFullName, &p.Number, &p.Title, &p.Body,
		&p.BranchName, &p.HeadCommitID, &p.URL, &p.Status, &p.ReviewsPassed, &p.CheckStatus,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan pull request: %w", err)
	}
	return &p, nil
}

// GetPullRequestByTask returns the most recently created PR for a task.
func (o *DatabaseOperations) GetPullRequestByTask(taskID string) (*PullRequest, error) {
	row := o.db.QueryRow(`SELECT `+pullRequestColumns+` FROM pull_requests WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
	return o.scanPullRequest(row)
}

// GetPullRequestByBranch resolves the PR conductor opened for a branch, used
// by webhook intake to map a pull_request event back to its owning Task.
func (o *DatabaseOperations) GetPullRequestByBranch(repositoryFullName, branchName string) (*PullRequest, error) {
	row := o.db.QueryRow(`
		SELECT `+pullRequestColumns+` FROM pull_requests
		WHERE repository_full_name = ? AND branch_name = ?
		ORDER BY created_at DESC LIMIT 1
	`, repositoryFullName, branchName)
	return o.scanPullRequest(row)
}

// --- Code reviews --------------------------------------------------------------

// InsertCodeReview records the outcome of one review pass.
func (o *DatabaseOperations) InsertCodeReview(r *CodeReview) error {
	issues, err := json.Marshal(r.Issues)
	if err != nil {
		return fmt.Errorf("marshal review issues: %w", err)
	}
	_, err = o.db.Exec(`
		INSERT INTO code_reviews (id, task_id, agent_run_id, result, iteration, summary, issues)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.AgentRunID, r.Result, r.Iteration, r.Summary, string(issues))
	if err != nil {
		return fmt.Errorf("insert code review: %w", err)
	}
	return nil
}

// CountReviewsForTask reports how many review passes a task has gone
// through, used to enforce the review-iteration cap.
func (o *DatabaseOperations) CountReviewsForTask(taskID string) (int, error) {
	var count int
	err := o.db.QueryRow(`SELECT COUNT(*) FROM code_reviews WHERE task_id = ?`, taskID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count code reviews: %w", err)
	}
	return count, nil
}

// GetLatestCodeReview returns the most recent review pass for a task, if any.
func (o *DatabaseOperations) GetLatestCodeReview(taskID string) (*CodeReview, error) {
	row := o.db.QueryRow(`
		SELECT id, task_id, agent_run_id, result, iteration, summary, issues, created_at
		FROM code_reviews WHERE task_id = ? ORDER BY iteration DESC LIMIT 1
	`, taskID)

	var r CodeReview
	var issues string
	if err := row.Scan(&r.ID, &r.TaskID, &r.AgentRunID, &r.Result, &r.Iteration, &r.Summary, &issues, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan code review: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &r.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal review issues: %w", err)
	}
	return &r, nil
}

// --- Notifications ------------------------------------------------------------

// InsertNotification records an outbound notification before it is sent, so
// delivery failures can be retried without re-deriving the payload.
func (o *DatabaseOperations) InsertNotification(n *Notification) error {
	_, err := o.db.Exec(`
		INSERT INTO notifications (id, task_id, type, channel, payload, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.TaskID, n.Type, n.Channel, n.Payload, n.Error)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// MarkNotificationSent stamps a notification as delivered.
func (o *DatabaseOperations) MarkNotificationSent(notificationID string) error {
	_, err := o.db.Exec(`UPDATE notifications SET sent_at = ?, error = '' WHERE id = ?`, timeNow(), notificationID)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed records a delivery failure for later inspection.
func (o *DatabaseOperations) MarkNotificationFailed(notificationID, errMessage string) error {
	_, err := o.db.Exec(`UPDATE notifications SET error = ? WHERE id = ?`, errMessage, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting scan
// helpers serve single-row and multi-row queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func timeNow() time.Time {
	return time.Now().UTC()
}
