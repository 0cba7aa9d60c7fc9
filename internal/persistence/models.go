// Package persistence provides SQLite-backed durable storage for tasks,
// subtasks, agent runs, pull requests, code reviews, and notifications.
package persistence

import "time"

// TaskStatus is a state of the task state machine (spec §4.1).
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskDecomposing  TaskStatus = "decomposing"
	TaskExecuting    TaskStatus = "executing"
	TaskReview       TaskStatus = "review"
	TaskHumanReview  TaskStatus = "human_review"
	TaskPRCreated    TaskStatus = "pr_created"
	TaskDone         TaskStatus = "done"
	TaskFailed       TaskStatus = "failed"
)

// SubtaskStatus is a state of the subtask state machine (spec §4.2).
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskQueued    SubtaskStatus = "queued"
	SubtaskRunning   SubtaskStatus = "running"
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskFailed    SubtaskStatus = "failed"
)

// AgentRunType classifies which stage invoked the agent.
type AgentRunType string

const (
	AgentRunMaster     AgentRunType = "master"
	AgentRunSubAgent   AgentRunType = "sub_agent"
	AgentRunCodeReview AgentRunType = "code_review"
)

// AgentRunStatus is the lifecycle of a single agent invocation.
type AgentRunStatus string

const (
	AgentRunStarting AgentRunStatus = "starting"
	AgentRunRunning  AgentRunStatus = "running"
	AgentRunComplete AgentRunStatus = "completed"
	AgentRunFailedS  AgentRunStatus = "failed"
	AgentRunTimeout  AgentRunStatus = "timeout"
)

// PRStatus is the lifecycle of an opened pull request.
type PRStatus string

const (
	PROpen   PRStatus = "open"
	PRMerged PRStatus = "merged"
	PRClosed PRStatus = "closed"
)

// ReviewResult is the outcome of one CodeReview pass.
type ReviewResult string

const (
	ReviewApproved         ReviewResult = "approved"
	ReviewChangesRequested ReviewResult = "changes_requested"
	ReviewFailed           ReviewResult = "failed"
)

// Severity classifies one review issue.
type Severity string

const (
	SeverityError      Severity = "error"
	SeverityWarning    Severity = "warning"
	SeveritySuggestion Severity = "suggestion"
)

// NotificationChannel is the outbound transport for a Notification.
type NotificationChannel string

const (
	ChannelTelegram NotificationChannel = "telegram"
	ChannelSlack    NotificationChannel = "slack"
	ChannelWebhook  NotificationChannel = "webhook"
)

// Task is a unit of human intent tracked on the board (spec §3).
//
//nolint:govet // field grouping by meaning preferred over memory layout
type Task struct {
	ID                   string
	ExternalItemID       string
	ExternalProjectID    string
	RepositoryFullName   string
	RepositoryID         int64
	InstallationID       int64
	Title                string
	Description          string
	Status               TaskStatus
	BranchName           string
	PullRequestNumber    *int
	PullRequestURL       string
	ErrorMessage         string
	HumanReviewQuestion  string
	HumanReviewAnswer    string
	RetryCount           int
	IsEpic               bool
	ParentTaskID         *string
	LinkedIssueNumber    *int
	ChildDependencies    []string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
}

// Subtask is a unit of agent work within one simple task (spec §3).
type Subtask struct {
	ID              string
	TaskID          string
	SubprojectPath  string
	Title           string
	Description     string
	Status          SubtaskStatus
	DependsOn       []string
	LastAgentRunID  *string
	FilesModified   []string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// AgentRun is one LLM invocation against the agent CLI (spec §3).
//
//nolint:govet // field grouping by meaning preferred over memory layout
type AgentRun struct {
	ID               string
	TaskID           string
	SubtaskID        *string
	Type             AgentRunType
	Status           AgentRunStatus
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CostUSD          float64
	Log              string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// PullRequest is one external PR opened for a task (spec §3).
type PullRequest struct {
	ID                 string
	TaskID             string
	RepositoryFullName string
	Number             int
	Title              string
	Body               string
	BranchName         string
	HeadCommitID       string
	URL                string
	Status             PRStatus
	ReviewsPassed      bool
	CheckStatus        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ReviewIssue is one finding within a CodeReview.
type ReviewIssue struct {
	File       string   `json:"file"`
	Line       *int     `json:"line,omitempty"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// CodeReview is the outcome of one review pass (spec §3).
type CodeReview struct {
	ID         string
	TaskID     string
	AgentRunID string
	Result     ReviewResult
	Iteration  int
	Summary    string
	Issues     []ReviewIssue
	CreatedAt  time.Time
}

// Notification is one outbound message (spec §3).
type Notification struct {
	ID      string
	TaskID  string
	Type    string
	Channel NotificationChannel
	Payload string
	SentAt  *time.Time
	Error   string
}
