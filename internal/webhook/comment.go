package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conductor/internal/persistence"
	"conductor/internal/taskfsm"
)

const commandPrefix = "/conductor"

// issueCommentEvent is the subset of GitHub's issue_comment webhook payload
// conductor acts on.
type issueCommentEvent struct {
	Action string `json:"action"`
	Issue  struct {
		Number int `json:"number"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (h *Handler) handleIssueComment(ctx context.Context, body []byte) error {
	var event issueCommentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("webhook: decode issue_comment event: %w", err)
	}
	if event.Action != "created" || h.isBotComment(event.Comment.User.Login) {
		return nil
	}

	command, ok := parseCommand(event.Comment.Body)
	if !ok {
		return nil
	}

	client, err := h.Forge(ctx, event.Repository.FullName, event.Installation.ID)
	if err != nil {
		return fmt.Errorf("webhook: forge client: %w", err)
	}

	reply, err := h.runCommand(ctx, command, event.Repository.FullName)
	if err != nil {
		return fmt.Errorf("webhook: run command %q: %w", command, err)
	}
	if err := client.AddIssueComment(ctx, event.Issue.Number, reply); err != nil {
		return fmt.Errorf("webhook: post command reply: %w", err)
	}
	return nil
}

// parseCommand extracts the command word following "/conductor " from a
// comment body, reporting false if the body does not contain the prefix.
func parseCommand(body string) (string, bool) {
	idx := strings.Index(body, commandPrefix)
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(body[idx+len(commandPrefix):])
	if rest == "" {
		return "", false
	}
	return strings.Fields(rest)[0], true
}

const helpText = "`/conductor status` — recent task progress\n`/conductor retry` — retry the most recent failed task\n`/conductor help` — this message"

func (h *Handler) runCommand(ctx context.Context, command, repositoryFullName string) (string, error) {
	switch command {
	case "status":
		return h.statusReply(repositoryFullName)
	case "retry":
		return h.retryReply(repositoryFullName)
	case "help":
		return helpText, nil
	default:
		return fmt.Sprintf("unknown command %q. Try `/conductor help`.", command), nil
	}
}

func (h *Handler) statusReply(repositoryFullName string) (string, error) {
	tasks, err := h.Ops.ListRecentTasks(repositoryFullName, 10)
	if err != nil {
		return "", fmt.Errorf("list recent tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "No recent tasks for this repository.", nil
	}

	var b strings.Builder
	b.WriteString("| Task | Status |\n|---|---|\n")
	for _, task := range tasks {
		b.WriteString("| " + task.Title + " | " + string(task.Status) + " |\n")
	}
	return b.String(), nil
}

func (h *Handler) retryReply(repositoryFullName string) (string, error) {
	tasks, err := h.Ops.ListRecentTasks(repositoryFullName, 20)
	if err != nil {
		return "", fmt.Errorf("list recent tasks: %w", err)
	}

	var target *persistence.Task
	for _, task := range tasks {
		if task.Status == persistence.TaskFailed {
			target = task
			break
		}
	}
	if target == nil {
		return "No failed task found to retry.", nil
	}

	if err := taskfsm.CheckTransition(target.Status, persistence.TaskPending); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	if _, err := h.Ops.IncrementTaskRetryCount(target.ID); err != nil {
		return "", fmt.Errorf("increment retry count: %w", err)
	}
	if err := h.Ops.UpdateTaskStatus(target.ID, persistence.TaskPending); err != nil {
		return "", fmt.Errorf("transition to pending: %w", err)
	}
	if err := enqueueDecompose(h.Queue, target.ID, "decompose-"+target.ID+"-retry-"+randomJobSalt()); err != nil {
		return "", fmt.Errorf("enqueue decompose: %w", err)
	}
	return "Retrying task: " + target.Title, nil
}
