package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"conductor/internal/forge"
	"conductor/internal/persistence"
	"conductor/internal/taskfsm"
)

// projectsV2ItemEvent is the subset of GitHub's projects_v2_item webhook
// payload conductor acts on.
type projectsV2ItemEvent struct {
	Action         string `json:"action"`
	ProjectsV2Item struct {
		NodeID        string `json:"node_id"`
		ProjectNodeID string `json:"project_node_id"`
		ContentNodeID string `json:"content_node_id"`
		ContentType   string `json:"content_type"`
	} `json:"projects_v2_item"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (h *Handler) handleProjectsV2Item(ctx context.Context, body []byte) error {
	var event projectsV2ItemEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("webhook: decode projects_v2_item event: %w", err)
	}
	if event.ProjectsV2Item.ContentType != "Issue" {
		return nil
	}

	itemID := event.ProjectsV2Item.NodeID
	projectID := event.ProjectsV2Item.ProjectNodeID

	// The item's repository isn't known until content is resolved, so the
	// initial client is requested with an empty repo name; factories that
	// need a specific repo per client should treat "" as "resolve
	// generically" (e.g. via the installation token alone).
	client, err := h.Forge(ctx, "", event.Installation.ID)
	if err != nil {
		return fmt.Errorf("webhook: forge client: %w", err)
	}

	status, err := client.GetProjectItemStatus(ctx, projectID, itemID)
	if err != nil {
		return fmt.Errorf("webhook: get project item status: %w", err)
	}
	if status != statusTodo && status != statusRedo {
		return nil
	}

	existing, err := h.Ops.GetTaskByExternalItemID(itemID)
	if err != nil && err != persistence.ErrNotFound {
		return fmt.Errorf("webhook: lookup task by item id: %w", err)
	}

	switch {
	case existing == nil && status == statusTodo:
		return h.createTaskFromBoardItem(ctx, client, projectID, itemID, event.Installation.ID)
	case existing != nil && existing.Status == persistence.TaskHumanReview && status == statusTodo:
		return h.resumeFromHumanReview(ctx, client, existing)
	case existing != nil && existing.Status == persistence.TaskPRCreated && status == statusRedo:
		return h.resumeFromRedo(ctx, client, existing)
	default:
		return nil // any other existing-task/status combination is a no-op
	}
}

func (h *Handler) createTaskFromBoardItem(ctx context.Context, client forge.Client, projectID, itemID string, installationID int64) error {
	content, err := client.GetProjectItemContent(ctx, itemID)
	if err != nil {
		return fmt.Errorf("webhook: get project item content: %w", err)
	}

	task := &persistence.Task{
		ID:                 uuid.NewString(),
		ExternalItemID:     itemID,
		ExternalProjectID:  projectID,
		RepositoryFullName: content.RepositoryFullName,
		InstallationID:     installationID,
		Title:              content.Title,
		Description:        content.Body,
		Status:             persistence.TaskPending,
	}
	if content.IssueNumber != 0 {
		issueNumber := content.IssueNumber
		task.LinkedIssueNumber = &issueNumber
	}
	if err := h.Ops.UpsertTask(task); err != nil {
		return fmt.Errorf("webhook: insert task: %w", err)
	}
	return enqueueDecompose(h.Queue, task.ID, "decompose-"+task.ID)
}

func (h *Handler) resumeFromHumanReview(ctx context.Context, client forge.Client, task *persistence.Task) error {
	if task.LinkedIssueNumber == nil {
		return nil
	}
	comments, err := client.ListIssueComments(ctx, *task.LinkedIssueNumber)
	if err != nil {
		return fmt.Errorf("webhook: list issue comments: %w", err)
	}
	answer := h.lastNonBotComment(comments)
	if err := h.Ops.SetHumanReviewAnswer(task.ID, answer); err != nil {
		return fmt.Errorf("webhook: set human review answer: %w", err)
	}
	if err := h.transitionToPending(task); err != nil {
		return err
	}
	return enqueueDecompose(h.Queue, task.ID, "decompose-"+task.ID+"-"+randomJobSalt())
}

func (h *Handler) resumeFromRedo(ctx context.Context, client forge.Client, task *persistence.Task) error {
	if task.PullRequestNumber == nil {
		return nil
	}
	reviews, err := client.ListPRReviews(ctx, *task.PullRequestNumber)
	if err != nil {
		return fmt.Errorf("webhook: list pr reviews: %w", err)
	}
	comments, err := client.ListPRComments(ctx, *task.PullRequestNumber)
	if err != nil {
		return fmt.Errorf("webhook: list pr comments: %w", err)
	}

	var feedback string
	for _, review := range reviews {
		if review.Body == "" {
			continue
		}
		feedback += "[review:" + review.Author + "] " + review.Body + "\n"
	}
	for _, comment := range comments {
		if h.isBotComment(comment.Author) || comment.Body == "" {
			continue
		}
		feedback += "[comment:" + comment.Author + "] " + comment.Body + "\n"
	}

	if err := h.Ops.SetHumanReviewAnswer(task.ID, feedback); err != nil {
		return fmt.Errorf("webhook: set human review answer: %w", err)
	}
	if err := h.transitionToPending(task); err != nil {
		return err
	}
	return enqueueDecompose(h.Queue, task.ID, "decompose-"+task.ID+"-"+randomJobSalt())
}

func (h *Handler) transitionToPending(task *persistence.Task) error {
	if err := taskfsm.CheckTransition(task.Status, persistence.TaskPending); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if err := h.Ops.UpdateTaskStatus(task.ID, persistence.TaskPending); err != nil {
		return fmt.Errorf("webhook: transition to pending: %w", err)
	}
	return nil
}

func (h *Handler) lastNonBotComment(comments []forge.Comment) string {
	for i := len(comments) - 1; i >= 0; i-- {
		if !h.isBotComment(comments[i].Author) {
			return comments[i].Body
		}
	}
	return ""
}
