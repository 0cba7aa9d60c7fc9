package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conductor/internal/persistence"
	"conductor/internal/taskfsm"
)

const conductorBranchPrefix = "conductor/"

// pullRequestEvent is the subset of GitHub's pull_request webhook payload
// conductor acts on.
type pullRequestEvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *Handler) handlePullRequest(ctx context.Context, body []byte) error {
	var event pullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("webhook: decode pull_request event: %w", err)
	}
	if !strings.HasPrefix(event.PullRequest.Head.Ref, conductorBranchPrefix) {
		return nil
	}

	pr, err := h.Ops.GetPullRequestByBranch(event.Repository.FullName, event.PullRequest.Head.Ref)
	if err != nil {
		if err == persistence.ErrNotFound {
			return nil
		}
		return fmt.Errorf("webhook: lookup pull request by branch: %w", err)
	}

	switch event.Action {
	case "closed":
		if event.PullRequest.Merged {
			return h.handlePRMerged(ctx, pr)
		}
		return h.Ops.UpdatePullRequestStatus(pr.ID, persistence.PRClosed, pr.CheckStatus)
	case "synchronize":
		pr.HeadCommitID = event.PullRequest.Head.SHA
		return h.Ops.UpdatePullRequestStatus(pr.ID, pr.Status, pr.CheckStatus)
	default:
		return nil
	}
}

func (h *Handler) handlePRMerged(ctx context.Context, pr *persistence.PullRequest) error {
	if err := h.Ops.UpdatePullRequestStatus(pr.ID, persistence.PRMerged, pr.CheckStatus); err != nil {
		return fmt.Errorf("webhook: mark pull request merged: %w", err)
	}

	task, err := h.Ops.GetTask(pr.TaskID)
	if err != nil {
		return fmt.Errorf("webhook: reload task: %w", err)
	}
	if task.Status == persistence.TaskDone {
		// Redelivery of pull_request.closed merged=true after the task
		// already completed: a no-op, not an error (spec §8).
		return nil
	}
	if err := taskfsm.CheckTransition(task.Status, persistence.TaskDone); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if err := h.Ops.UpdateTaskStatus(pr.TaskID, persistence.TaskDone); err != nil {
		return fmt.Errorf("webhook: transition task to done: %w", err)
	}
	client, err := h.Forge(ctx, task.RepositoryFullName, task.InstallationID)
	if err != nil {
		return fmt.Errorf("webhook: forge client: %w", err)
	}
	if err := client.MoveProjectItemToColumn(ctx, task.ExternalProjectID, task.ExternalItemID, "Done"); err != nil {
		h.logger.Error("webhook: move card to Done for task %s: %v", task.ID, err)
	}
	return nil
}
