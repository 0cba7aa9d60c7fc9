// Package webhook implements board/pull-request/comment intake (spec
// §4.12): the HTTP-facing translation of external forge events into new
// Tasks and queue jobs, idempotent on redelivery. Grounded on the
// dpolishuk-yolo-runner webhook package for the signed-ingress-then-enqueue
// shape, adapted from its async-dispatcher-to-JSONL-sink model into a
// synchronous handler that writes straight through internal/persistence and
// internal/queue (conductor's durable stores already provide the
// at-least-once redelivery safety that yolo-runner's file-backed queue
// exists to provide).
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"conductor/internal/forge"
	"conductor/internal/logx"
	"conductor/internal/metrics"
	"conductor/internal/persistence"
	"conductor/internal/queue"
	"conductor/internal/taskproc"
)

const maxBodyBytes = 1 << 20 // 1 MiB, generous for a board/PR event payload

// statusTodo and statusRedo are the only board-item statuses that produce
// orchestration side effects; every other status is ignored.
const (
	statusTodo = "Todo"
	statusRedo = "Redo"
)

// ClientFactory resolves the forge client to use for a repository.
type ClientFactory func(ctx context.Context, repositoryFullName string, installationID int64) (forge.Client, error)

// Config configures signature verification and bot-comment detection.
type Config struct {
	// Secret is the shared HMAC secret configured on the forge's webhook.
	// Empty disables signature verification (local/dev use only).
	Secret string
	// BotAccountName is the login treated as bot-authored in addition to
	// any login ending in "[bot]".
	BotAccountName string
}

// Handler is an http.Handler receiving signed webhook deliveries.
type Handler struct {
	Ops     *persistence.DatabaseOperations
	Queue   *queue.Queue
	Forge   ClientFactory
	Config  Config
	Metrics metrics.Recorder
	logger  *logx.Logger
}

// New constructs a Handler.
func New(ops *persistence.DatabaseOperations, q *queue.Queue, forge ClientFactory, cfg Config) *Handler {
	return &Handler{Ops: ops, Queue: q, Forge: forge, Config: cfg, Metrics: metrics.Nop(), logger: logx.NewLogger("webhook")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	ctx := r.Context()

	var handleErr error
	switch event {
	case "projects_v2_item":
		handleErr = h.handleProjectsV2Item(ctx, body)
	case "pull_request":
		handleErr = h.handlePullRequest(ctx, body)
	case "issue_comment":
		handleErr = h.handleIssueComment(ctx, body)
	default:
		// Ignored event family; still a 200 so the forge does not retry.
	}

	if handleErr != nil {
		h.logger.Error("webhook: handling %s event: %v", event, handleErr)
		h.Metrics.ObserveWebhookEvent(event, false)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.Metrics.ObserveWebhookEvent(event, true)
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the X-Hub-Signature-256 header against the
// configured secret using constant-time comparison. An empty Secret skips
// verification, matching a local/dev deployment with no forge secret set.
func (h *Handler) verifySignature(header string, body []byte) bool {
	if h.Config.Secret == "" {
		return true
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.Config.Secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.TrimPrefix(header, prefix)), []byte(expected))
}

func (h *Handler) isBotComment(login string) bool {
	if h.Config.BotAccountName != "" && login == h.Config.BotAccountName {
		return true
	}
	return strings.HasSuffix(login, "[bot]")
}

func randomJobSalt() string {
	return uuid.NewString()[:8]
}

func enqueueDecompose(q *queue.Queue, taskID, jobID string) error {
	return q.Enqueue(queue.Tasks, jobID, taskproc.Payload{TaskID: taskID, Action: taskproc.ActionDecompose})
}

