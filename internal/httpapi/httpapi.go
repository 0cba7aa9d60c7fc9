// Package httpapi exposes conductor's external HTTP surface (spec §6):
// signed webhook intake, manual task triggering, liveness/readiness probes,
// and Prometheus metrics exposition. Grounded on the teacher's
// pkg/webui/server.go for the ServeMux-plus-route-table shape, generalized
// from that package's authenticated dashboard to conductor's small,
// unauthenticated operator surface, and on handlers/health.go for the
// liveness handler idiom.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/internal/logx"
	"conductor/internal/persistence"
	"conductor/internal/queue"
	"conductor/internal/taskproc"
)

// Server is conductor's HTTP-facing operator surface.
type Server struct {
	Ops     *persistence.DatabaseOperations
	Queue   *queue.Queue
	Webhook http.Handler
	logger  *logx.Logger
}

// New constructs a Server. webhookHandler is mounted at /webhooks verbatim.
func New(ops *persistence.DatabaseOperations, q *queue.Queue, webhookHandler http.Handler) *Server {
	return &Server{Ops: ops, Queue: q, Webhook: webhookHandler, logger: logx.NewLogger("httpapi")}
}

// Mux builds the route table.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/webhooks", s.Webhook)
	mux.HandleFunc("/trigger", s.handleTrigger)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/live", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type triggerRequest struct {
	RepositoryFullName string `json:"repositoryFullName"`
	InstallationID     int64  `json:"installationId"`
	Title              string `json:"title"`
	Description        string `json:"description"`
}

type triggerResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// handleTrigger implements spec §6's manual task creation endpoint.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RepositoryFullName == "" || req.Title == "" {
		http.Error(w, "repositoryFullName and title are required", http.StatusBadRequest)
		return
	}

	task := &persistence.Task{
		ID:                 uuid.NewString(),
		RepositoryFullName: req.RepositoryFullName,
		InstallationID:     req.InstallationID,
		Title:              req.Title,
		Description:        req.Description,
		Status:             persistence.TaskPending,
	}
	if err := s.Ops.UpsertTask(task); err != nil {
		s.logger.Error("httpapi: insert triggered task: %v", err)
		http.Error(w, "failed to create task", http.StatusInternalServerError)
		return
	}
	if err := s.Queue.Enqueue(queue.Tasks, "decompose-"+task.ID, taskproc.Payload{TaskID: task.ID, Action: taskproc.ActionDecompose}); err != nil {
		s.logger.Error("httpapi: enqueue decompose for triggered task %s: %v", task.ID, err)
		http.Error(w, "failed to enqueue task", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(triggerResponse{TaskID: task.ID, Status: string(task.Status)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady probes the database so readiness reflects whether conductor
// can actually serve traffic, not just whether the process is alive.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.pingDB(r.Context()); err != nil {
		s.logger.Warn("httpapi: readiness check failed: %v", err)
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) pingDB(ctx context.Context) error {
	_, err := s.Ops.ListTasksByStatus(persistence.TaskPending)
	return err
}
