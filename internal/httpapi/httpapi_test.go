package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"conductor/internal/persistence"
	"conductor/internal/queue"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	require.NoError(t, persistence.Reset())
	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	require.NoError(t, persistence.Initialize(dbPath))
	t.Cleanup(func() { _ = persistence.Reset() })

	policy := queue.DefaultRetryPolicy
	policy.InitialDelay = 0
	q := queue.New(policy)

	return New(persistence.Ops(), q, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestHandleTriggerCreatesTaskAndEnqueuesDecompose(t *testing.T) {
	s := newTestServer(t)

	body := `{"repositoryFullName":"o/r","installationId":1,"title":"Add hello","description":"add hello()"}`
	req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp triggerResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.TaskID)
	require.Equal(t, "pending", resp.Status)

	task, err := s.Ops.GetTask(resp.TaskID)
	require.NoError(t, err)
	require.Equal(t, "Add hello", task.Title)

	jobs, err := s.Queue.Claim(queue.Tasks, "w", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestHandleTriggerRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestHandleReadyReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRouteMountsHandler(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
