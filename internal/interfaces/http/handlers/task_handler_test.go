package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(submit func(string) (string, error), status func(string) (entity.Snapshot, error)) (*TaskHandler, *gin.Engine) {
	h := NewTaskHandler(submit, status, func() int { return 0 }, func() string { return "ready" })
	r := gin.New()
	r.POST("/execute", h.Execute)
	r.GET("/status/:task_id", h.Status)
	r.GET("/healthz", h.Healthz)
	return h, r
}

func TestExecute_ReturnsTaskID(t *testing.T) {
	_, r := newTestHandler(
		func(objective string) (string, error) { return "task-123", nil },
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"task":"go to https://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "task-123") {
		t.Fatalf("expected task_id in response, got %s", w.Body.String())
	}
}

func TestExecute_EmptyTaskReturns400(t *testing.T) {
	_, r := newTestHandler(
		func(objective string) (string, error) { return "", entity.ErrEmptyObjective },
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"task":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecute_MissingBodyReturns400(t *testing.T) {
	_, r := newTestHandler(
		func(objective string) (string, error) { return "should-not-be-called", nil },
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExecute_TooManyConcurrentReturns503(t *testing.T) {
	_, r := newTestHandler(
		func(objective string) (string, error) { return "", entity.ErrTooManyConcurrent },
		nil,
	)
	req := httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"task":"go to https://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStatus_ReturnsSnapshot(t *testing.T) {
	_, r := newTestHandler(
		nil,
		func(id string) (entity.Snapshot, error) {
			return entity.Snapshot{TaskID: id, Status: entity.StatusProcessing, StepsExecuted: 2, TotalSteps: 20}, nil
		},
	)
	req := httptest.NewRequest(http.MethodGet, "/status/task-123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "processing") {
		t.Fatalf("expected status in response body, got %s", w.Body.String())
	}
}

func TestStatus_UnknownIDReturns404(t *testing.T) {
	_, r := newTestHandler(
		nil,
		func(id string) (entity.Snapshot, error) { return entity.Snapshot{}, entity.ErrTaskNotFound },
	)
	req := httptest.NewRequest(http.MethodGet, "/status/does-not-exist", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHealthz_ReportsLinkStateAndTaskCount(t *testing.T) {
	h := NewTaskHandler(nil, nil, func() int { return 3 }, func() string { return "ready" })
	r := gin.New()
	r.GET("/healthz", h.Healthz)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "ready") || !strings.Contains(body, `"task_count":3`) {
		t.Fatalf("expected link state and task count in body, got %s", body)
	}
}
