// Package handlers holds the gin handler functions for the task engine's
// request surface: one handler struct per resource, with its collaborators
// injected as constructor arguments.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/browserlane/taskengine/internal/domain/entity"
)

// executeRequest is the POST /execute body.
type executeRequest struct {
	Task string `json:"task"`
}

// executeResponse is the POST /execute response.
type executeResponse struct {
	TaskID string `json:"task_id"`
}

// TaskHandler implements the submit/status/healthz endpoints. It depends on
// its collaborators (service.Registry.Submit/Status/Count and
// actionlink.Link.State) as plain closures rather than an interface, since
// gin's handler signature has no natural place to carry a context.Context
// through to Submit.
type TaskHandler struct {
	submit    func(objective string) (string, error)
	status    func(id string) (entity.Snapshot, error)
	count     func() int
	linkState func() string
}

// NewTaskHandler wires the handler to its collaborators.
func NewTaskHandler(submit func(string) (string, error), status func(string) (entity.Snapshot, error), count func() int, linkState func() string) *TaskHandler {
	return &TaskHandler{submit: submit, status: status, count: count, linkState: linkState}
}

// Execute handles POST /execute: {task: string} -> {task_id: uuid}.
// Returns 400 on an empty task.
func (h *TaskHandler) Execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Task == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task must be a non-empty string"})
		return
	}

	id, err := h.submit(req.Task)
	if err != nil {
		if errors.Is(err, entity.ErrEmptyObjective) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, entity.ErrTooManyConcurrent) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, executeResponse{TaskID: id})
}

// Status handles GET /status/{task_id}. Returns 404 if unknown.
func (h *TaskHandler) Status(c *gin.Context) {
	id := c.Param("task_id")
	snap, err := h.status(id)
	if err != nil {
		if errors.Is(err, entity.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Healthz reports liveness: the Action Link's connection state and the
// registry's current task count.
func (h *TaskHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"link_state": h.linkState(),
		"task_count": h.count(),
	})
}
