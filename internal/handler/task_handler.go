package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/export"
	"github.com/locvowork/task_management_sample/internal/search"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
	"github.com/locvowork/task_management_sample/internal/workspace"
)

// Searcher runs free-text task queries restricted to the given task ids.
type Searcher interface {
	Search(ctx context.Context, text string, visible []string, limit int) ([]search.Hit, error)
}

type TaskHandler struct {
	ws       *workspace.Workspace
	searcher Searcher
	exporter *export.Exporter
	now      func() time.Time
}

// NewTaskHandler wires the task routes. searcher may be nil when no search cluster is
// configured.
func NewTaskHandler(ws *workspace.Workspace, searcher Searcher, exporter *export.Exporter) *TaskHandler {
	return &TaskHandler{ws: ws, searcher: searcher, exporter: exporter, now: time.Now}
}

type taskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Priority    *domain.Priority `json:"priority"`
	DueDate     *time.Time       `json:"due_date"`
	AssignedTo  string           `json:"assigned_to"`
	GroupID     *string          `json:"group_id"`
	Tags        []string         `json:"tags"`
	Subtasks    []domain.Subtask `json:"subtasks"`
	Status      domain.Status    `json:"status"`
	Color       string           `json:"color"`
}

func (r *taskRequest) apply(t *domain.Task) {
	t.Title = r.Title
	t.Description = r.Description
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	t.DueDate = r.DueDate
	if r.AssignedTo != "" {
		t.AssignedTo = r.AssignedTo
	}
	if r.GroupID != nil {
		t.GroupID = *r.GroupID
	}
	t.Tags = r.Tags
	t.Subtasks = r.Subtasks
	if r.Status != "" {
		t.SetStatus(r.Status)
	}
	t.Color = r.Color
}

// ListHandler handles GET /tasks?filter=all|pending|completed|high
func (h *TaskHandler) ListHandler(c echo.Context) error {
	filter, err := workspace.ParseFilter(c.QueryParam("filter"))
	if err != nil {
		return badRequest(c, "Invalid filter", err)
	}
	tasks := h.ws.FilteredTasks(filter)
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", tasks)
}

// GetHandler handles GET /tasks/:id
func (h *TaskHandler) GetHandler(c echo.Context) error {
	task, ok := h.ws.Task(c.Param("id"))
	if !ok {
		return respondError(c, "Task not found", domain.ErrNotFound)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", task)
}

// CreateHandler handles POST /tasks
func (h *TaskHandler) CreateHandler(c echo.Context) error {
	var req taskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	task := domain.Task{Priority: domain.PriorityMedium, Status: domain.StatusTodo}
	req.apply(&task)

	created, err := h.ws.AddTask(c.Request().Context(), task)
	if err != nil {
		return respondError(c, "Failed to create task", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusCreated, "Task created", created)
}

// UpdateHandler handles PUT /tasks/:id
func (h *TaskHandler) UpdateHandler(c echo.Context) error {
	current, ok := h.ws.Task(c.Param("id"))
	if !ok {
		return respondError(c, "Task not found", domain.ErrNotFound)
	}
	var req taskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	req.apply(&current)

	updated, err := h.ws.UpdateTask(c.Request().Context(), current)
	if err != nil {
		return respondError(c, "Failed to update task", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Task updated", updated)
}

// DeleteHandler handles DELETE /tasks/:id
func (h *TaskHandler) DeleteHandler(c echo.Context) error {
	if err := h.ws.DeleteTask(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, "Failed to delete task", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ToggleHandler handles POST /tasks/:id/toggle
func (h *TaskHandler) ToggleHandler(c echo.Context) error {
	task, err := h.ws.ToggleTaskCompletion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, "Failed to update task", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", task)
}

// StatusHandler handles PUT /tasks/:id/status
func (h *TaskHandler) StatusHandler(c echo.Context) error {
	var req struct {
		Status domain.Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	task, err := h.ws.SetTaskStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return respondError(c, "Failed to update status", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", task)
}

// AssignHandler handles PUT /tasks/:id/assignee
func (h *TaskHandler) AssignHandler(c echo.Context) error {
	var req struct {
		AssigneeID string `json:"assignee_id"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	task, err := h.ws.AssignTask(c.Request().Context(), c.Param("id"), req.AssigneeID)
	if err != nil {
		return respondError(c, "Failed to assign task", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Task assigned", task)
}

// CommentHandler handles POST /tasks/:id/comments
func (h *TaskHandler) CommentHandler(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	task, err := h.ws.AddComment(c.Request().Context(), c.Param("id"), req.Content)
	if err != nil {
		return respondError(c, "Failed to add comment", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusCreated, "Comment added", task)
}

// StatsHandler handles GET /tasks/stats
func (h *TaskHandler) StatsHandler(c echo.Context) error {
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", h.ws.Stats())
}

// AssignableHandler handles GET /tasks/assignable?group_id=
func (h *TaskHandler) AssignableHandler(c echo.Context) error {
	identities, err := h.ws.AssignableIdentities(c.Request().Context(), c.QueryParam("group_id"))
	if err != nil {
		return respondError(c, "Failed to list identities", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", identities)
}

// SearchHandler handles GET /tasks/search?q=&limit=
func (h *TaskHandler) SearchHandler(c echo.Context) error {
	if h.searcher == nil {
		return serviceutils.ResponseError(c, http.StatusServiceUnavailable, "Search is not configured", nil)
	}
	q := c.QueryParam("q")
	if q == "" {
		return badRequest(c, "Query is required", nil)
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	tasks := h.ws.Tasks()
	visible := make([]string, len(tasks))
	for i, t := range tasks {
		visible[i] = t.ID
	}
	hits, err := h.searcher.Search(c.Request().Context(), q, visible, limit)
	if err != nil {
		return serviceutils.ResponseError(c, http.StatusBadGateway, "Search failed", err)
	}

	results := make([]domain.Task, 0, len(hits))
	for _, hit := range hits {
		if t, ok := h.ws.Task(hit.TaskID); ok {
			results = append(results, t)
		}
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", results)
}

// ExportHandler handles GET /tasks/export
func (h *TaskHandler) ExportHandler(c echo.Context) error {
	data := export.Data{
		Tasks:  h.ws.Tasks(),
		Groups: make(map[string]string),
		People: make(map[string]string),
		Now:    h.now(),
	}
	for _, g := range h.ws.Groups() {
		data.Groups[g.ID] = g.Name
		for _, m := range g.Members {
			data.People[m.ID] = m.Name
		}
	}
	if me := h.ws.Identity(); me != nil {
		data.People[me.ID] = me.Name
	}

	c.Response().Header().Set(echo.HeaderContentType, export.ContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="tasks_%s.xlsx"`, data.Now.Format("20060102")))
	c.Response().WriteHeader(http.StatusOK)
	return h.exporter.Write(c.Response(), data)
}
