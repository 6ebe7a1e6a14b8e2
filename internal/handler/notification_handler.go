package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
	"github.com/locvowork/task_management_sample/internal/workspace"
)

type NotificationHandler struct {
	ws *workspace.Workspace
}

func NewNotificationHandler(ws *workspace.Workspace) *NotificationHandler {
	return &NotificationHandler{ws: ws}
}

// ListHandler handles GET /notifications
func (h *NotificationHandler) ListHandler(c echo.Context) error {
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", map[string]interface{}{
		"notifications": h.ws.Notifications(),
		"unread":        h.ws.UnreadCount(),
	})
}

// MarkReadHandler handles POST /notifications/:id/read
func (h *NotificationHandler) MarkReadHandler(c echo.Context) error {
	if err := h.ws.MarkNotificationRead(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, "Failed to mark notification read", err)
	}
	return c.NoContent(http.StatusNoContent)
}
