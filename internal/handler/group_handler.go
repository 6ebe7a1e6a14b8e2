package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/deeplink"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
	"github.com/locvowork/task_management_sample/internal/workspace"
)

type GroupHandler struct {
	ws     *workspace.Workspace
	joiner *deeplink.Joiner
}

func NewGroupHandler(ws *workspace.Workspace, joiner *deeplink.Joiner) *GroupHandler {
	return &GroupHandler{ws: ws, joiner: joiner}
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	InviteCode  string `json:"invite_code"`
	IsPrivate   bool   `json:"is_private"`
}

// ListHandler handles GET /groups
func (h *GroupHandler) ListHandler(c echo.Context) error {
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", h.ws.Groups())
}

// GetHandler handles GET /groups/:id
func (h *GroupHandler) GetHandler(c echo.Context) error {
	g, ok := h.ws.Group(c.Param("id"))
	if !ok {
		return respondError(c, "Group not found", domain.ErrNotFound)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", g)
}

// TasksHandler handles GET /groups/:id/tasks
func (h *GroupHandler) TasksHandler(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.ws.Group(id); !ok {
		return respondError(c, "Group not found", domain.ErrNotFound)
	}
	tasks := h.ws.GroupTasks(id)
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", tasks)
}

// CreateHandler handles POST /groups
func (h *GroupHandler) CreateHandler(c echo.Context) error {
	var req groupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	g, err := h.ws.AddGroup(c.Request().Context(), domain.Group{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		InviteCode:  req.InviteCode,
		IsPrivate:   req.IsPrivate,
	})
	if err != nil {
		return respondError(c, "Failed to create group", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusCreated, "Group created", g)
}

// DeleteHandler handles DELETE /groups/:id
func (h *GroupHandler) DeleteHandler(c echo.Context) error {
	if err := h.ws.DeleteGroup(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, "Failed to delete group", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AddMemberHandler handles POST /groups/:id/members
func (h *GroupHandler) AddMemberHandler(c echo.Context) error {
	var req struct {
		IdentityID string `json:"identity_id"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	g, err := h.ws.AddMemberToGroup(c.Request().Context(), c.Param("id"), req.IdentityID)
	if err != nil {
		return respondError(c, "Failed to add member", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Member added", g)
}

// JoinHandler handles POST /groups/join with the invite code in the body.
func (h *GroupHandler) JoinHandler(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	g, err := h.ws.JoinGroupByInviteCode(c.Request().Context(), req.Code)
	if err != nil {
		return respondError(c, workspace.JoinFailureMessage(err), err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Successfully joined "+g.Name, g)
}

// JoinLinkHandler handles GET /join/:code. Links opened while signed out are held until the
// next sign-in.
func (h *GroupHandler) JoinLinkHandler(c echo.Context) error {
	res, err := h.joiner.Open(c.Request().Context(), c.Param("code"))
	if err != nil {
		return respondError(c, workspace.JoinFailureMessage(err), err)
	}
	if res.Deferred {
		return serviceutils.ResponseSuccess(c, http.StatusAccepted, "Sign in to join this group", res)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Successfully joined "+res.Group.Name, res)
}
