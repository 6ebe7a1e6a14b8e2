package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/credential"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
	"github.com/locvowork/task_management_sample/internal/session"
)

type AuthHandler struct {
	session *session.Manager
}

func NewAuthHandler(sess *session.Manager) *AuthHandler {
	return &AuthHandler{session: sess}
}

type signInRequest struct {
	IdentityToken string `json:"identity_token"`
	ProviderID    string `json:"provider_id"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Email         string `json:"email"`
}

// SignInHandler handles POST /auth/sign-in. The body carries either the provider's identity
// token or an already decoded assertion.
func (h *AuthHandler) SignInHandler(c echo.Context) error {
	ctx := c.Request().Context()
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	cred := credential.Credential{
		ProviderID: req.ProviderID,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Email:      req.Email,
	}
	if req.IdentityToken != "" {
		var err error
		if cred, err = credential.FromIdentityToken(req.IdentityToken, req.GivenName, req.FamilyName); err != nil {
			return badRequest(c, "Invalid identity token", err)
		}
	}

	identity, err := h.session.SignIn(ctx, cred)
	if err != nil {
		return respondError(c, "Failed to sign in", err)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Signed in", identity)
}

// SignOutHandler handles POST /auth/sign-out.
func (h *AuthHandler) SignOutHandler(c echo.Context) error {
	h.session.SignOut(c.Request().Context())
	return serviceutils.ResponseSuccess(c, http.StatusOK, "Signed out", nil)
}

// MeHandler handles GET /auth/me.
func (h *AuthHandler) MeHandler(c echo.Context) error {
	if h.session.IsLoading() {
		return serviceutils.ResponseSuccess(c, http.StatusAccepted, "Restoring session", nil)
	}
	current := h.session.Current()
	if current == nil {
		return serviceutils.ResponseError(c, http.StatusUnauthorized, "Not signed in", nil)
	}
	return serviceutils.ResponseSuccess(c, http.StatusOK, "", current)
}
