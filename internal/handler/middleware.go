package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
	"github.com/locvowork/task_management_sample/internal/session"
)

// RequestContext copies the request id and the signed-in identity onto the request context
// so log lines written further down carry them.
func RequestContext(sess *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = logger.WithRequestID(ctx, id)
			}
			if current := sess.Current(); current != nil {
				ctx = logger.WithIdentity(ctx, current.ID)
			}
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireSession rejects requests while nobody is signed in.
func RequireSession(sess *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !sess.IsAuthenticated() {
				return serviceutils.ResponseError(c, http.StatusUnauthorized, "Please sign in", nil)
			}
			return next(c)
		}
	}
}
