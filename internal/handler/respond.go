package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/locvowork/task_management_sample/internal/logger"
	"github.com/locvowork/task_management_sample/internal/service/serviceutils"
)

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrRemote):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c echo.Context, msg string, err error) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.ErrorLog(c.Request().Context(), fmt.Sprintf("%s: %v", msg, err))
	}
	return serviceutils.ResponseError(c, code, msg, err)
}

func badRequest(c echo.Context, msg string, err error) error {
	return serviceutils.ResponseError(c, http.StatusBadRequest, msg, err)
}
