package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/member_auth/internal/logging"
	"github.com/Skotchmaster/member_auth/internal/oauth"
	"github.com/Skotchmaster/member_auth/internal/repo"
	"github.com/Skotchmaster/member_auth/internal/service"
)

// Response is the body of every API answer, errors included.
type Response struct {
	Status  int    `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func ok(c echo.Context, status int, message string, data any) error {
	return c.JSON(status, Response{Status: status, Success: true, Message: message, Data: data})
}

const internalMessage = "internal server error"

// statusOf maps service errors to a status and a message safe to show.
func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, _ := he.Message.(string)
		if he.Code >= 500 {
			msg = internalMessage
		}
		if msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, msg
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBadCredentials):
		return http.StatusUnauthorized, service.ErrBadCredentials.Error()
	case errors.Is(err, service.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, service.ErrInvalidRefreshToken.Error()
	case errors.Is(err, repo.ErrSessionMismatch):
		return http.StatusUnauthorized, repo.ErrSessionMismatch.Error()
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized, service.ErrSessionExpired.Error()
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, service.ErrUnauthenticated.Error()
	case errors.Is(err, repo.ErrMemberNotFound):
		return http.StatusNotFound, repo.ErrMemberNotFound.Error()
	case errors.Is(err, oauth.ErrUnknownProvider):
		return http.StatusNotFound, oauth.ErrUnknownProvider.Error()
	case errors.Is(err, service.ErrDuplicateEmail):
		return http.StatusConflict, service.ErrDuplicateEmail.Error()
	default:
		return http.StatusInternalServerError, internalMessage
	}
}

// ErrorHandler renders every error in the Response envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, msg := statusOf(err)
	if code >= 500 {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "status", code, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, Response{Status: code, Success: false, Message: msg})
}
