package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to a status code and client message.
// Unknown errors become a generic 500 so internals never leak.
func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		if he.Internal != nil && he.Code >= http.StatusInternalServerError {
			return he.Code, http.StatusText(he.Code)
		}
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, sessions.ErrValidation), errors.Is(err, realtime.ErrInvalidSessionID):
		return http.StatusBadRequest, message(err)
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication required"
	case errors.Is(err, auth.ErrUserInfo):
		return http.StatusUnauthorized, "login failed"
	case errors.Is(err, sessions.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, sessions.ErrNotFound), errors.Is(err, auth.ErrLoginDisabled):
		return http.StatusNotFound, "not found"
	case errors.Is(err, sessions.ErrSessionEnded):
		return http.StatusConflict, "session has ended"
	case errors.Is(err, sessions.ErrRoomUnavailable):
		return http.StatusBadGateway, "video room provider unavailable"
	case errors.Is(err, realtime.ErrClosed):
		return http.StatusServiceUnavailable, "event stream unavailable"
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// message flattens joined errors onto one line.
func message(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", ": ")
}

// handleError writes err as a JSON body. It replaces echo's default handler.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusFor(err)
	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		s.logger.Error(ctx, "request failed",
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn(ctx, "write error response", zap.Error(err))
	}
}
