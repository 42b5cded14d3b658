package http

import (
	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/store"
	"github.com/labstack/echo/v4"
)

const userKey = "focusd.user_id"

// authenticate resolves a bearer token when one is sent. Requests without
// one continue anonymously; a bad token is rejected outright.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if raw == "" {
			return next(c)
		}
		req := c.Request()
		userID, err := s.auth.Resolve(req.Context(), raw)
		if err != nil {
			return err
		}
		c.Set(userKey, userID)
		c.SetRequest(req.WithContext(logging.WithUserID(req.Context(), userID)))
		return next(c)
	}
}

// userID returns the authenticated caller or "".
func userID(c echo.Context) string {
	id, _ := c.Get(userKey).(string)
	return id
}

func requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if userID(c) == "" {
			return auth.ErrUnauthenticated
		}
		return next(c)
	}
}

func requireService(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		switch userID(c) {
		case "":
			return auth.ErrUnauthenticated
		case store.ServiceUserID:
			return next(c)
		}
		return sessions.ErrForbidden
	}
}
