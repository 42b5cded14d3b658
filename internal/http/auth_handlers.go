package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	stateCookie       = "focusd_oauth_state"
	stateCookieMaxAge = 600
)

// LoginResponse is the response body for GET /auth/callback.
type LoginResponse struct {
	Token   string         `json:"token"`
	Profile *store.Profile `json:"profile"`
}

// handleLogin redirects to the provider with a fresh state cookie.
func (s *Server) handleLogin(c echo.Context) error {
	if !s.auth.LoginEnabled() {
		return auth.ErrLoginDisabled
	}
	state, err := auth.NewState()
	if err != nil {
		return err
	}
	target, err := s.auth.LoginURL(state)
	if err != nil {
		return err
	}
	c.SetCookie(s.newStateCookie(c, state, stateCookieMaxAge))
	return c.Redirect(http.StatusFound, target)
}

// handleCallback verifies state, exchanges the code and issues a token.
func (s *Server) handleCallback(c echo.Context) error {
	if !s.auth.LoginEnabled() {
		return auth.ErrLoginDisabled
	}
	ctx := c.Request().Context()
	if reason := c.QueryParam("error"); reason != "" {
		s.logger.Info(ctx, "login denied by provider", zap.String("reason", reason))
		return echo.NewHTTPError(http.StatusUnauthorized, "login denied")
	}

	cookie, err := c.Cookie(stateCookie)
	state := c.QueryParam("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid login state")
	}
	c.SetCookie(s.newStateCookie(c, "", -1))

	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing authorization code")
	}
	token, profile, err := s.auth.Login(ctx, code)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LoginResponse{Token: token, Profile: profile})
}

// handleLogout revokes the bearer token sent with the request.
func (s *Server) handleLogout(c echo.Context) error {
	raw := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if err := s.auth.Logout(c.Request().Context(), raw); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) newStateCookie(c echo.Context, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.IsTLS(),
		SameSite: http.SameSiteLaxMode,
	}
}
