package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/templates"
	"github.com/labstack/echo/v4"
)

var errBadBody = echo.NewHTTPError(http.StatusBadRequest, "invalid request body")

// TemplatesResponse is the response body for GET /api/v1/templates.
type TemplatesResponse struct {
	Templates []templates.Template `json:"templates"`
}

// SessionsResponse is the response body for GET /api/v1/sessions.
type SessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

// IntentionsResponse is the response body for GET /api/v1/sessions/:id/intentions.
type IntentionsResponse struct {
	Intentions []*store.Intention `json:"intentions"`
}

// IntentionRequest is the body of POST /api/v1/sessions/:id/intentions.
type IntentionRequest struct {
	Text string `json:"text"`
}

// ToggleRequest is the body of PATCH /api/v1/intentions/:id. An absent
// completed flag flips the current value.
type ToggleRequest struct {
	Completed *bool `json:"completed"`
}

func (s *Server) handleListTemplates(c echo.Context) error {
	list, err := s.sessions.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []templates.Template{}
	}
	return c.JSON(http.StatusOK, TemplatesResponse{Templates: list})
}

func (s *Server) handleListSessions(c echo.Context) error {
	list, err := s.sessions.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*store.Session{}
	}
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: list})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	var req sessions.CreateRequest
	if err := c.Bind(&req); err != nil {
		return errBadBody
	}
	req.CreatedBy = userID(c)

	sess, err := s.sessions.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c echo.Context) error {
	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.sessions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStartSession(c echo.Context) error {
	sess, err := s.sessions.Start(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleEndSession(c echo.Context) error {
	sess, err := s.sessions.End(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// handleProgress computes the stage clock at ?at=<RFC3339>, default now.
func (s *Server) handleProgress(c echo.Context) error {
	at := s.now()
	if raw := c.QueryParam("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		}
		at = parsed
	}

	view, err := s.sessions.Progress(c.Request().Context(), c.Param("id"), at)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleEvents(c echo.Context) error {
	if s.events == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}
	id := c.Param("id")
	if _, err := s.sessions.Get(c.Request().Context(), id); err != nil {
		return err
	}
	return s.events.ServeSSE(c, id)
}

func (s *Server) handleListIntentions(c echo.Context) error {
	list, err := s.sessions.ListIntentions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, IntentionsResponse{Intentions: list})
}

func (s *Server) handleAddIntention(c echo.Context) error {
	var req IntentionRequest
	if err := c.Bind(&req); err != nil {
		return errBadBody
	}
	in, err := s.sessions.AddIntention(c.Request().Context(), c.Param("id"), userID(c), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, in)
}

func (s *Server) handleToggleIntention(c echo.Context) error {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return errBadBody
	}
	in, err := s.sessions.ToggleIntention(c.Request().Context(), c.Param("id"), userID(c), req.Completed)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, in)
}

func (s *Server) handleDeleteIntention(c echo.Context) error {
	if err := s.sessions.DeleteIntention(c.Request().Context(), c.Param("id"), userID(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleGetProfile(c echo.Context) error {
	p, err := s.sessions.GetProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// handleGetOwnProfile returns the caller's profile. The service user has
// none stored, so a bare one is returned instead of 404.
func (s *Server) handleGetOwnProfile(c echo.Context) error {
	id := userID(c)
	p, err := s.sessions.GetProfile(c.Request().Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		return c.JSON(http.StatusOK, store.Profile{ID: id})
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleUpdateProfile(c echo.Context) error {
	var req sessions.ProfileUpdate
	if err := c.Bind(&req); err != nil {
		return errBadBody
	}
	p, err := s.sessions.UpdateProfile(c.Request().Context(), userID(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
