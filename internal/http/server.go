// Package http provides the focusd REST API and event streams.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EventStreamer serves a session's live events to one client.
type EventStreamer interface {
	ServeSSE(c echo.Context, sessionID string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps holds what the server routes to.
type Deps struct {
	Sessions  *sessions.Service
	Auth      *auth.Authenticator
	Events    EventStreamer
	Checks    map[string]HealthCheck
	Telemetry *telemetry.Telemetry
	Version   string
}

// Server provides HTTP endpoints for focusd.
type Server struct {
	echo     *echo.Echo
	sessions *sessions.Service
	auth     *auth.Authenticator
	events   EventStreamer
	checks   map[string]HealthCheck
	tel      *telemetry.Telemetry
	version  string
	logger   *logging.Logger
	config   config.ServerConfig
	now      func() time.Time
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("sessions service cannot be nil")
	}
	if deps.Auth == nil {
		return nil, errors.New("authenticator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		sessions: deps.Sessions,
		auth:     deps.Auth,
		events:   deps.Events,
		checks:   deps.Checks,
		tel:      deps.Telemetry,
		version:  deps.Version,
		logger:   logger.Named("http"),
		config:   cfg,
		now:      time.Now,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLog)
	e.Use(NewHTTPMetrics(deps.Telemetry.Meter(httpInstrumentationName), s.logger).MetricsMiddleware())
	e.Use(s.authenticate)

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.GET("/auth/login", s.handleLogin)
	s.echo.GET("/auth/callback", s.handleCallback)
	s.echo.POST("/auth/logout", s.handleLogout)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/templates", s.handleListTemplates)

	v1.GET("/sessions", s.handleListSessions)
	v1.POST("/sessions", s.handleCreateSession, requireUser)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession, requireService)
	v1.POST("/sessions/:id/start", s.handleStartSession, requireUser)
	v1.POST("/sessions/:id/end", s.handleEndSession, requireUser)
	v1.GET("/sessions/:id/progress", s.handleProgress)
	v1.GET("/sessions/:id/events", s.handleEvents)

	v1.GET("/sessions/:id/intentions", s.handleListIntentions)
	v1.POST("/sessions/:id/intentions", s.handleAddIntention, requireUser)
	v1.PATCH("/intentions/:id", s.handleToggleIntention, requireUser)
	v1.DELETE("/intentions/:id", s.handleDeleteIntention, requireUser)

	v1.GET("/profiles/me", s.handleGetOwnProfile, requireUser)
	v1.PUT("/profiles/me", s.handleUpdateProfile, requireUser)
	v1.GET("/profiles/:id", s.handleGetProfile)
}

// requestLog logs each request and carries its id into the request context.
func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Telemetry string            `json:"telemetry"`
}

// handleHealth runs every dependency check. Any failure reports 503.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Version: s.version, Checks: map[string]string{}}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	switch h := s.tel.Health(); {
	case !s.tel.IsEnabled():
		resp.Telemetry = "disabled"
	case h.Degraded:
		resp.Telemetry = "degraded"
	default:
		resp.Telemetry = "ok"
	}
	return c.JSON(code, resp)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }
