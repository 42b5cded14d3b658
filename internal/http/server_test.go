package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/templates"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const opsToken = "ops-token"

type testEnv struct {
	server *Server
	store  *store.Store
	bus    *realtime.Bus
}

type testOptions struct {
	authCfg config.AuthConfig
	authOps []auth.Option
	checks  map[string]HealthCheck
}

func setupTestServer(t *testing.T) *testEnv {
	return setupTestServerWith(t, testOptions{})
}

func setupTestServerWith(t *testing.T, o testOptions) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "focusd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.UpsertTemplates(ctx, templates.Builtins()))

	srv, err := realtime.StartEmbedded(config.NATSConfig{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	bus := realtime.NewBus(nc, realtime.WithHeartbeat(time.Hour))

	svc := sessions.New(st, sessions.WithPublisher(bus))
	authn, err := auth.New(o.authCfg, config.Secret(opsToken), st, o.authOps...)
	require.NoError(t, err)

	server, err := NewServer(Deps{
		Sessions: svc,
		Auth:     authn,
		Events:   bus,
		Checks:   o.checks,
		Version:  "test",
	}, logging.NewNop(), config.ServerConfig{})
	require.NoError(t, err)
	return &testEnv{server: server, store: st, bus: bus}
}

// userToken issues a bearer token for userID.
func (e *testEnv) userToken(t *testing.T, userID string) string {
	t.Helper()
	raw := "token-" + userID
	_, err := e.store.CreateToken(context.Background(), raw, userID, time.Hour)
	require.NoError(t, err)
	return raw
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decode[ErrorResponse](t, rec).Error
}

func TestNewServer(t *testing.T) {
	env := setupTestServer(t)

	t.Run("applies default address", func(t *testing.T) {
		assert.Equal(t, "localhost", env.server.config.Host)
		assert.Equal(t, 9090, env.server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Sessions: env.server.sessions, Auth: env.server.auth}, nil, config.ServerConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when sessions are missing", func(t *testing.T) {
		_, err := NewServer(Deps{Auth: env.server.auth}, logging.NewNop(), config.ServerConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sessions service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := setupTestServerWith(t, testOptions{checks: map[string]HealthCheck{
			"store": func(ctx context.Context) error { return nil },
		}})
		rec := env.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "test", resp.Version)
		assert.Equal(t, "ok", resp.Checks["store"])
		assert.Equal(t, "disabled", resp.Telemetry)
	})

	t.Run("failing check", func(t *testing.T) {
		env := setupTestServerWith(t, testOptions{checks: map[string]HealthCheck{
			"store": func(ctx context.Context) error { return nil },
			"nats":  func(ctx context.Context) error { return errors.New("disconnected") },
		}})
		rec := env.do(t, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "disconnected", resp.Checks["nats"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "focusd_realtime_sse_clients")
}

func TestTemplatesAPI(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/templates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[TemplatesResponse](t, rec)
	require.Len(t, resp.Templates, len(templates.Builtins()))
}

func TestSessionsAPI(t *testing.T) {
	env := setupTestServer(t)

	create := map[string]any{"title": "Morning focus", "host": "Ana", "template_id": templates.DefaultTemplateID}

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", "", create)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous create")

	rec = env.do(t, http.MethodPost, "/api/v1/sessions", "not-a-token", create)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unknown token")

	rec = env.do(t, http.MethodPost, "/api/v1/sessions", opsToken, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[store.Session](t, rec)
	assert.Equal(t, "Morning focus", sess.Title)
	assert.Equal(t, store.StatusPlanned, sess.Status)
	assert.Equal(t, store.ServiceUserID, sess.CreatedBy)
	assert.Equal(t, 71, sess.DurationMinutes)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions", opsToken, map[string]any{"title": "", "host": "Ana", "template_id": templates.DefaultTemplateID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(errorOf(t, rec), "validation failed"))

	rec = env.do(t, http.MethodGet, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[SessionsResponse](t, rec).Sessions, 1)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions?status=active", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[SessionsResponse](t, rec).Sessions)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions?status=paused", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", errorOf(t, rec))

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/start", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[store.Session](t, rec)
	require.NotNil(t, started.StartTime)
	assert.Equal(t, store.StatusActive, started.Status)

	at := started.StartTime.Add(14 * time.Minute).Format(time.RFC3339)
	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/progress?at="+url.QueryEscape(at), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[sessions.ProgressView](t, rec)
	assert.Equal(t, 3, view.Progress.Index)
	assert.Equal(t, "Focus Block 1", view.Progress.Stage.Name)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/"+sess.ID+"/progress?at=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.StatusEnded, decode[store.Session](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/start", opsToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	userTok := env.userToken(t, "google:1")
	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, userTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the service user deletes")

	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, opsToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/v1/sessions/"+sess.ID, opsToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsAPI_MethodNotAllowed(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodPut, "/api/v1/sessions", opsToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSessionLifecycle_Ownership(t *testing.T) {
	env := setupTestServer(t)
	ana := env.userToken(t, "google:ana")
	ben := env.userToken(t, "google:ben")

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", ana, map[string]any{"title": "Writing", "host": "Ana", "format": "pomodoro_25_5", "duration_minutes": 60})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[store.Session](t, rec)
	base := "/api/v1/sessions/" + sess.ID

	rec = env.do(t, http.MethodPost, base+"/start", ben, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/start", ana, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, store.StatusActive, decode[store.Session](t, rec).Status)

	rec = env.do(t, http.MethodPost, base+"/end", ben, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/end", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.StatusEnded, decode[store.Session](t, rec).Status)
}

func TestIntentionsAPI(t *testing.T) {
	env := setupTestServer(t)
	ana := env.userToken(t, "google:ana")
	ben := env.userToken(t, "google:ben")

	rec := env.do(t, http.MethodPost, "/api/v1/sessions", ana, map[string]any{"title": "Writing", "host": "Ana", "format": "pomodoro_25_5", "duration_minutes": 60})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[store.Session](t, rec)
	base := "/api/v1/sessions/" + sess.ID + "/intentions"

	rec = env.do(t, http.MethodPost, base, "", IntentionRequest{Text: "Finish chapter 3"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, base, ana, IntentionRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, base, ana, IntentionRequest{Text: "Finish chapter 3"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	in := decode[store.Intention](t, rec)
	assert.Equal(t, "google:ana", in.UserID)
	assert.False(t, in.Completed)

	rec = env.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[IntentionsResponse](t, rec).Intentions, 1)

	rec = env.do(t, http.MethodPatch, "/api/v1/intentions/"+in.ID, ben, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/v1/intentions/"+in.ID, ana, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[store.Intention](t, rec).Completed, "empty body toggles")

	done := true
	rec = env.do(t, http.MethodPatch, "/api/v1/intentions/"+in.ID, ana, ToggleRequest{Completed: &done})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[store.Intention](t, rec).Completed)

	rec = env.do(t, http.MethodDelete, "/api/v1/intentions/"+in.ID, ben, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/intentions/"+in.ID, opsToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code, "service user may delete any intention")

	rec = env.do(t, http.MethodDelete, "/api/v1/intentions/"+in.ID, ana, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/sessions/missing/intentions", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfilesAPI(t *testing.T) {
	env := setupTestServer(t)
	ana := env.userToken(t, "google:ana")

	rec := env.do(t, http.MethodGet, "/api/v1/profiles/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/profiles/me", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, store.ServiceUserID, decode[store.Profile](t, rec).ID)

	rec = env.do(t, http.MethodPut, "/api/v1/profiles/me", ana, sessions.ProfileUpdate{FullName: "Ana Lima", Bio: "Writer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ana Lima", decode[store.Profile](t, rec).FullName)

	rec = env.do(t, http.MethodPut, "/api/v1/profiles/me", ana, sessions.ProfileUpdate{AvatarURL: "javascript:alert(1)"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/profiles/google:ana", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Writer", decode[store.Profile](t, rec).Bio)

	rec = env.do(t, http.MethodGet, "/api/v1/profiles/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthAPI_LoginDisabled(t *testing.T) {
	env := setupTestServer(t)
	rec := env.do(t, http.MethodGet, "/auth/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/auth/callback?code=x&state=y", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func providerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"provider-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"42","email":"ana@example.com","name":"Ana Lima"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthAPI_LoginFlow(t *testing.T) {
	provider := providerServer(t)
	env := setupTestServerWith(t, testOptions{
		authCfg: config.AuthConfig{
			Provider:     auth.ProviderGoogle,
			ClientID:     "client",
			ClientSecret: config.Secret("secret"),
			RedirectURL:  "http://localhost:9090/auth/callback",
			TokenTTL:     config.Duration(time.Hour),
		},
		authOps: []auth.Option{
			auth.WithEndpoint(oauth2.Endpoint{AuthURL: provider.URL + "/auth", TokenURL: provider.URL + "/token"}, provider.URL+"/userinfo"),
			auth.WithHTTPClient(provider.Client()),
		},
	})

	rec := env.do(t, http.MethodGet, "/auth/login", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.Equal(t, state, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	callback := func(query string, cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rec := httptest.NewRecorder()
		env.server.echo.ServeHTTP(rec, req)
		return rec
	}

	rec = callback("code=good-code&state="+state, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing cookie")

	rec = callback("code=good-code&state=forged", cookies[0])
	assert.Equal(t, http.StatusBadRequest, rec.Code, "state mismatch")

	rec = callback("error=access_denied", cookies[0])
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = callback("code=good-code&state="+state, cookies[0])
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	login := decode[LoginResponse](t, rec)
	require.NotEmpty(t, login.Token)
	assert.Equal(t, "google:42", login.Profile.ID)

	rec = env.do(t, http.MethodGet, "/api/v1/profiles/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ana Lima", decode[store.Profile](t, rec).FullName)

	rec = env.do(t, http.MethodPost, "/auth/logout", login.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/profiles/me", login.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventsAPI(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/missing/events", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/sessions", opsToken, map[string]any{"title": "Live", "host": "Ana", "template_id": templates.DefaultTemplateID})
	require.Equal(t, http.StatusCreated, rec.Code)
	sess := decode[store.Session](t, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sessions/"+sess.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/start", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	next := func() string {
		select {
		case name, ok := <-events:
			require.True(t, ok, "stream closed early")
			return name
		case <-ctx.Done():
			t.Fatal("no event received")
			return ""
		}
	}
	assert.Equal(t, "lifecycle.started", next())

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/intentions", opsToken, IntentionRequest{Text: "Ship it"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "intentions.insert", next())

	rec = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/end", opsToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lifecycle.ended", next())

	select {
	case _, ok := <-events:
		assert.False(t, ok, "stream closes after the session ends")
	case <-ctx.Done():
		t.Fatal("stream stayed open")
	}
}
