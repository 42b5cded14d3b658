package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/focusroom/focusd/internal/config"
)

const (
	defaultBaseURL = "https://api.daily.co/v1"
	maxErrorBody   = 4 * 1024
	baseBackoff    = 250 * time.Millisecond
)

// Room is a Daily video room.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Privacy   string    `json:"privacy"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomRequest describes a room to create. Zero values fall back to the
// client's configuration.
type RoomRequest struct {
	Name        string
	Privacy     string
	Recording   string
	Expires     time.Time
	Screenshare *bool
	Chat        *bool
}

type roomProperties struct {
	EnableScreenshare bool   `json:"enable_screenshare"`
	EnableChat        bool   `json:"enable_chat"`
	EnableRecording   string `json:"enable_recording,omitempty"`
	Exp               int64  `json:"exp"`
}

type createRoomBody struct {
	Name       string         `json:"name"`
	Privacy    string         `json:"privacy"`
	Properties roomProperties `json:"properties"`
}

// Client calls the Daily REST API.
type Client struct {
	apiKey     config.Secret
	baseURL    string
	ttl        time.Duration
	privacy    string
	recording  string
	maxRetries int
	backoff    time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides the wall clock used for room names and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithBackoff sets the base retry delay.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// New creates a Client from the daily config section.
func New(cfg config.DailyConfig, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		ttl:        cfg.RoomTTL.Duration(),
		privacy:    cfg.Privacy,
		recording:  cfg.Recording,
		maxRetries: cfg.MaxRetries,
		backoff:    baseBackoff,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = 24 * time.Hour
	}
	if c.privacy == "" {
		c.privacy = "public"
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey.IsSet()
}

// CreateRoom creates a room. Screen share and chat default to enabled.
func (c *Client) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	const op = "create_room"
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	start := time.Now()
	defer func() { RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	now := c.now()
	body := createRoomBody{
		Name:    req.Name,
		Privacy: req.Privacy,
		Properties: roomProperties{
			EnableScreenshare: boolOr(req.Screenshare, true),
			EnableChat:        boolOr(req.Chat, true),
			EnableRecording:   req.Recording,
		},
	}
	if body.Name == "" {
		body.Name = fmt.Sprintf("session-%d", now.UnixMilli())
	}
	if body.Privacy == "" {
		body.Privacy = c.privacy
	}
	if body.Properties.EnableRecording == "" {
		body.Properties.EnableRecording = c.recording
	}
	exp := req.Expires
	if exp.IsZero() {
		exp = now.Add(c.ttl)
	}
	body.Properties.Exp = exp.Unix()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal room request: %w", err)
	}

	respBody, err := c.do(ctx, op, http.MethodPost, "/rooms", payload)
	recordOutcome(op, err)
	if err != nil {
		return nil, err
	}

	var room Room
	if err := json.Unmarshal(respBody, &room); err != nil {
		return nil, fmt.Errorf("decode room response: %w", err)
	}
	if room.URL == "" {
		return nil, fmt.Errorf("daily: room response missing url")
	}
	return &room, nil
}

// DeleteRoom deletes a room by name. A room that no longer exists is not an
// error.
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	const op = "delete_room"
	if !c.Configured() {
		return ErrNotConfigured
	}
	if name == "" {
		return fmt.Errorf("daily: room name is required")
	}
	start := time.Now()
	defer func() { RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds()) }()

	_, err := c.do(ctx, op, http.MethodDelete, "/rooms/"+url.PathEscape(name), nil)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		err = nil
	}
	recordOutcome(op, err)
	return err
}

// do sends one request with rate limiting and bounded retries.
func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			RequestsTotal.WithLabelValues(op, "retry").Inc()
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	if c.maxRetries == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &retryableError{fmt.Errorf("daily request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &retryableError{fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}
	return body, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
