// Package auth signs users in with an OAuth2 provider and resolves bearer
// tokens to user ids.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/store"
)

const (
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"

	googleUserInfoURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)"
)

var (
	// ErrUnauthenticated indicates a missing, unknown or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrLoginDisabled indicates no OAuth client is configured.
	ErrLoginDisabled = errors.New("login is not configured")

	// ErrUserInfo indicates the provider returned an unusable identity.
	ErrUserInfo = errors.New("provider user info unavailable")
)

// TokenStore persists issued tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, raw, userID string, ttl time.Duration) (*store.Token, error)
	LookupToken(ctx context.Context, raw string) (*store.Token, error)
	DeleteToken(ctx context.Context, raw string) error
	UpsertProfile(ctx context.Context, p store.Profile) (*store.Profile, error)
}

// Identity is the provider's view of a signed-in user.
type Identity struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
}

// UserID namespaces the subject by provider, e.g. "google:1234".
func (i Identity) UserID(provider string) string {
	return provider + ":" + i.Subject
}

// Authenticator issues and resolves bearer tokens.
type Authenticator struct {
	provider    string
	oauth       *oauth2.Config
	userInfoURL string
	tokens      TokenStore
	apiToken    config.Secret
	ttl         time.Duration
	httpClient  *http.Client
	logger      *logging.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithEndpoint overrides the provider's OAuth and userinfo endpoints.
func WithEndpoint(ep oauth2.Endpoint, userInfoURL string) Option {
	return func(a *Authenticator) {
		if a.oauth != nil {
			a.oauth.Endpoint = ep
		}
		a.userInfoURL = userInfoURL
	}
}

// WithHTTPClient sets the client used for the token exchange and userinfo.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Authenticator) {
		if hc != nil {
			a.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an Authenticator. Login is disabled when cfg.ClientID is
// empty; the static API token still works.
func New(cfg config.AuthConfig, apiToken config.Secret, tokens TokenStore, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		provider:   cfg.Provider,
		tokens:     tokens,
		apiToken:   apiToken,
		ttl:        cfg.TokenTTL.Duration(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logging.NewNop(),
	}
	if a.provider == "" {
		a.provider = ProviderGoogle
	}
	if a.ttl <= 0 {
		a.ttl = 30 * 24 * time.Hour
	}

	if cfg.ClientID != "" {
		var ep oauth2.Endpoint
		switch a.provider {
		case ProviderGoogle:
			ep, a.userInfoURL = endpoints.Google, googleUserInfoURL
		case ProviderFacebook:
			ep, a.userInfoURL = endpoints.Facebook, facebookUserInfoURL
		default:
			return nil, fmt.Errorf("unknown auth provider %q", a.provider)
		}
		a.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret.Value(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     ep,
		}
	}

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// LoginEnabled reports whether OAuth login is configured.
func (a *Authenticator) LoginEnabled() bool { return a.oauth != nil }

// Provider returns the configured provider name.
func (a *Authenticator) Provider() string { return a.provider }

// LoginURL returns the provider consent URL carrying state.
func (a *Authenticator) LoginURL(state string) (string, error) {
	if a.oauth == nil {
		return "", ErrLoginDisabled
	}
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Login exchanges an authorization code, upserts the user's profile and
// issues a bearer token.
func (a *Authenticator) Login(ctx context.Context, code string) (string, *store.Profile, error) {
	if a.oauth == nil {
		return "", nil, ErrLoginDisabled
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("exchange code: %w", err)
	}
	id, err := a.fetchIdentity(ctx, tok)
	if err != nil {
		return "", nil, err
	}

	profile, err := a.tokens.UpsertProfile(ctx, store.Profile{
		ID:        id.UserID(a.provider),
		Email:     id.Email,
		FullName:  id.Name,
		AvatarURL: id.AvatarURL,
		Provider:  a.provider,
	})
	if err != nil {
		return "", nil, fmt.Errorf("save profile: %w", err)
	}

	raw, err := NewToken()
	if err != nil {
		return "", nil, err
	}
	if _, err := a.tokens.CreateToken(ctx, raw, profile.ID, a.ttl); err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	LoginsTotal.WithLabelValues(a.provider).Inc()
	a.logger.Info(logging.WithUserID(ctx, profile.ID), "user signed in", zap.String("provider", a.provider))
	return raw, profile, nil
}

func (a *Authenticator) fetchIdentity(ctx context.Context, tok *oauth2.Token) (*Identity, error) {
	resp, err := a.oauth.Client(ctx, tok).Get(a.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUserInfo, resp.StatusCode)
	}
	return parseIdentity(a.provider, body)
}

type googleUser struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type facebookUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func parseIdentity(provider string, body []byte) (*Identity, error) {
	var id Identity
	switch provider {
	case ProviderFacebook:
		var u facebookUser
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
		}
		id = Identity{Subject: u.ID, Email: u.Email, Name: u.Name, AvatarURL: u.Picture.Data.URL}
	default:
		var u googleUser
		if err := json.Unmarshal(body, &u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUserInfo, err)
		}
		id = Identity{Subject: u.Sub, Email: u.Email, Name: u.Name, AvatarURL: u.Picture}
	}
	if id.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUserInfo)
	}
	return &id, nil
}

// Resolve maps a raw bearer token to a user id.
func (a *Authenticator) Resolve(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrUnauthenticated
	}
	if a.apiToken.IsSet() && subtle.ConstantTimeCompare([]byte(raw), []byte(a.apiToken.Value())) == 1 {
		return store.ServiceUserID, nil
	}
	if a.tokens == nil {
		return "", ErrUnauthenticated
	}
	tok, err := a.tokens.LookupToken(ctx, raw)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrTokenExpired) {
			return "", ErrUnauthenticated
		}
		return "", err
	}
	return tok.UserID, nil
}

// Logout revokes a token. Unknown tokens are ignored.
func (a *Authenticator) Logout(ctx context.Context, raw string) error {
	if a.tokens == nil || raw == "" {
		return nil
	}
	if err := a.tokens.DeleteToken(ctx, raw); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// NewToken returns 32 random bytes, base64url encoded.
func NewToken() (string, error) {
	return randomString(32)
}

// NewState returns a random OAuth state value.
func NewState() (string, error) {
	return randomString(16)
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random value: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
