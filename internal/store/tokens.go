package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrTokenExpired indicates a token past its expiry.
var ErrTokenExpired = errors.New("token expired")

// HashToken returns the stored form of a raw bearer token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateToken stores the hash of raw for userID, valid for ttl.
func (s *Store) CreateToken(ctx context.Context, raw, userID string, ttl time.Duration) (*Token, error) {
	if raw == "" || userID == "" {
		return nil, errors.New("token and user id are required")
	}
	now := s.now().UTC()
	tok := &Token{UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	_, err := s.exec(ctx,
		`INSERT INTO auth_tokens (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		HashToken(raw), userID, formatTime(tok.CreatedAt), formatTime(tok.ExpiresAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}
	return tok, nil
}

// LookupToken resolves a raw token. Expired tokens are deleted and
// reported as ErrTokenExpired.
func (s *Store) LookupToken(ctx context.Context, raw string) (*Token, error) {
	hash := HashToken(raw)
	var (
		tok       Token
		createdAt string
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, expires_at FROM auth_tokens WHERE token_hash = ?`, hash,
	).Scan(&tok.UserID, &createdAt, &expiresAt)
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", notFound(err))
	}
	if tok.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse token created_at: %w", err)
	}
	if tok.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse token expires_at: %w", err)
	}

	if !s.now().Before(tok.ExpiresAt) {
		_, _ = s.exec(ctx, `DELETE FROM auth_tokens WHERE token_hash = ?`, hash)
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

// DeleteToken revokes a raw token.
func (s *Store) DeleteToken(ctx context.Context, raw string) error {
	if err := s.execOne(ctx, `DELETE FROM auth_tokens WHERE token_hash = ?`, HashToken(raw)); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// PurgeExpiredTokens deletes every expired token and returns how many.
func (s *Store) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, s.timestamp())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}
