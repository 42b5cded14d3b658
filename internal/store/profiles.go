package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertProfile inserts or updates a profile. Empty fields on update keep
// the stored value, so a login never wipes a bio.
func (s *Store) UpsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	if p.ID == "" {
		return nil, errors.New("profile id is required")
	}
	now := s.timestamp()
	_, err := s.exec(ctx,
		`INSERT INTO profiles (id, email, full_name, avatar_url, bio, provider, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             email = COALESCE(excluded.email, profiles.email),
             full_name = COALESCE(excluded.full_name, profiles.full_name),
             avatar_url = COALESCE(excluded.avatar_url, profiles.avatar_url),
             bio = COALESCE(excluded.bio, profiles.bio),
             provider = COALESCE(excluded.provider, profiles.provider),
             updated_at = excluded.updated_at`,
		p.ID,
		nullableString(p.Email),
		nullableString(p.FullName),
		nullableString(p.AvatarURL),
		nullableString(p.Bio),
		nullableString(p.Provider),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return s.GetProfile(ctx, p.ID)
}

// GetProfile fetches a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var (
		p         Profile
		email     sql.NullString
		fullName  sql.NullString
		avatarURL sql.NullString
		bio       sql.NullString
		provider  sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, avatar_url, bio, provider, created_at, updated_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &email, &fullName, &avatarURL, &bio, &provider, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, notFound(err))
	}

	p.Email = email.String
	p.FullName = fullName.String
	p.AvatarURL = avatarURL.String
	p.Bio = bio.String
	p.Provider = provider.String
	if t, err := parseTime(createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}
