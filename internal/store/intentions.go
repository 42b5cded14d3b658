package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const intentionSelect = `SELECT i.id, i.session_id, i.user_id, i.text, i.completed, i.created_at, i.updated_at,
       p.full_name, p.avatar_url
FROM intentions i
LEFT JOIN profiles p ON p.id = i.user_id`

// AddIntention stores a new intention and returns it joined with the
// author's profile.
func (s *Store) AddIntention(ctx context.Context, sessionID, userID, text string) (*Intention, error) {
	id := uuid.NewString()
	now := s.timestamp()
	_, err := s.exec(ctx,
		`INSERT INTO intentions (id, session_id, user_id, text, completed, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, sessionID, userID, text, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert intention: %w", err)
	}
	return s.GetIntention(ctx, id)
}

// GetIntention fetches one intention with its author's name and avatar.
func (s *Store) GetIntention(ctx context.Context, id string) (*Intention, error) {
	row := s.db.QueryRowContext(ctx, intentionSelect+` WHERE i.id = ?`, id)
	in, err := scanIntention(row)
	if err != nil {
		return nil, fmt.Errorf("get intention %s: %w", id, notFound(err))
	}
	return in, nil
}

// ListIntentions returns a session's intentions, newest first.
func (s *Store) ListIntentions(ctx context.Context, sessionID string) ([]*Intention, error) {
	rows, err := s.db.QueryContext(ctx,
		intentionSelect+` WHERE i.session_id = ? ORDER BY i.created_at DESC, i.id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list intentions: %w", err)
	}
	defer rows.Close()

	var out []*Intention
	for rows.Next() {
		in, err := scanIntention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intention: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// SetIntentionCompleted updates the completed flag.
func (s *Store) SetIntentionCompleted(ctx context.Context, id string, completed bool) (*Intention, error) {
	if err := s.execOne(ctx,
		`UPDATE intentions SET completed = ?, updated_at = ? WHERE id = ?`,
		boolToInt(completed), s.timestamp(), id,
	); err != nil {
		return nil, fmt.Errorf("update intention %s: %w", id, err)
	}
	return s.GetIntention(ctx, id)
}

// DeleteIntention removes an intention.
func (s *Store) DeleteIntention(ctx context.Context, id string) error {
	if err := s.execOne(ctx, `DELETE FROM intentions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete intention %s: %w", id, err)
	}
	return nil
}

func scanIntention(row scanner) (*Intention, error) {
	var (
		in        Intention
		completed int
		createdAt string
		updatedAt string
		fullName  sql.NullString
		avatarURL sql.NullString
	)
	if err := row.Scan(
		&in.ID, &in.SessionID, &in.UserID, &in.Text, &completed, &createdAt, &updatedAt,
		&fullName, &avatarURL,
	); err != nil {
		return nil, err
	}
	in.Completed = completed != 0
	if t, err := parseTime(createdAt); err == nil {
		in.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		in.UpdatedAt = t
	}
	in.AuthorName = fullName.String
	if in.AuthorName == "" {
		in.AuthorName = "User"
	}
	in.AuthorAvatar = avatarFor(avatarURL.String, in.AuthorName)
	return &in, nil
}
