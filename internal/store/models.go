package store

import (
	"fmt"
	"net/url"
	"time"

	"github.com/focusroom/focusd/internal/stageclock"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPlanned Status = "planned"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// ParseStatus validates a status filter value.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPlanned, StatusActive, StatusEnded:
		return st, nil
	}
	return "", fmt.Errorf("unknown session status %q", s)
}

// ServiceUserID is the identity of operator tools authenticated by the
// static API token. It may act on any intention.
const ServiceUserID = "admin"

// Session is a scheduled or running focus session.
type Session struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Host            string              `json:"host"`
	Format          string              `json:"format"`
	TemplateID      string              `json:"template_id,omitempty"`
	Schedule        stageclock.Schedule `json:"schedule"`
	DurationMinutes int                 `json:"duration_minutes"`
	DailyRoomName   string              `json:"daily_room_name,omitempty"`
	DailyRoomURL    string              `json:"daily_room_url,omitempty"`
	Status          Status              `json:"status"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	StartTime       *time.Time          `json:"start_time"`
	EndedAt         *time.Time          `json:"ended_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	CreatedBy       string              `json:"created_by"`
}

// Reference returns the instant the stage clock counts from: the actual
// start time when set, otherwise the scheduled time.
func (s *Session) Reference() time.Time {
	if s.StartTime != nil {
		return *s.StartTime
	}
	return s.ScheduledAt
}

// Intention is a participant's stated goal for a session, joined with the
// author's profile.
type Intention struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Text         string    `json:"text"`
	Completed    bool      `json:"completed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AuthorName   string    `json:"author_name"`
	AuthorAvatar string    `json:"author_avatar"`
}

// Profile is a user's public identity.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AvatarOrDefault returns the avatar url, falling back to a generated
// initials image.
func (p Profile) AvatarOrDefault() string {
	return avatarFor(p.AvatarURL, p.FullName)
}

func avatarFor(avatar, name string) string {
	if avatar != "" {
		return avatar
	}
	if name == "" {
		name = "User"
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name)
}

// Token is an issued bearer token. Only its hash is stored.
type Token struct {
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
