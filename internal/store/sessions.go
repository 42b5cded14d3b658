package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const sessionColumns = "id, title, host, format, template_id, schedule_json, duration_minutes, daily_room_name, daily_room_url, status, scheduled_at, start_time, ended_at, created_at, created_by"

// CreateSession inserts s. An empty ID is assigned, CreatedAt is set and
// DurationMinutes is derived from the schedule.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session is nil")
	}
	if err := sess.Schedule.Validate(); err != nil {
		return fmt.Errorf("session schedule: %w", err)
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = StatusPlanned
	}
	sess.CreatedAt = s.now().UTC()
	if sess.ScheduledAt.IsZero() {
		sess.ScheduledAt = sess.CreatedAt
	}
	sess.DurationMinutes = sess.Schedule.TotalMinutes()

	schedule, err := json.Marshal(sess.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID,
		sess.Title,
		sess.Host,
		sess.Format,
		nullableString(sess.TemplateID),
		string(schedule),
		sess.DurationMinutes,
		nullableString(sess.DailyRoomName),
		nullableString(sess.DailyRoomURL),
		sess.Status,
		formatTime(sess.ScheduledAt),
		nullableTime(sess.StartTime),
		nullableTime(sess.EndedAt),
		formatTime(sess.CreatedAt),
		sess.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, notFound(err))
	}
	return sess, nil
}

// ListSessions returns sessions ordered by scheduled time. An empty status
// lists every session.
func (s *Store) ListSessions(ctx context.Context, status Status) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_at ASC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ListActiveSessions returns every session currently marked active.
func (s *Store) ListActiveSessions(ctx context.Context) ([]*Session, error) {
	return s.ListSessions(ctx, StatusActive)
}

// StartSession marks a session active. The start time is set only on the
// first call; later calls keep it.
func (s *Store) StartSession(ctx context.Context, id string) (*Session, error) {
	err := s.execOne(ctx,
		`UPDATE sessions
         SET status = ?, start_time = COALESCE(start_time, ?)
         WHERE id = ? AND status != ?`,
		StatusActive, s.timestamp(), id, StatusEnded,
	)
	if errors.Is(err, ErrNotFound) {
		// Either missing or already ended; GetSession tells which.
		sess, getErr := s.GetSession(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return sess, ErrSessionEnded
	}
	if err != nil {
		return nil, fmt.Errorf("start session %s: %w", id, err)
	}
	return s.GetSession(ctx, id)
}

// EndSession marks a session ended and records the end time once.
func (s *Store) EndSession(ctx context.Context, id string) (*Session, error) {
	if err := s.execOne(ctx,
		`UPDATE sessions SET status = ?, ended_at = COALESCE(ended_at, ?) WHERE id = ?`,
		StatusEnded, s.timestamp(), id,
	); err != nil {
		return nil, fmt.Errorf("end session %s: %w", id, err)
	}
	return s.GetSession(ctx, id)
}

// UpdateSessionStatus sets the status without touching timestamps.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	if err := s.execOne(ctx, `UPDATE sessions SET status = ? WHERE id = ?`, status, id); err != nil {
		return fmt.Errorf("update session %s status: %w", id, err)
	}
	return nil
}

// SetSessionRoom records the Daily room for a session.
func (s *Store) SetSessionRoom(ctx context.Context, id, name, roomURL string) error {
	if err := s.execOne(ctx,
		`UPDATE sessions SET daily_room_name = ?, daily_room_url = ? WHERE id = ?`,
		nullableString(name), nullableString(roomURL), id,
	); err != nil {
		return fmt.Errorf("set session %s room: %w", id, err)
	}
	return nil
}

// DeleteSession removes a session and its intentions.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.execOne(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess        Session
		templateID  sql.NullString
		schedule    string
		roomName    sql.NullString
		roomURL     sql.NullString
		status      string
		scheduledAt string
		startTime   sql.NullString
		endedAt     sql.NullString
		createdAt   string
	)
	if err := row.Scan(
		&sess.ID,
		&sess.Title,
		&sess.Host,
		&sess.Format,
		&templateID,
		&schedule,
		&sess.DurationMinutes,
		&roomName,
		&roomURL,
		&status,
		&scheduledAt,
		&startTime,
		&endedAt,
		&createdAt,
		&sess.CreatedBy,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(schedule), &sess.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule for %s: %w", sess.ID, err)
	}
	sess.TemplateID = templateID.String
	sess.DailyRoomName = roomName.String
	sess.DailyRoomURL = roomURL.String
	sess.Status = Status(status)
	sess.StartTime = parseNullTime(startTime)
	sess.EndedAt = parseNullTime(endedAt)

	var err error
	if sess.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return nil, fmt.Errorf("parse scheduled_at for %s: %w", sess.ID, err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", sess.ID, err)
	}
	return &sess, nil
}

