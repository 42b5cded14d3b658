package sessions

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/sanitize"
	"github.com/focusroom/focusd/internal/store"
)

// IntentionEvent is the payload of intentions.* events.
type IntentionEvent struct {
	SessionID string           `json:"session_id"`
	Intention *store.Intention `json:"intention"`
}

// AddIntention posts text to a session on behalf of userID. The text is
// trimmed, length checked and scrubbed before it is stored.
func (s *Service) AddIntention(ctx context.Context, sessionID, userID, text string) (*store.Intention, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.add_intention")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	if userID == "" {
		return nil, fail(span, ErrForbidden)
	}
	clean, err := sanitize.Text(text, maxIntentionRunes)
	if err != nil {
		return nil, fail(span, invalid(sanitize.Field("text", err)))
	}
	if s.scrub != nil {
		clean = s.scrub.String(clean)
	}

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, fail(span, err)
	}
	if sess.Status == store.StatusEnded {
		return nil, fail(span, ErrSessionEnded)
	}

	in, err := s.repo.AddIntention(ctx, sessionID, userID, clean)
	if err != nil {
		return nil, fail(span, err)
	}
	if s.intentionsCount != nil {
		s.intentionsCount.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(sess.Status))))
	}

	ctx = logging.WithUserID(logging.WithSessionID(ctx, sessionID), userID)
	s.publishIntention(ctx, realtime.ActionInsert, in)
	s.logger.Debug(ctx, "intention added", zap.String("intention_id", in.ID))
	return in, nil
}

// ListIntentions returns a session's intentions, newest first.
func (s *Service) ListIntentions(ctx context.Context, sessionID string) ([]*store.Intention, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListIntentions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*store.Intention{}
	}
	return list, nil
}

// ToggleIntention sets the completed flag, or flips it when completed is
// nil. Only the author or the service user may change an intention.
func (s *Service) ToggleIntention(ctx context.Context, id, userID string, completed *bool) (*store.Intention, error) {
	in, err := s.ownedIntention(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	want := !in.Completed
	if completed != nil {
		want = *completed
	}

	updated, err := s.repo.SetIntentionCompleted(ctx, id, want)
	if err != nil {
		return nil, err
	}
	s.publishIntention(logging.WithUserID(ctx, userID), realtime.ActionUpdate, updated)
	return updated, nil
}

// DeleteIntention removes an intention. Only the author or the service
// user may delete it.
func (s *Service) DeleteIntention(ctx context.Context, id, userID string) error {
	in, err := s.ownedIntention(ctx, id, userID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteIntention(ctx, id); err != nil {
		return err
	}
	s.publishIntention(logging.WithUserID(ctx, userID), realtime.ActionDelete, in)
	return nil
}

func (s *Service) ownedIntention(ctx context.Context, id, userID string) (*store.Intention, error) {
	if err := sanitize.ValidateID(id); err != nil {
		return nil, invalid(err)
	}
	in, err := s.repo.GetIntention(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID == "" || (in.UserID != userID && userID != store.ServiceUserID) {
		return nil, fmt.Errorf("intention %s: %w", id, ErrForbidden)
	}
	return in, nil
}

func (s *Service) publishIntention(ctx context.Context, action string, in *store.Intention) {
	if s.pub == nil {
		return
	}
	event := IntentionEvent{SessionID: in.SessionID, Intention: in}
	if err := s.pub.PublishIntention(ctx, in.SessionID, action, event); err != nil {
		s.logger.Warn(ctx, "publish intention event failed", zap.String("action", action), zap.Error(err))
	}
}
