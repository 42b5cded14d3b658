package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/daily"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/sanitize"
	"github.com/focusroom/focusd/internal/stageclock"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/telemetry"
	"github.com/focusroom/focusd/internal/templates"
)

const instrumentationName = "github.com/focusroom/focusd/internal/sessions"

const (
	maxTitleRunes     = 120
	maxHostRunes      = 80
	maxIntentionRunes = 500
)

// Repository is the persistence the service needs.
type Repository interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListSessions(ctx context.Context, status store.Status) ([]*store.Session, error)
	StartSession(ctx context.Context, id string) (*store.Session, error)
	EndSession(ctx context.Context, id string) (*store.Session, error)
	SetSessionRoom(ctx context.Context, id, name, roomURL string) error
	DeleteSession(ctx context.Context, id string) error

	GetTemplate(ctx context.Context, id string) (templates.Template, error)
	ListTemplates(ctx context.Context) ([]templates.Template, error)

	AddIntention(ctx context.Context, sessionID, userID, text string) (*store.Intention, error)
	GetIntention(ctx context.Context, id string) (*store.Intention, error)
	ListIntentions(ctx context.Context, sessionID string) ([]*store.Intention, error)
	SetIntentionCompleted(ctx context.Context, id string, completed bool) (*store.Intention, error)
	DeleteIntention(ctx context.Context, id string) error

	UpsertProfile(ctx context.Context, p store.Profile) (*store.Profile, error)
	GetProfile(ctx context.Context, id string) (*store.Profile, error)
}

// RoomProvider creates and deletes video rooms.
type RoomProvider interface {
	Configured() bool
	CreateRoom(ctx context.Context, req daily.RoomRequest) (*daily.Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// Publisher broadcasts session changes.
type Publisher interface {
	PublishIntention(ctx context.Context, sessionID, action string, payload any) error
	PublishLifecycle(ctx context.Context, sessionID, action string, payload any) error
}

// Runner drives stage clocks for active sessions.
type Runner interface {
	Start(sess *store.Session) error
	Stop(id string) bool
}

// TextScrubber redacts shared text.
type TextScrubber interface {
	String(text string) string
}

// CreateRequest describes a new session. Either TemplateID or Format with
// DurationMinutes selects the schedule.
type CreateRequest struct {
	Title           string     `json:"title"`
	Host            string     `json:"host"`
	TemplateID      string     `json:"template_id,omitempty"`
	Format          string     `json:"format,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CreatedBy       string     `json:"-"`
}

// ProgressView is a session's stage clock reading.
type ProgressView struct {
	SessionID string              `json:"session_id"`
	Status    store.Status        `json:"status"`
	StartTime time.Time           `json:"start_time"`
	Schedule  stageclock.Schedule `json:"schedule"`
	Progress  stageclock.Progress `json:"progress"`
}

// Service implements session operations.
type Service struct {
	repo   Repository
	rooms  RoomProvider
	pub    Publisher
	runner Runner
	scrub  TextScrubber
	logger *logging.Logger
	now    func() time.Time

	tracer          trace.Tracer
	createdCounter  metric.Int64Counter
	intentionsCount metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithRooms sets the video room provider.
func WithRooms(r RoomProvider) Option { return func(s *Service) { s.rooms = r } }

// WithPublisher sets the realtime publisher.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithRunner sets the stage clock runner.
func WithRunner(r Runner) Option { return func(s *Service) { s.runner = r } }

// WithScrubber sets the shared-text scrubber.
func WithScrubber(sc TextScrubber) Option { return func(s *Service) { s.scrub = sc } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTelemetry sets the tracer and meter source.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Service) { s.initTelemetry(t) }
}

// New creates a Service over repo.
func New(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	s.initTelemetry(nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) initTelemetry(t *telemetry.Telemetry) {
	s.tracer = t.Tracer(instrumentationName)
	meter := t.Meter(instrumentationName)

	var err error
	s.createdCounter, err = meter.Int64Counter(
		"focusd.sessions.created_total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil && s.logger != nil {
		s.logger.Warn(context.Background(), "failed to create sessions counter", zap.Error(err))
	}
	s.intentionsCount, err = meter.Int64Counter(
		"focusd.intentions.posted_total",
		metric.WithDescription("Total number of intentions posted"),
		metric.WithUnit("{intention}"),
	)
	if err != nil && s.logger != nil {
		s.logger.Warn(context.Background(), "failed to create intentions counter", zap.Error(err))
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ListTemplates returns the stored templates.
func (s *Service) ListTemplates(ctx context.Context) ([]templates.Template, error) {
	return s.repo.ListTemplates(ctx)
}

// Create validates req, opens a video room when a provider is configured,
// and stores a planned session.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Session, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.create")
	defer span.End()

	sess, err := s.buildSession(ctx, req)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("format", sess.Format), attribute.Int("duration_minutes", sess.Schedule.TotalMinutes()))

	var room *daily.Room
	if s.rooms != nil && s.rooms.Configured() {
		room, err = s.rooms.CreateRoom(ctx, daily.RoomRequest{})
		if err != nil {
			return nil, fail(span, fmt.Errorf("%w: %w", ErrRoomUnavailable, err))
		}
		sess.DailyRoomName = room.Name
		sess.DailyRoomURL = room.URL
	}

	if err := s.repo.CreateSession(ctx, sess); err != nil {
		if room != nil {
			s.deleteRoom(ctx, room.Name)
		}
		if errors.Is(err, stageclock.ErrEmptySchedule) || errors.Is(err, stageclock.ErrInvalidDuration) || errors.Is(err, stageclock.ErrInvalidKind) {
			err = invalid(err)
		}
		return nil, fail(span, fmt.Errorf("create session: %w", err))
	}

	if s.createdCounter != nil {
		s.createdCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("format", sess.Format)))
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))
	s.logger.Info(logging.WithSessionID(ctx, sess.ID), "session created",
		zap.String("format", sess.Format),
		zap.Int("duration_minutes", sess.DurationMinutes),
		zap.Bool("room", sess.DailyRoomURL != ""),
	)
	return sess, nil
}

func (s *Service) buildSession(ctx context.Context, req CreateRequest) (*store.Session, error) {
	title, err := sanitize.Line(req.Title, maxTitleRunes)
	if err != nil {
		return nil, invalid(sanitize.Field("title", err))
	}
	host, err := sanitize.Line(req.Host, maxHostRunes)
	if err != nil {
		return nil, invalid(sanitize.Field("host", err))
	}

	sess := &store.Session{Title: title, Host: host, CreatedBy: req.CreatedBy}
	if req.ScheduledAt != nil {
		sess.ScheduledAt = req.ScheduledAt.UTC()
	}

	switch {
	case req.TemplateID != "":
		if err := sanitize.ValidateID(req.TemplateID); err != nil {
			return nil, invalid(sanitize.Field("template_id", err))
		}
		tpl, err := s.repo.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, invalid(fmt.Errorf("template %q not found", req.TemplateID))
			}
			return nil, err
		}
		sess.TemplateID = tpl.ID
		sess.Format = string(templates.FormatTemplate)
		sess.Schedule = tpl.Blocks.Clone()

	case req.Format != "":
		format, err := templates.ParseFormat(req.Format)
		if err != nil {
			return nil, invalid(err)
		}
		schedule, err := templates.Generate(format, req.DurationMinutes)
		if err != nil {
			return nil, invalid(err)
		}
		sess.Format = string(format)
		sess.Schedule = schedule

	default:
		return nil, invalid(errors.New("template_id or format is required"))
	}
	return sess, nil
}

// List returns sessions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]*store.Session, error) {
	var st store.Status
	if status != "" {
		parsed, err := store.ParseStatus(status)
		if err != nil {
			return nil, invalid(err)
		}
		st = parsed
	}
	return s.repo.ListSessions(ctx, st)
}

// Get returns one session.
func (s *Service) Get(ctx context.Context, id string) (*store.Session, error) {
	if err := sanitize.ValidateID(id); err != nil {
		return nil, invalid(err)
	}
	return s.repo.GetSession(ctx, id)
}

// Start marks a session active and runs its stage clock. An active session
// keeps its original start time. Only the creator or the service user may
// start a session.
func (s *Service) Start(ctx context.Context, id, userID string) (*store.Session, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.start", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	if err := s.authorize(ctx, id, userID); err != nil {
		return nil, fail(span, err)
	}
	sess, err := s.repo.StartSession(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}

	ctx = logging.WithSessionID(ctx, id)
	if s.runner != nil {
		if err := s.runner.Start(sess); err != nil {
			s.logger.Error(ctx, "start stage clock failed", zap.Error(err))
		}
	}
	s.publishLifecycle(ctx, id, realtime.ActionStarted, sess)
	s.logger.Info(ctx, "session started", zap.Time("start_time", sess.Reference()))
	return sess, nil
}

// End marks a session ended, stops its clock and deletes its video room.
// Room deletion failures are logged, not returned. Only the creator or the
// service user may end a session.
func (s *Service) End(ctx context.Context, id, userID string) (*store.Session, error) {
	ctx, span := s.tracer.Start(ctx, "sessions.end", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	if err := s.authorize(ctx, id, userID); err != nil {
		return nil, fail(span, err)
	}
	sess, err := s.repo.EndSession(ctx, id)
	if err != nil {
		return nil, fail(span, err)
	}
	return s.ended(ctx, id, sess), nil
}

// Finish ends a session whose clock ran out. It matches runner.FinishFunc.
func (s *Service) Finish(ctx context.Context, id string) error {
	sess, err := s.repo.EndSession(ctx, id)
	if err != nil {
		return err
	}
	s.ended(ctx, id, sess)
	return nil
}

// authorize checks that userID created the session or is the service user.
func (s *Service) authorize(ctx context.Context, id, userID string) error {
	if err := sanitize.ValidateID(id); err != nil {
		return invalid(err)
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if userID == "" || (sess.CreatedBy != userID && userID != store.ServiceUserID) {
		return fmt.Errorf("session %s: %w", id, ErrForbidden)
	}
	return nil
}

func (s *Service) ended(ctx context.Context, id string, sess *store.Session) *store.Session {
	ctx = logging.WithSessionID(ctx, id)
	if s.runner != nil {
		s.runner.Stop(id)
	}
	if sess.DailyRoomName != "" {
		s.deleteRoom(ctx, sess.DailyRoomName)
	}
	s.publishLifecycle(ctx, id, realtime.ActionEnded, sess)
	s.logger.Info(ctx, "session ended")
	return sess
}

// Delete removes a session with its intentions and room.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.runner != nil {
		s.runner.Stop(id)
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	if sess.DailyRoomName != "" && sess.Status != store.StatusEnded {
		s.deleteRoom(ctx, sess.DailyRoomName)
	}
	return nil
}

// Progress reads a session's stage clock at now. Ended sessions report the
// finished reading.
func (s *Service) Progress(ctx context.Context, id string, now time.Time) (*ProgressView, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	clock, err := stageclock.New(sess.Reference(), sess.Schedule)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	if sess.Status == store.StatusEnded {
		now = clock.EndsAt()
	}
	return &ProgressView{
		SessionID: sess.ID,
		Status:    sess.Status,
		StartTime: clock.Start(),
		Schedule:  clock.Schedule(),
		Progress:  clock.At(now),
	}, nil
}

func (s *Service) deleteRoom(ctx context.Context, name string) {
	if s.rooms == nil || !s.rooms.Configured() {
		return
	}
	if err := s.rooms.DeleteRoom(ctx, name); err != nil {
		s.logger.Warn(ctx, "delete video room failed", zap.String("room", name), zap.Error(err))
	}
}

func (s *Service) publishLifecycle(ctx context.Context, id, action string, sess *store.Session) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishLifecycle(ctx, id, action, sess); err != nil {
		s.logger.Warn(ctx, "publish lifecycle event failed", zap.String("action", action), zap.Error(err))
	}
}
