package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/daily"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/scrub"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/telemetry"
	"github.com/focusroom/focusd/internal/templates"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeRooms struct {
	mu         sync.Mutex
	configured bool
	createErr  error
	deleteErr  error
	created    int
	deleted    []string
}

func (f *fakeRooms) Configured() bool { return f.configured }

func (f *fakeRooms) CreateRoom(context.Context, daily.RoomRequest) (*daily.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	return &daily.Room{Name: "session-1", URL: "https://focus.daily.co/session-1"}, nil
}

func (f *fakeRooms) DeleteRoom(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

type event struct {
	topic, action, session string
	payload                any
}

type fakeBus struct {
	mu     sync.Mutex
	events []event
}

func (b *fakeBus) PublishIntention(_ context.Context, id, action string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{realtime.TopicIntentions, action, id, payload})
	return nil
}

func (b *fakeBus) PublishLifecycle(_ context.Context, id, action string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{realtime.TopicLifecycle, action, id, payload})
	return nil
}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.topic + "." + e.action
	}
	return out
}

type fakeRunner struct {
	started []string
	stopped []string
}

func (r *fakeRunner) Start(sess *store.Session) error {
	r.started = append(r.started, sess.ID)
	return nil
}

func (r *fakeRunner) Stop(id string) bool {
	r.stopped = append(r.stopped, id)
	return true
}

type fixture struct {
	svc    *Service
	store  *store.Store
	rooms  *fakeRooms
	bus    *fakeBus
	runner *fakeRunner
	tel    *telemetry.TestTelemetry
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rooms:  &fakeRooms{configured: true},
		bus:    &fakeBus{},
		runner: &fakeRunner{},
		tel:    telemetry.NewTestTelemetry(),
		now:    t0,
	}
	clock := func() time.Time { return f.now }

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "focusd.db"), store.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.UpsertTemplates(context.Background(), templates.Builtins()))
	f.store = st

	sc, err := scrub.New(config.ScrubConfig{}, nil)
	require.NoError(t, err)

	f.svc = New(st,
		WithRooms(f.rooms),
		WithPublisher(f.bus),
		WithRunner(f.runner),
		WithScrubber(sc),
		WithClock(clock),
		WithTelemetry(f.tel.Telemetry),
	)
	return f
}

func (f *fixture) create(t *testing.T) *store.Session {
	t.Helper()
	sess, err := f.svc.Create(context.Background(), CreateRequest{
		Title:      "Morning focus",
		Host:       "Ana",
		TemplateID: templates.DefaultTemplateID,
		CreatedBy:  "user-1",
	})
	require.NoError(t, err)
	return sess
}

func TestCreate_FromTemplate(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t)

	assert.Equal(t, "template", sess.Format)
	assert.Equal(t, templates.DefaultTemplateID, sess.TemplateID)
	assert.Equal(t, 71, sess.DurationMinutes)
	assert.Equal(t, "https://focus.daily.co/session-1", sess.DailyRoomURL)
	assert.Equal(t, store.StatusPlanned, sess.Status)
	assert.Equal(t, t0, sess.ScheduledAt)

	f.tel.AssertSpanExists(t, "sessions.create")
	f.tel.AssertSpanAttribute(t, "sessions.create", "session_id", sess.ID)
	m, ok := f.tel.Metric(context.Background(), "focusd.sessions.created_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), telemetry.SumInt64(m, attribute.String("format", "template")))
}

func TestCreate_FromFormat(t *testing.T) {
	f := newFixture(t)
	when := t0.Add(2 * time.Hour)

	sess, err := f.svc.Create(context.Background(), CreateRequest{
		Title:           "  Pomodoro   hour ",
		Host:            "Ben",
		Format:          "pomodoro_25_5",
		DurationMinutes: 60,
		ScheduledAt:     &when,
	})
	require.NoError(t, err)
	assert.Equal(t, "Pomodoro hour", sess.Title)
	assert.Equal(t, "pomodoro_25_5", sess.Format)
	assert.Len(t, sess.Schedule, 4)
	assert.Equal(t, 60, sess.DurationMinutes)
	assert.True(t, when.Equal(sess.ScheduledAt))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing title", CreateRequest{Host: "Ana", TemplateID: templates.DefaultTemplateID}},
		{"missing host", CreateRequest{Title: "x", TemplateID: templates.DefaultTemplateID}},
		{"no schedule source", CreateRequest{Title: "x", Host: "Ana"}},
		{"unknown template", CreateRequest{Title: "x", Host: "Ana", TemplateID: "nope"}},
		{"unknown format", CreateRequest{Title: "x", Host: "Ana", Format: "marathon", DurationMinutes: 60}},
		{"template format", CreateRequest{Title: "x", Host: "Ana", Format: "template", DurationMinutes: 60}},
		{"too short", CreateRequest{Title: "x", Host: "Ana", Format: "pomodoro_25_5", DurationMinutes: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Zero(t, f.rooms.created, "no room is created for invalid input")
}

func TestCreate_RoomFailure(t *testing.T) {
	f := newFixture(t)
	f.rooms.createErr = &daily.APIError{Status: 500, Body: "boom"}

	_, err := f.svc.Create(context.Background(), CreateRequest{Title: "x", Host: "Ana", TemplateID: templates.DefaultTemplateID})
	assert.ErrorIs(t, err, ErrRoomUnavailable)
	var apiErr *daily.APIError
	assert.ErrorAs(t, err, &apiErr)

	list, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_WithoutRoomProvider(t *testing.T) {
	f := newFixture(t)
	f.rooms.configured = false

	sess := f.create(t)
	assert.Empty(t, sess.DailyRoomURL)
	assert.Zero(t, f.rooms.created)
}

func TestStartEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t)

	f.now = t0.Add(5 * time.Minute)
	started, err := f.svc.Start(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, started.Status)
	assert.Equal(t, []string{sess.ID}, f.runner.started)

	f.now = t0.Add(10 * time.Minute)
	again, err := f.svc.Start(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, again.StartTime.Equal(*started.StartTime))

	ended, err := f.svc.End(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, ended.Status)
	assert.Equal(t, []string{sess.ID}, f.runner.stopped)
	assert.Equal(t, []string{"session-1"}, f.rooms.deleted)

	_, err = f.svc.Start(ctx, sess.ID, "user-1")
	assert.ErrorIs(t, err, ErrSessionEnded)

	assert.Equal(t, []string{"lifecycle.started", "lifecycle.started", "lifecycle.ended"}, f.bus.names())

	_, err = f.svc.Start(ctx, "missing", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.End(ctx, "bad id", "user-1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStartEnd_OnlyCreatorOrService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t)

	_, err := f.svc.Start(ctx, sess.ID, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Start(ctx, sess.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.End(ctx, sess.ID, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, f.runner.started)

	started, err := f.svc.Start(ctx, sess.ID, store.ServiceUserID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, started.Status)

	ended, err := f.svc.End(ctx, sess.ID, store.ServiceUserID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, ended.Status)
}

func TestEnd_RoomDeleteFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.rooms.deleteErr = errors.New("daily down")
	sess := f.create(t)

	_, err := f.svc.End(context.Background(), sess.ID, "user-1")
	assert.NoError(t, err)
}

func TestFinish(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t)
	require.NoError(t, f.svc.Finish(context.Background(), sess.ID))

	got, err := f.svc.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusEnded, got.Status)
}

func TestProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t)

	// Planned: counts from scheduled_at.
	view, err := f.svc.Progress(ctx, sess.ID, t0.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, view.Progress.Index)
	assert.InDelta(t, 0.2, view.Progress.StageProgress, 1e-9)
	assert.Equal(t, "4:00", view.Progress.RemainingText)

	f.now = t0.Add(time.Hour)
	_, err = f.svc.Start(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	view, err = f.svc.Progress(ctx, sess.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, view.Progress.Index, "start time replaces scheduled time")
	assert.True(t, view.StartTime.Equal(t0.Add(time.Hour)))

	_, err = f.svc.End(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	view, err = f.svc.Progress(ctx, sess.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, view.Progress.Finished)
	assert.Equal(t, len(view.Schedule)-1, view.Progress.Index)
	assert.Equal(t, 1.0, view.Progress.StageProgress)
}

func TestList_StatusFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t)
	f.create(t)
	_, err := f.svc.Start(ctx, a.ID, "user-1")
	require.NoError(t, err)

	active, err := f.svc.List(ctx, "active")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)

	_, err = f.svc.List(ctx, "paused")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t)

	require.NoError(t, f.svc.Delete(context.Background(), sess.ID))
	_, err := f.svc.Get(context.Background(), sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"session-1"}, f.rooms.deleted)
}

func TestIntentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t)

	in, err := f.svc.AddIntention(ctx, sess.ID, "user-1", "  Finish chapter 3, mail ana@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "Finish chapter 3, mail [redacted]", in.Text)

	list, err := f.svc.ListIntentions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	toggled, err := f.svc.ToggleIntention(ctx, in.ID, "user-1", nil)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)

	no := false
	toggled, err = f.svc.ToggleIntention(ctx, in.ID, store.ServiceUserID, &no)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)

	_, err = f.svc.ToggleIntention(ctx, in.ID, "user-2", nil)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteIntention(ctx, in.ID, "user-2"), ErrForbidden)

	require.NoError(t, f.svc.DeleteIntention(ctx, in.ID, "user-1"))
	assert.ErrorIs(t, f.svc.DeleteIntention(ctx, in.ID, "user-1"), ErrNotFound)

	assert.Equal(t, []string{"intentions.insert", "intentions.update", "intentions.update", "intentions.delete"}, f.bus.names())
	f.bus.mu.Lock()
	payload := f.bus.events[0].payload.(IntentionEvent)
	f.bus.mu.Unlock()
	assert.Equal(t, sess.ID, payload.SessionID)

	m, ok := f.tel.Metric(ctx, "focusd.intentions.posted_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), telemetry.SumInt64(m))
}

func TestIntentions_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t)

	_, err := f.svc.AddIntention(ctx, sess.ID, "user-1", "   ")
	assert.ErrorIs(t, err, ErrValidation)

	long := make([]rune, maxIntentionRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.svc.AddIntention(ctx, sess.ID, "user-1", string(long))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AddIntention(ctx, sess.ID, "", "text")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AddIntention(ctx, "missing", "user-1", "text")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.ListIntentions(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.End(ctx, sess.ID, "user-1")
	require.NoError(t, err)
	_, err = f.svc.AddIntention(ctx, sess.ID, "user-1", "late")
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestListIntentions_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t)
	list, err := f.svc.ListIntentions(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestProfiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.UpdateProfile(ctx, "google:1", ProfileUpdate{FullName: " Ana  Lima ", Bio: "Writer", AvatarURL: "https://cdn.example/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Lima", p.FullName)
	assert.Equal(t, "https://cdn.example/a.png", p.AvatarURL)

	got, err := f.svc.GetProfile(ctx, "google:1")
	require.NoError(t, err)
	assert.Equal(t, "Writer", got.Bio)

	_, err = f.svc.UpdateProfile(ctx, "google:1", ProfileUpdate{AvatarURL: "javascript:alert(1)"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdateProfile(ctx, "", ProfileUpdate{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProgress_Missing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Progress(context.Background(), "missing", t0)
	assert.ErrorIs(t, err, ErrNotFound)
}
