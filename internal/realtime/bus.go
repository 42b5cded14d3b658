package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/logging"
)

// Topics.
const (
	TopicIntentions = "intentions"
	TopicStage      = "stage"
	TopicLifecycle  = "lifecycle"
)

// Actions.
const (
	ActionInsert     = "insert"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionTick       = "tick"
	ActionTransition = "transition"
	ActionFinished   = "finished"
	ActionStarted    = "started"
	ActionEnded      = "ended"
)

var (
	// ErrInvalidSessionID rejects ids that cannot be used as a subject token.
	ErrInvalidSessionID = errors.New("invalid session id for subject")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("event bus closed")
)

var validActions = map[string]map[string]bool{
	TopicIntentions: {ActionInsert: true, ActionUpdate: true, ActionDelete: true},
	TopicStage:      {ActionTick: true, ActionTransition: true, ActionFinished: true},
	TopicLifecycle:  {ActionStarted: true, ActionEnded: true},
}

// Message is one event received from the bus.
type Message struct {
	SessionID string
	Topic     string
	Action    string
	Data      json.RawMessage
}

// Event returns the SSE event name.
func (m Message) Event() string {
	return m.Topic + "." + m.Action
}

// Bus publishes and subscribes to session events.
type Bus struct {
	nc        *nats.Conn
	logger    *logging.Logger
	heartbeat time.Duration
	owned     bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHeartbeat sets the SSE keepalive interval.
func WithHeartbeat(d time.Duration) BusOption {
	return func(b *Bus) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *logging.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus wraps an existing connection. The caller keeps ownership of nc.
func NewBus(nc *nats.Conn, opts ...BusOption) *Bus {
	b := &Bus{
		nc:        nc,
		logger:    logging.NewNop(),
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials url and returns a Bus that closes the connection on Close.
func Connect(url string, opts ...BusOption) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("focusd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	b := NewBus(nc, opts...)
	b.owned = true
	return b, nil
}

// Conn returns the underlying connection.
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Close drains the connection if the bus owns it.
func (b *Bus) Close() error {
	if !b.owned || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}

// PublishIntention announces an intention insert, update or delete.
func (b *Bus) PublishIntention(ctx context.Context, sessionID, action string, payload any) error {
	return b.publish(ctx, sessionID, TopicIntentions, action, payload)
}

// PublishStage announces a stage clock reading.
func (b *Bus) PublishStage(ctx context.Context, sessionID, action string, payload any) error {
	return b.publish(ctx, sessionID, TopicStage, action, payload)
}

// PublishLifecycle announces a session start or end.
func (b *Bus) PublishLifecycle(ctx context.Context, sessionID, action string, payload any) error {
	return b.publish(ctx, sessionID, TopicLifecycle, action, payload)
}

func (b *Bus) publish(ctx context.Context, sessionID, topic, action string, payload any) error {
	subject, err := Subject(sessionID, topic, action)
	if err != nil {
		return err
	}
	if b.nc == nil || b.nc.IsClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		PublishErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	EventsPublished.WithLabelValues(topic, action).Inc()
	b.logger.Trace(ctx, "event published", zap.String("subject", subject))
	return nil
}

// Subscription delivers one session's events.
type Subscription struct {
	sub *nats.Subscription
	raw chan *nats.Msg
	out chan Message
	fin chan struct{}

	once sync.Once
}

// C returns the message channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan Message { return s.out }

// Unsubscribe stops delivery and closes C.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Unsubscribe()
		close(s.fin)
	})
	return err
}

// Subscribe receives every event for sessionID.
func (b *Bus) Subscribe(sessionID string) (*Subscription, error) {
	if !validToken(sessionID) {
		return nil, ErrInvalidSessionID
	}
	if b.nc == nil || b.nc.IsClosed() {
		return nil, ErrClosed
	}

	raw := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe("sessions."+sessionID+".>", raw)
	if err != nil {
		return nil, fmt.Errorf("subscribe session %s: %w", sessionID, err)
	}
	s := &Subscription{sub: sub, raw: raw, out: make(chan Message), fin: make(chan struct{})}
	go s.relay()
	return s, nil
}

func (s *Subscription) relay() {
	defer close(s.out)
	for {
		select {
		case msg := <-s.raw:
			m, ok := parseSubject(msg.Subject)
			if !ok {
				continue
			}
			m.Data = json.RawMessage(msg.Data)
			select {
			case s.out <- m:
			case <-s.fin:
				return
			}
		case <-s.fin:
			return
		}
	}
}

// Subject builds the subject for one event.
func Subject(sessionID, topic, action string) (string, error) {
	if !validToken(sessionID) {
		return "", ErrInvalidSessionID
	}
	actions, ok := validActions[topic]
	if !ok {
		return "", fmt.Errorf("unknown event topic %q", topic)
	}
	if !actions[action] {
		return "", fmt.Errorf("unknown %s action %q", topic, action)
	}
	return "sessions." + sessionID + "." + topic + "." + action, nil
}

func parseSubject(subject string) (Message, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "sessions" {
		return Message{}, false
	}
	return Message{SessionID: parts[1], Topic: parts[2], Action: parts[3]}, true
}

func validToken(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	return !strings.ContainsAny(s, ".*> \t\r\n")
}
