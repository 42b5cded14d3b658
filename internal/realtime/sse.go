package realtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ServeSSE streams sessionID's events until the client disconnects or the
// session ends. The caller checks that the session exists.
//
//	GET /api/v1/sessions/{id}/events
//
//	event: intentions.insert
//	data: {"id":"...","text":"Finish chapter 3",...}
//
//	event: stage.transition
//	data: {"current_stage_index":2,...}
func (b *Bus) ServeSSE(c echo.Context, sessionID string) error {
	sub, err := b.Subscribe(sessionID)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	w.Flush()

	StreamClients.Inc()
	defer StreamClients.Dec()

	ctx := c.Request().Context()
	b.logger.Debug(ctx, "sse stream opened", zap.String("session_id", sessionID))

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			_, _ = fmt.Fprintf(w, "event: %s\n", msg.Event())
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg.Data)
			w.Flush()

			if msg.Topic == TopicLifecycle && msg.Action == ActionEnded {
				return nil
			}

		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			b.logger.Debug(ctx, "sse client disconnected", zap.String("session_id", sessionID))
			return nil
		}
	}
}
