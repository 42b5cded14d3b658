package realtime

import (
	"errors"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/focusroom/focusd/internal/config"
)

// ErrServerNotReady is returned when the embedded server fails to accept
// connections in time.
var ErrServerNotReady = errors.New("embedded NATS server not ready")

const readyTimeout = 5 * time.Second

// StartEmbedded runs an in-process NATS server bound to cfg.Host:cfg.Port.
// A port of -1 picks a random free port.
func StartEmbedded(cfg config.NATSConfig) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		ServerName:     "focusd",
		Host:           cfg.Host,
		Port:           cfg.Port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go srv.Start()

	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, ErrServerNotReady
	}
	return srv, nil
}
