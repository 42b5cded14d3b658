package main

import (
	"context"
	"errors"
	"fmt"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/realtime"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/templates"
)

var errNATSDisconnected = errors.New("nats connection is not established")

// dependencies holds the infrastructure shared by every service.
type dependencies struct {
	store *store.Store
	nats  *natsserver.Server
	bus   *realtime.Bus
}

// initDependencies opens the store, seeds templates and connects the event
// bus, starting an embedded NATS server when configured.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	deps := &dependencies{store: st}

	catalog := templates.Builtins()
	if cfg.Templates.File != "" {
		custom, err := templates.LoadFile(cfg.Templates.File)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to load templates: %w", err)
		}
		catalog = append(catalog, custom...)
	}
	if err := st.UpsertTemplates(ctx, catalog); err != nil {
		deps.Close()
		return nil, err
	}
	logger.Info(ctx, "Store opened",
		zap.String("path", st.Path()),
		zap.Int("templates", len(catalog)))

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := realtime.StartEmbedded(cfg.NATS)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.nats = srv
		natsURL = srv.ClientURL()
		logger.Info(ctx, "Embedded NATS server started", zap.String("url", natsURL))
	}

	bus, err := realtime.Connect(natsURL,
		realtime.WithHeartbeat(cfg.NATS.Heartbeat.Duration()),
		realtime.WithLogger(logger.Named("realtime")),
	)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.bus = bus
	logger.Info(ctx, "Connected to NATS", zap.String("url", natsURL))

	return deps, nil
}

func (d *dependencies) natsHealthy(context.Context) error {
	if d.bus == nil || !d.bus.Conn().IsConnected() {
		return errNATSDisconnected
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (d *dependencies) Close() {
	if d.bus != nil {
		_ = d.bus.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}
