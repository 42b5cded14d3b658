// Focusd is the focus-session backend.
//
// It serves the REST and Server-Sent Events API, drives a stage clock for
// every active session and provisions Daily.co rooms.
//
// Configuration is loaded from ~/.config/focusd/config.yaml and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults and an embedded NATS server
//	NATS_EMBEDDED=true focusd
//
//	# Use an explicit config file
//	focusd -config /etc/focusd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/focusroom/focusd/internal/auth"
	"github.com/focusroom/focusd/internal/config"
	"github.com/focusroom/focusd/internal/daily"
	focushttp "github.com/focusroom/focusd/internal/http"
	"github.com/focusroom/focusd/internal/logging"
	"github.com/focusroom/focusd/internal/runner"
	"github.com/focusroom/focusd/internal/scrub"
	"github.com/focusroom/focusd/internal/sessions"
	"github.com/focusroom/focusd/internal/stageclock"
	"github.com/focusroom/focusd/internal/store"
	"github.com/focusroom/focusd/internal/telemetry"
	"github.com/focusroom/focusd/internal/templates"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const tokenPurgeInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/focusd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  focusd           Start the focusd server\n")
			fmt.Fprintf(os.Stderr, "  focusd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("focusd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is cancelled, then shuts
// down within the configured timeout.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "Starting focusd",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	mode, err := stageclock.ParseMode(cfg.Clock.Mode)
	if err != nil {
		return fmt.Errorf("invalid clock mode: %w", err)
	}
	mgr := runner.New(deps.bus,
		runner.WithMode(mode),
		runner.WithInterval(cfg.Clock.Interval.Duration()),
		runner.WithLogger(logger.Named("runner")),
	)
	defer mgr.StopAll()

	scrubber, err := scrub.New(cfg.Scrub, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize scrubber: %w", err)
	}

	svc := sessions.New(deps.store,
		sessions.WithRooms(daily.New(cfg.Daily)),
		sessions.WithPublisher(deps.bus),
		sessions.WithRunner(mgr),
		sessions.WithScrubber(scrubber),
		sessions.WithLogger(logger.Named("sessions")),
		sessions.WithTelemetry(tel),
	)
	mgr.OnFinish(svc.Finish)

	resumed, err := mgr.Resume(ctx, deps.store)
	if err != nil {
		return fmt.Errorf("failed to resume active sessions: %w", err)
	}

	authn, err := auth.New(cfg.Auth, cfg.Server.APIToken, deps.store, auth.WithLogger(logger.Named("auth")))
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}

	srv, err := focushttp.NewServer(focushttp.Deps{
		Sessions: svc,
		Auth:     authn,
		Events:   deps.bus,
		Checks: map[string]focushttp.HealthCheck{
			"store": deps.store.Ping,
			"nats":  deps.natsHealthy,
		},
		Telemetry: tel,
		Version:   version,
	}, logger.Named("http"), cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	logger.Info(ctx, "Server configured",
		zap.Int("resumed_sessions", resumed),
		zap.Bool("daily_configured", cfg.Daily.APIKey.IsSet()),
		zap.Bool("login_enabled", authn.LoginEnabled()),
		zap.String("clock_mode", string(mode)),
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)))

	go purgeTokens(ctx, deps.store, logger)

	if cfg.Templates.File != "" && cfg.Templates.Watch {
		w, err := templates.NewWatcher(cfg.Templates.File, deps.store.UpsertTemplates, logger.Named("templates"))
		if err != nil {
			return fmt.Errorf("failed to watch templates: %w", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn(ctx, "template watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	mgr.StopAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return <-errCh
}

// purgeTokens drops expired session tokens until ctx is cancelled.
func purgeTokens(ctx context.Context, st *store.Store, logger *logging.Logger) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.PurgeExpiredTokens(ctx)
			if err != nil {
				logger.Warn(ctx, "token purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "purged expired tokens", zap.Int64("count", n))
			}
		}
	}
}
