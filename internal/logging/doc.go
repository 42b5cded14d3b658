// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug) for per-tick clock output
//   - stdout and OpenTelemetry outputs
//   - automatic context fields (trace_id, session.id, user.id, request.id)
//   - key and pattern based secret redaction
//   - level-aware sampling where errors are never sampled
//
// Create a logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithSessionID(ctx, session.ID)
//	logger.Info(ctx, "stage transition", zap.Int("stage", p.Index))
package logging
