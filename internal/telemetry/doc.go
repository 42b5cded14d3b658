// Package telemetry wires OpenTelemetry traces and metrics for focusd.
//
// Spans and metrics are exported over OTLP (gRPC by default, or
// http/protobuf) to a collector. Telemetry is off unless
// observability.enable_telemetry is set, and export failures never stop
// the daemon: the instance marks itself degraded and falls back to the
// global no-op providers.
//
//	tcfg := telemetry.FromSettings(cfg.Observability, version)
//	tel, err := telemetry.New(ctx, tcfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tracer := tel.Tracer("focusd.sessions")
//	ctx, span := tracer.Start(ctx, "sessions.Create")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
