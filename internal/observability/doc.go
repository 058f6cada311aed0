// Package observability provides logging, metrics, and tracing for the
// WikiClip service.
//
// # Logging
//
// The Logger interface wraps zap with a small field vocabulary:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("request processed",
//	    observability.String("method", "GET"),
//	    observability.Int("status", 200),
//	)
//
// Credentials never pass through the logger. Callers log the factor and
// failure kind, not the presented value.
//
// # Metrics
//
// Metrics live on a private Prometheus registry exposed by Handler:
//
//	metrics := observability.NewMetrics("wikiclip")
//	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
//
// # Tracing
//
// NewTracer installs an OTLP gRPC exporter when enabled and falls back to
// the global no-op provider otherwise.
package observability
