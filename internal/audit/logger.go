package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const redactedValue = "[REDACTED]"

// Logger is the audit logger interface.
type Logger interface {
	// LogEvent writes event to the audit output and every sink.
	LogEvent(ctx context.Context, event *Event)

	// Close closes the output.
	Close() error
}

// Sink receives audit events in addition to the primary output, for
// example a durable authentication log.
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// logger implements the Logger interface.
type logger struct {
	redact  []string
	writer  io.Writer
	closer  io.Closer
	mu      sync.Mutex
	sinks   []Sink
	logger  observability.Logger
	metrics *Metrics
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal *prometheus.CounterVec
}

// NewMetrics creates audit metrics registered with registerer. A nil
// registerer leaves them unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wikiclip"
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of audit events",
			},
			[]string{"type", "action", "outcome"},
		),
	}
	if registerer != nil {
		_ = registerer.Register(m.eventsTotal)
	}
	m.Init()

	return m
}

// Init pre-populates gate label combinations so they are exported from
// startup.
func (m *Metrics) Init() {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeDenied, OutcomeError} {
		m.eventsTotal.WithLabelValues(string(EventTypeAuthentication), string(ActionGateCheck), string(o))
	}
}

// RecordEvent records an audit event metric.
func (m *Metrics) RecordEvent(eventType EventType, action Action, outcome Outcome) {
	m.eventsTotal.WithLabelValues(string(eventType), string(action), string(outcome)).Inc()
}

// LoggerOption is a functional option for the logger.
type LoggerOption func(*logger)

// WithLoggerLogger sets the observability logger used to report write
// failures.
func WithLoggerLogger(l observability.Logger) LoggerOption {
	return func(lg *logger) {
		lg.logger = l
	}
}

// WithLoggerMetrics sets the metrics.
func WithLoggerMetrics(metrics *Metrics) LoggerOption {
	return func(lg *logger) {
		lg.metrics = metrics
	}
}

// WithLoggerWriter sets the writer, overriding the configured output.
func WithLoggerWriter(writer io.Writer) LoggerOption {
	return func(lg *logger) {
		lg.writer = writer
	}
}

// WithSink adds a sink.
func WithSink(sink Sink) LoggerOption {
	return func(lg *logger) {
		lg.sinks = append(lg.sinks, sink)
	}
}

// NewLogger creates an audit logger. A disabled configuration yields a
// no-op logger.
func NewLogger(cfg config.AuditConfig, opts ...LoggerOption) (Logger, error) {
	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	l := &logger{
		redact: cfg.RedactFields,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = NewMetrics("wikiclip", nil)
	}
	if l.writer == nil {
		writer, closer, err := createWriter(cfg.Output)
		if err != nil {
			return nil, err
		}
		l.writer = writer
		l.closer = closer
	}

	return l, nil
}

func createWriter(output string) (io.Writer, io.Closer, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		//nolint:gosec // G304: path from config is trusted
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log file: %w", err)
		}
		return file, file, nil
	}
}

// LogEvent logs an audit event.
func (l *logger) LogEvent(ctx context.Context, event *Event) {
	if event.RequestID == "" {
		event.RequestID = observability.RequestIDFromContext(ctx)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if event.TraceID == "" {
			event.TraceID = sc.TraceID().String()
		}
		if event.SpanID == "" {
			event.SpanID = sc.SpanID().String()
		}
	}

	l.redactMetadata(event)
	l.metrics.RecordEvent(event.Type, event.Action, event.Outcome)
	l.writeEvent(event)

	// Sinks see the event even if the client has gone away.
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range l.sinks {
		if err := s.Record(sinkCtx, event); err != nil {
			l.logger.Error("failed to record audit event",
				observability.String("action", string(event.Action)),
				observability.Error(err))
		}
	}
}

func (l *logger) redactMetadata(event *Event) {
	for key := range event.Metadata {
		if l.shouldRedact(key) {
			event.Metadata[key] = redactedValue
		}
	}
}

func (l *logger) shouldRedact(field string) bool {
	lower := strings.ToLower(field)
	for _, r := range l.redact {
		if strings.Contains(lower, strings.ToLower(r)) {
			return true
		}
	}
	return false
}

func (l *logger) writeEvent(event *Event) {
	output, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("failed to marshal audit event", observability.Error(err))
		return
	}
	output = append(output, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(output); err != nil {
		l.logger.Error("failed to write audit event", observability.Error(err))
	}
}

// Close closes the logger.
func (l *logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

type noopLogger struct{}

// NewNoopLogger creates a new no-op audit logger.
func NewNoopLogger() Logger {
	return noopLogger{}
}

func (noopLogger) LogEvent(context.Context, *Event) {}

func (noopLogger) Close() error { return nil }

var (
	_ Logger = (*logger)(nil)
	_ Logger = noopLogger{}
)
