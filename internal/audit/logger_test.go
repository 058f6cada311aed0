package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (s *recordingSink) Record(ctx context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.events = append(s.events, e)
	return s.err
}

func enabled() config.AuditConfig {
	return config.AuditConfig{
		Enabled:      true,
		Output:       "stdout",
		RedactFields: []string{"password", "token"},
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      config.AuditConfig
		wantNoop bool
		wantErr  bool
	}{
		{name: "disabled", cfg: config.AuditConfig{}, wantNoop: true},
		{name: "stdout", cfg: config.AuditConfig{Enabled: true, Output: "stdout"}},
		{name: "stderr", cfg: config.AuditConfig{Enabled: true, Output: "stderr"}},
		{
			name:    "unwritable file",
			cfg:     config.AuditConfig{Enabled: true, Output: filepath.Join("/nonexistent-dir", "audit.log")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, isNoop := l.(noopLogger)
			assert.Equal(t, tt.wantNoop, isNoop)
			assert.NoError(t, l.Close())
		})
	}
}

func TestNewLogger_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(config.AuditConfig{Enabled: true, Output: path})
	require.NoError(t, err)

	l.LogEvent(context.Background(), AccountEvent(ActionLogin, OutcomeSuccess, &Subject{ID: "u1"}))
	require.NoError(t, l.Close())
}

func TestLogger_LogEvent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	sink := &recordingSink{}

	l, err := NewLogger(enabled(),
		WithLoggerWriter(&buf),
		WithLoggerMetrics(metrics),
		WithSink(sink),
		WithLoggerLogger(observability.NopLogger()),
	)
	require.NoError(t, err)

	ctx := observability.ContextWithRequestID(context.Background(), "req-1")
	event := GateEvent(OutcomeDenied, "action_token", "invalid_credential", "consumed",
		&Resource{Tree: "unkeyed", Method: "GET", Path: "/reset-password"}).
		WithMetadata("new_password", "hunter2").
		WithMetadata("client", "cli")
	l.LogEvent(ctx, event)

	var got Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, ActionGateCheck, got.Action)
	assert.Equal(t, "consumed", got.Reason)
	assert.Equal(t, redactedValue, got.Metadata["new_password"])
	assert.Equal(t, "cli", got.Metadata["client"])
	assert.NotContains(t, buf.String(), "hunter2")

	require.Len(t, sink.events, 1)
	assert.Equal(t, event.ID, sink.events[0].ID)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		metrics.eventsTotal.WithLabelValues("authentication", "gate_check", "denied")))
}

func TestLogger_SinkSurvivesCancellation(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	l, err := NewLogger(enabled(), WithLoggerWriter(&bytes.Buffer{}), WithSink(sink))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.LogEvent(ctx, AccountEvent(ActionLogout, OutcomeSuccess, nil))

	assert.Len(t, sink.events, 1)
}

func TestLogger_SinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := &recordingSink{err: errors.New("db down")}
	ok := &recordingSink{}
	var buf bytes.Buffer

	l, err := NewLogger(enabled(), WithLoggerWriter(&buf), WithSink(failing), WithSink(ok))
	require.NoError(t, err)

	l.LogEvent(context.Background(), AccountEvent(ActionRegister, OutcomeSuccess, nil))

	assert.Len(t, ok.events, 1)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestNoopLogger(t *testing.T) {
	t.Parallel()

	l := NewNoopLogger()
	assert.NotPanics(t, func() {
		l.LogEvent(context.Background(), NewEvent(EventTypeSecurity, ActionLockout, OutcomeDenied))
	})
	assert.NoError(t, l.Close())
}
