package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

func TestBreaker_Do(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	tests := []struct {
		name      string
		errs      []error
		wantState string
	}{
		{name: "successes keep closed", errs: []error{nil, nil, nil}, wantState: "closed"},
		{name: "misses keep closed", errs: []error{ErrTokenNotFound, ErrTokenNotFound, ErrTokenNotFound}, wantState: "closed"},
		{name: "cancellation keeps closed", errs: []error{context.Canceled, context.Canceled, context.Canceled}, wantState: "closed"},
		{name: "below threshold", errs: []error{boom, boom}, wantState: "closed"},
		{name: "failures open", errs: []error{boom, boom, boom}, wantState: "open"},
		{name: "mostly healthy", errs: []error{nil, nil, boom, nil}, wantState: "closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := NewBreaker("test", 3, time.Minute, observability.NopLogger())
			for _, want := range tt.errs {
				err := b.Do(context.Background(), func() error { return want })
				assert.ErrorIs(t, err, want)
			}
			assert.Equal(t, tt.wantState, b.State())
		})
	}
}

func TestBreaker_OpenRejects(t *testing.T) {
	t.Parallel()

	b := NewBreaker("test", 1, time.Minute, nil)
	require.Error(t, b.Do(context.Background(), func() error { return errors.New("down") }))

	called := false
	err := b.Do(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestSafeUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(1), safeUint32(-5))
	assert.Equal(t, uint32(1), safeUint32(0))
	assert.Equal(t, uint32(7), safeUint32(7))
}
