package account

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
)

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	unique := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"}
	assert.True(t, isUniqueViolation(unique))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", unique)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}))
	assert.False(t, isUniqueViolation(errors.New("unique violation")))
	assert.False(t, isUniqueViolation(nil))
}

func TestAuthLogged(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event *audit.Event
		want  bool
	}{
		{name: "account", event: audit.AccountEvent(audit.ActionLogin, audit.OutcomeSuccess, nil), want: true},
		{name: "security", event: audit.SecurityEvent(audit.ActionLockout, nil, nil), want: true},
		{
			name:  "action token decision",
			event: audit.GateEvent(audit.OutcomeDenied, "action_token", "invalid_credential", "consumed", nil),
			want:  true,
		},
		{
			name:  "api key decision",
			event: audit.GateEvent(audit.OutcomeDenied, "api_key", "missing_credential", "absent", nil),
		},
		{
			name:  "session decision",
			event: audit.GateEvent(audit.OutcomeSuccess, "session", "", "", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, authLogged(tt.event))
		})
	}
}
