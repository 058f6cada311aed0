package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAccount        EventType = "account"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Gate actions.
const (
	ActionGateCheck Action = "gate_check"
)

// Identity flow actions.
const (
	ActionRegister             Action = "register"
	ActionLogin                Action = "login"
	ActionLoginFailed          Action = "login_failed"
	ActionLogout               Action = "logout"
	ActionPasswordChange       Action = "password_change"
	ActionPasswordResetRequest Action = "password_reset_requested"
	ActionPasswordReset        Action = "password_reset"
	ActionActionTokenConsumed  Action = "action_token_consumed"
	ActionActionTokenRejected  Action = "action_token_rejected"
	ActionEmailChangeRequest   Action = "email_change_requested"
	ActionEmailChange          Action = "email_change"
	ActionUserKeyIssued        Action = "user_key_issued"
	ActionTokensRevoked        Action = "tokens_revoked"
)

// Security actions.
const (
	ActionLockout           Action = "lockout"
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event represents an audit event. It never carries credential material;
// Reason is the only detail of a failed check.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	Subject  *Subject  `json:"subject,omitempty"`
	Resource *Resource `json:"resource,omitempty"`

	// Factor, Kind and Reason describe a gate decision.
	Factor string `json:"factor,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	RequestID string        `json:"request_id,omitempty"`
	TraceID   string        `json:"trace_id,omitempty"`
	SpanID    string        `json:"span_id,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Subject represents the entity performing an action.
type Subject struct {
	// ID is the user ID, when known.
	ID string `json:"id,omitempty"`

	Email      string `json:"email,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
}

// Resource is the route a request targeted.
type Resource struct {
	Tree   string `json:"tree,omitempty"`
	Method string `json:"method,omitempty"`
	Path   string `json:"path,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithDecision records the factor, failure kind and reason of a check.
func (e *Event) WithDecision(factor, kind, reason string) *Event {
	e.Factor = factor
	e.Kind = kind
	e.Reason = reason
	return e
}

// WithRequestID sets the request ID.
func (e *Event) WithRequestID(id string) *Event {
	e.RequestID = id
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// GateEvent creates the event for one factor check at the gate.
func GateEvent(outcome Outcome, factor, kind, reason string, resource *Resource) *Event {
	return NewEvent(EventTypeAuthentication, ActionGateCheck, outcome).
		WithDecision(factor, kind, reason).
		WithResource(resource)
}

// AccountEvent creates an identity flow event.
func AccountEvent(action Action, outcome Outcome, subject *Subject) *Event {
	return NewEvent(EventTypeAccount, action, outcome).WithSubject(subject)
}

// SecurityEvent creates a security event.
func SecurityEvent(action Action, subject *Subject, details map[string]interface{}) *Event {
	e := NewEvent(EventTypeSecurity, action, OutcomeDenied).WithSubject(subject)
	for k, v := range details {
		e.WithMetadata(k, v)
	}
	return e
}
