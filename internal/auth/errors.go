package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind.
var (
	// ErrMissingCredential indicates a required credential was not presented.
	ErrMissingCredential = errors.New("missing credential")

	// ErrInvalidCredential indicates a presented credential did not verify,
	// was not found, expired, or was already consumed.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrPolicyViolation indicates a credential was presented outside the
	// context it is scoped to.
	ErrPolicyViolation = errors.New("policy violation")

	// ErrUnavailable indicates the credential store could not answer.
	ErrUnavailable = errors.New("credential store unavailable")
)

// Kind classifies an authentication failure.
type Kind string

// Failure kinds.
const (
	KindMissingCredential Kind = "missing_credential"
	KindInvalidCredential Kind = "invalid_credential"
	KindPolicyViolation   Kind = "policy_violation"
	KindUnavailable       Kind = "unavailable"
)

func (k Kind) sentinel() error {
	switch k {
	case KindMissingCredential:
		return ErrMissingCredential
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindPolicyViolation:
		return ErrPolicyViolation
	case KindUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Factor names the credential a check evaluated.
type Factor string

// Factors.
const (
	FactorAPIKey      Factor = "api_key"
	FactorSession     Factor = "session"
	FactorActionToken Factor = "action_token"
)

// AuthError is a failed check. Reason is a short machine-readable detail
// such as "expired" or "consumed"; it never contains credential material.
type AuthError struct {
	Factor Factor
	Kind   Kind
	Reason string
	Cause  error

	// Subject is the user the credential named, set when the credential
	// verified but was refused, e.g. an already consumed Action JWT.
	Subject string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Factor, e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s %s (%s)", e.Factor, e.Kind, e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's Kind.
func (e *AuthError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError creates an AuthError.
func NewError(factor Factor, kind Kind, reason string) *AuthError {
	return &AuthError{Factor: factor, Kind: kind, Reason: reason}
}

// NewErrorWithCause creates an AuthError wrapping cause.
func NewErrorWithCause(factor Factor, kind Kind, reason string, cause error) *AuthError {
	return &AuthError{Factor: factor, Kind: kind, Reason: reason, Cause: cause}
}

// AsAuthError extracts the *AuthError from err's chain.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsUnavailable reports whether err is an infrastructure failure rather
// than a credential failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
