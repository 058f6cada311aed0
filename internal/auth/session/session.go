// Package session resolves the user behind a request: from a session
// token or user key header, or from a single-use Action JWT carried in
// the query string of an emailed link.
package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/credential"
)

// Failure reasons recorded on *auth.AuthError.
const (
	ReasonAbsent    = "absent"
	ReasonNotFound  = "not_found"
	ReasonExpired   = "expired"
	ReasonConsumed  = "consumed"
	ReasonCancelled = "cancelled"
	ReasonBackend   = "backend"
)

// TokenResolver resolves header tokens.
type TokenResolver interface {
	LookupToken(ctx context.Context, token string) (*auth.Identity, error)
}

// TokenConsumer records Action JWT use.
type TokenConsumer interface {
	ConsumeActionToken(ctx context.Context, tokenID string, expiresAt time.Time) (credential.ConsumeResult, error)
}

// Validator implements both session flows.
type Validator struct {
	resolver TokenResolver
	consumer TokenConsumer
	verifier *actiontoken.Verifier
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the time source used for the identity expiry check.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New creates a Validator. credential.Store satisfies both resolver and
// consumer.
func New(resolver TokenResolver, consumer TokenConsumer, verifier *actiontoken.Verifier, opts ...Option) *Validator {
	v := &Validator{
		resolver: resolver,
		consumer: consumer,
		verifier: verifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ExtractToken returns the session credential presented on r.
// X-Token-Auth wins over X-User-Key; a Bearer prefix is stripped.
func ExtractToken(r *http.Request) string {
	for _, h := range []string{auth.HeaderXTokenAuth, auth.HeaderXUserKey} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return strings.TrimSpace(strings.TrimPrefix(v, auth.AuthSchemeBearer))
		}
	}
	return ""
}

// ExtractActionToken returns the Action JWT carried in the query string.
func ExtractActionToken(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get(auth.QueryTokenAuth))
}

// ValidateToken resolves a header token to an identity.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*auth.Identity, error) {
	if token == "" {
		return nil, auth.NewError(auth.FactorSession, auth.KindMissingCredential, ReasonAbsent)
	}

	id, err := v.resolver.LookupToken(ctx, token)
	if err != nil {
		return nil, classifyStoreError(auth.FactorSession, err)
	}
	if id.IsExpired(v.now()) {
		return nil, auth.NewError(auth.FactorSession, auth.KindInvalidCredential, ReasonExpired)
	}
	return id, nil
}

// ValidateActionToken verifies raw for action and consumes it. Only the
// first of any concurrent callers presenting the same token succeeds.
// Expired and consumed tokens produce errors that differ only in Reason.
func (v *Validator) ValidateActionToken(
	ctx context.Context, raw string, action actiontoken.Action,
) (*auth.Identity, error) {
	claims, err := v.verifier.Verify(raw, action)
	if err != nil {
		return nil, err
	}

	res, err := v.consumer.ConsumeActionToken(ctx, claims.ID, claims.ExpiresAt)
	if err != nil {
		return nil, classifyStoreError(auth.FactorActionToken, err)
	}
	if res == credential.ConsumeOK {
		return claims.Identity(), nil
	}

	reason := ReasonExpired
	if res == credential.ConsumeAlreadyConsumed {
		reason = ReasonConsumed
	}
	ae := auth.NewError(auth.FactorActionToken, auth.KindInvalidCredential, reason)
	ae.Subject = claims.Subject
	return nil, ae
}

func classifyStoreError(factor auth.Factor, err error) error {
	switch {
	case errors.Is(err, credential.ErrTokenNotFound):
		return auth.NewError(factor, auth.KindInvalidCredential, ReasonNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auth.NewErrorWithCause(factor, auth.KindUnavailable, ReasonCancelled, err)
	default:
		return auth.NewErrorWithCause(factor, auth.KindUnavailable, ReasonBackend, err)
	}
}
