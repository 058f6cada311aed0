package auth

import (
	"context"
	"time"
)

// AuthType is the kind of credential an identity was resolved from.
type AuthType string

// Authentication types.
const (
	AuthTypeSession AuthType = "session"
	AuthTypeUserKey AuthType = "user_key"
	AuthTypeAction  AuthType = "action"
)

// Identity is the request-scoped result of a successful session check.
type Identity struct {
	// Subject is the user ID.
	Subject string `json:"sub"`

	// Email is the address on record when the credential was issued.
	Email string `json:"email,omitempty"`

	// AuthType records which credential produced the identity.
	AuthType AuthType `json:"auth_type"`

	// TokenID identifies the presented credential: the SHA-256 of a
	// session token or user key, or the jti of an Action JWT.
	TokenID string `json:"token_id"`

	// Action is set only for AuthTypeAction and names the single action
	// the identity may perform.
	Action string `json:"action,omitempty"`

	// AuthTime is when the credential was issued.
	AuthTime time.Time `json:"auth_time,omitempty"`

	// ExpiresAt is when the credential stops being valid.
	ExpiresAt time.Time `json:"exp,omitempty"`

	// Claims carries extra credential attributes, such as the target
	// address of an email change.
	Claims map[string]string `json:"claims,omitempty"`
}

// IsExpired reports whether the identity's credential has expired at now.
func (i *Identity) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Claim returns the named claim or "".
func (i *Identity) Claim(name string) string {
	if i.Claims == nil {
		return ""
	}
	return i.Claims[name]
}

type identityContextKey struct{}

// ContextWithIdentity returns a copy of ctx carrying identity.
func ContextWithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity stored in ctx.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}
