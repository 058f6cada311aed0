// Package credential resolves user tokens to identities and records Action
// JWT consumption.
//
// Tokens are opaque random strings handed to clients once. Only their
// SHA-256 (the token ID) is stored, both in the durable repository and in
// the cache. A resolved token is cached for at most the configured cache
// TTL and never beyond its own expiry, so revocation in the durable store
// is observed within that bound; revocation through this package also
// evicts the cache entry and takes effect on the next request.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
)

// ErrTokenNotFound indicates the token is unknown, revoked or expired.
var ErrTokenNotFound = errors.New("token not found")

// tokenBytes is the entropy of an issued token.
const tokenBytes = 32

// TokenKind distinguishes login sessions from long-lived user keys.
type TokenKind string

// Token kinds.
const (
	KindSession TokenKind = "session"
	KindUserKey TokenKind = "user_key"
)

// AuthType maps a token kind to the identity auth type.
func (k TokenKind) AuthType() auth.AuthType {
	if k == KindUserKey {
		return auth.AuthTypeUserKey
	}
	return auth.AuthTypeSession
}

// Record is the durable form of an issued token.
type Record struct {
	TokenID   string    `json:"tid"`
	UserID    string    `json:"uid"`
	Email     string    `json:"eml"`
	Kind      TokenKind `json:"knd"`
	CreatedAt time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Identity converts the record to a request identity.
func (r *Record) Identity() *auth.Identity {
	return &auth.Identity{
		Subject:   r.UserID,
		Email:     r.Email,
		AuthType:  r.Kind.AuthType(),
		TokenID:   r.TokenID,
		AuthTime:  r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
}

// ConsumeResult is the outcome of ConsumeActionToken.
type ConsumeResult int

// Consume results.
const (
	ConsumeOK ConsumeResult = iota
	ConsumeAlreadyConsumed
	ConsumeExpired
)

// String returns the audit label of r.
func (r ConsumeResult) String() string {
	switch r {
	case ConsumeOK:
		return "consumed"
	case ConsumeAlreadyConsumed:
		return "already_consumed"
	case ConsumeExpired:
		return "expired"
	default:
		return fmt.Sprintf("ConsumeResult(%d)", int(r))
	}
}

// Store is the credential store used by the gate and identity flows.
type Store interface {
	// LookupToken resolves a presented token. It returns ErrTokenNotFound
	// on a miss and an error matching auth.ErrUnavailable when no backend
	// can answer.
	LookupToken(ctx context.Context, token string) (*auth.Identity, error)

	// ConsumeActionToken marks an Action JWT ID as used. Exactly one of
	// any number of concurrent callers for the same ID gets ConsumeOK.
	ConsumeActionToken(ctx context.Context, tokenID string, expiresAt time.Time) (ConsumeResult, error)

	// IssueToken creates and persists a new token for a user and returns
	// the token value. The value is not recoverable afterwards.
	IssueToken(ctx context.Context, userID, email string, kind TokenKind, ttl time.Duration) (string, *Record, error)

	// RevokeToken revokes one token by ID.
	RevokeToken(ctx context.Context, tokenID string) error

	// RevokeUserTokens revokes every active token of userID except
	// exceptTokenID and returns how many were revoked.
	RevokeUserTokens(ctx context.Context, userID, exceptTokenID string) (int, error)

	// Ping checks both backends.
	Ping(ctx context.Context) error
}

// Repository is the durable token store.
type Repository interface {
	InsertToken(ctx context.Context, rec *Record) error

	// FindActiveToken returns the unrevoked, unexpired record for
	// tokenID or ErrTokenNotFound.
	FindActiveToken(ctx context.Context, tokenID string, now time.Time) (*Record, error)

	// RevokeToken marks tokenID revoked. Revoking an unknown or already
	// revoked token is not an error.
	RevokeToken(ctx context.Context, tokenID string, now time.Time) error

	// RevokeUserTokens revokes the user's active tokens except
	// exceptTokenID and returns the revoked IDs.
	RevokeUserTokens(ctx context.Context, userID, exceptTokenID string, now time.Time) ([]string, error)

	Ping(ctx context.Context) error
}

// HashToken returns the token ID for a presented token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateToken returns a URL-safe random token.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
