// Package apikey authenticates the calling application by the shared
// X-Api-Key secret.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
)

// ErrEmptySecret is returned by New when no secret is configured.
var ErrEmptySecret = errors.New("api key secret is empty")

// Authenticator checks a presented API key against the deployment secret.
type Authenticator interface {
	// Authenticate returns nil when presented equals the configured
	// secret, or an *auth.AuthError for the api_key factor.
	Authenticate(presented string) error
}

type authenticator struct {
	digest [sha256.Size]byte
}

var _ Authenticator = (*authenticator)(nil)

// New creates an Authenticator for secret. Only a digest of the secret is
// retained.
func New(secret string) (Authenticator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &authenticator{digest: sha256.Sum256([]byte(secret))}, nil
}

// Authenticate compares digests in constant time so neither content nor
// length of the secret leaks through timing.
func (a *authenticator) Authenticate(presented string) error {
	if presented == "" {
		return auth.NewError(auth.FactorAPIKey, auth.KindMissingCredential, "absent")
	}

	d := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(d[:], a.digest[:]) != 1 {
		return auth.NewError(auth.FactorAPIKey, auth.KindInvalidCredential, "mismatch")
	}
	return nil
}

// Extract returns the API key presented on r, or "".
func Extract(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(auth.HeaderXAPIKey))
}
