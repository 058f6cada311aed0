// Package actiontoken mints and verifies Action JWTs: short-lived HS256
// tokens embedded in emailed links that authorize exactly one action for
// one user.
//
// Claims:
//
//	iss  deployment issuer
//	sub  user ID
//	act  action name, e.g. password_reset
//	jti  random UUID, the single-use key
//	iat  issue time
//	exp  expiry; a non-positive TTL yields exp == iat, which never verifies
//	eml  optional target address, set for email changes
//
// Verification errors are *auth.AuthError values for the action_token
// factor. Their Reason distinguishes failures for audit logging; callers
// must not surface it.
package actiontoken

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
)

// Action names the single operation a token authorizes.
type Action string

// Actions.
const (
	ActionPasswordReset Action = "password_reset"
	ActionEmailChange   Action = "email_change"
)

// Claim names beyond the registered set.
const (
	ClaimAction = "act"
	ClaimEmail  = "eml"
)

// Verification failure reasons.
const (
	ReasonMalformed      = "malformed"
	ReasonSignature      = "signature"
	ReasonExpired        = "expired"
	ReasonIssuer         = "issuer"
	ReasonClaims         = "claims"
	ReasonActionMismatch = "action_mismatch"
)

// minSecretLen is the minimum HS256 key size.
const minSecretLen = 32

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = fmt.Errorf("action token secret must be at least %d bytes", minSecretLen)

// Claims is the verified content of an Action JWT.
type Claims struct {
	ID        string
	Subject   string
	Action    Action
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity converts verified claims to a single-action identity.
func (c *Claims) Identity() *auth.Identity {
	id := &auth.Identity{
		Subject:   c.Subject,
		AuthType:  auth.AuthTypeAction,
		TokenID:   c.ID,
		Action:    string(c.Action),
		AuthTime:  c.IssuedAt,
		ExpiresAt: c.ExpiresAt,
	}
	if c.Email != "" {
		id.Email = c.Email
		id.Claims = map[string]string{ClaimEmail: c.Email}
	}
	return id
}

// Option configures an Issuer or Verifier.
type Option func(*codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *codec) {
		c.now = now
	}
}

// WithTTL sets the lifetime of tokens minted for action. A non-positive
// ttl mints tokens that are already expired.
func WithTTL(action Action, ttl time.Duration) Option {
	return func(c *codec) {
		c.ttls[action] = ttl
	}
}

type codec struct {
	key    []byte
	issuer string
	ttls   map[Action]time.Duration
	now    func() time.Time
}

func newCodec(secret []byte, issuer string, opts []Option) (*codec, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if issuer == "" {
		return nil, errors.New("action token issuer is required")
	}

	c := &codec{
		key:    append([]byte(nil), secret...),
		issuer: issuer,
		ttls:   make(map[Action]time.Duration),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issuer mints Action JWTs.
type Issuer struct {
	*codec
}

// NewIssuer creates an Issuer signing with secret.
func NewIssuer(secret []byte, issuer string, opts ...Option) (*Issuer, error) {
	c, err := newCodec(secret, issuer, opts)
	if err != nil {
		return nil, err
	}
	return &Issuer{codec: c}, nil
}

// Issue mints a token for subject to perform action. email is the target
// address for ActionEmailChange and is otherwise empty.
func (i *Issuer) Issue(subject string, action Action, email string) (string, *Claims, error) {
	if subject == "" || action == "" {
		return "", nil, errors.New("action token requires subject and action")
	}

	iat := i.now().Truncate(time.Second)
	exp := iat
	if ttl := i.ttls[action]; ttl > 0 {
		exp = iat.Add(ttl)
	}

	claims := &Claims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Action:    action,
		Email:     email,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}

	b := jwt.NewBuilder().
		Issuer(i.issuer).
		Subject(subject).
		JwtID(claims.ID).
		IssuedAt(iat).
		Expiration(exp).
		Claim(ClaimAction, string(action))
	if email != "" {
		b = b.Claim(ClaimEmail, email)
	}

	tok, err := b.Build()
	if err != nil {
		return "", nil, fmt.Errorf("build action token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", nil, fmt.Errorf("sign action token: %w", err)
	}

	return string(signed), claims, nil
}

// Verifier checks Action JWTs. It is stateless; single use is enforced by
// the caller consuming Claims.ID.
type Verifier struct {
	*codec
}

// NewVerifier creates a Verifier for tokens signed with secret.
func NewVerifier(secret []byte, issuer string, opts ...Option) (*Verifier, error) {
	c, err := newCodec(secret, issuer, opts)
	if err != nil {
		return nil, err
	}
	return &Verifier{codec: c}, nil
}

// Verify checks signature, issuer, expiry and that the token was minted
// for action.
func (v *Verifier) Verify(raw string, action Action) (*Claims, error) {
	if raw == "" {
		return nil, auth.NewError(auth.FactorActionToken, auth.KindMissingCredential, "absent")
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(0),
		jwt.WithRequiredClaim(jwt.JwtIDKey),
		jwt.WithRequiredClaim(jwt.SubjectKey),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
	)
	if err != nil {
		return nil, auth.NewErrorWithCause(auth.FactorActionToken, auth.KindInvalidCredential, classify(err), err)
	}

	claims, err := extract(tok)
	if err != nil {
		return nil, auth.NewErrorWithCause(auth.FactorActionToken, auth.KindInvalidCredential, ReasonClaims, err)
	}
	if claims.Action != action {
		return nil, auth.NewError(auth.FactorActionToken, auth.KindPolicyViolation, ReasonActionMismatch)
	}
	return claims, nil
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return ReasonExpired
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return ReasonIssuer
	case jwt.IsValidationError(err):
		return ReasonClaims
	default:
		// Parse failures and bad signatures are not distinguished by the
		// library in a stable way.
		return ReasonSignature
	}
}

func extract(tok jwt.Token) (*Claims, error) {
	c := &Claims{
		ID:        tok.JwtID(),
		Subject:   tok.Subject(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}

	act, ok := tok.Get(ClaimAction)
	if !ok {
		return nil, fmt.Errorf("missing %q claim", ClaimAction)
	}
	s, ok := act.(string)
	if !ok || s == "" {
		return nil, fmt.Errorf("invalid %q claim", ClaimAction)
	}
	c.Action = Action(s)

	if eml, ok := tok.Get(ClaimEmail); ok {
		if c.Email, ok = eml.(string); !ok {
			return nil, fmt.Errorf("invalid %q claim", ClaimEmail)
		}
	}
	return c, nil
}
