package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/credential"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// Link paths on the unkeyed tree that emailed Action JWTs point to.
const (
	ResetPasswordPath = "/reset-password"
	ConfirmEmailPath  = "/confirm-email"
)

// LockedError is returned by Login while the account is locked.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s for %s", ErrLocked, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrLocked) match.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// Settings holds the flow parameters taken from configuration.
type Settings struct {
	SessionTTL time.Duration
	UserKeyTTL time.Duration

	// BaseURL prefixes links in mail.
	BaseURL string

	// BcryptCost of zero uses bcrypt.DefaultCost.
	BcryptCost int
}

// Session is an issued session token or user key.
type Session struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditLogger sets the audit logger for account events.
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service runs the identity flows.
type Service struct {
	users    UserRepository
	store    credential.Store
	issuer   *actiontoken.Issuer
	mailer   Mailer
	lockout  *Lockout
	settings Settings

	logger observability.Logger
	audit  audit.Logger
	now    func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service.
func NewService(
	users UserRepository,
	store credential.Store,
	issuer *actiontoken.Issuer,
	mailer Mailer,
	lockout *Lockout,
	settings Settings,
	opts ...Option,
) *Service {
	s := &Service{
		users:    users,
		store:    store,
		issuer:   issuer,
		mailer:   mailer,
		lockout:  lockout,
		settings: settings,
		logger:   observability.NopLogger(),
		audit:    audit.NewNoopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) record(ctx context.Context, action audit.Action, outcome audit.Outcome, subject *audit.Subject, reason string) {
	e := audit.AccountEvent(action, outcome, subject)
	e.Reason = reason
	s.audit.LogEvent(ctx, e)
}

func identitySubject(id *auth.Identity) *audit.Subject {
	return &audit.Subject{ID: id.Subject, Email: id.Email, AuthMethod: string(id.AuthType)}
}

// Register creates a user.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, s.settings.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.record(ctx, audit.ActionRegister, audit.OutcomeFailure, &audit.Subject{Email: email}, "email_taken")
		}
		return nil, err
	}

	s.record(ctx, audit.ActionRegister, audit.OutcomeSuccess, &audit.Subject{ID: u.ID, Email: email}, "")
	return u, nil
}

// Login checks a password and issues a session token. A locked account
// is refused before the password is checked.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidLogin
	}
	subject := &audit.Subject{Email: email, AuthMethod: "password"}

	remaining, err := s.lockout.Locked(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrUnavailable, err)
	}
	if remaining > 0 {
		s.record(ctx, audit.ActionLoginFailed, audit.OutcomeDenied, subject, "locked")
		return nil, &LockedError{RetryAfter: remaining}
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		// Spend the same bcrypt time as a wrong password.
		CheckPassword(s.dummy(), password)
		return nil, s.loginFailed(ctx, email, subject)
	case err != nil:
		return nil, err
	}
	subject.ID = u.ID

	if !CheckPassword(u.PasswordHash, password) {
		return nil, s.loginFailed(ctx, email, subject)
	}

	if err := s.lockout.Reset(ctx, email); err != nil {
		s.logger.Warn("failed to clear login failures", observability.Error(err))
	}

	token, rec, err := s.store.IssueToken(ctx, u.ID, u.Email, credential.KindSession, s.settings.SessionTTL)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionLogin, audit.OutcomeSuccess, subject, "")
	return &Session{Token: token, UserID: u.ID, Kind: string(rec.Kind), ExpiresAt: rec.ExpiresAt}, nil
}

func (s *Service) loginFailed(ctx context.Context, email string, subject *audit.Subject) error {
	s.record(ctx, audit.ActionLoginFailed, audit.OutcomeFailure, subject, "bad_credentials")

	locked, err := s.lockout.Fail(ctx, email)
	if err != nil {
		s.logger.Warn("failed to count login failure", observability.Error(err))
		return ErrInvalidLogin
	}
	if locked {
		s.audit.LogEvent(ctx, audit.SecurityEvent(audit.ActionLockout, subject, nil))
	}
	return ErrInvalidLogin
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword(uuid.NewString(), s.settings.BcryptCost)
	})
	return s.dummyHash
}

// Logout revokes the credential the request was made with.
func (s *Service) Logout(ctx context.Context, id *auth.Identity) error {
	if err := s.store.RevokeToken(ctx, id.TokenID); err != nil {
		return err
	}
	s.record(ctx, audit.ActionLogout, audit.OutcomeSuccess, identitySubject(id), "")
	return nil
}

// Me returns the user behind id.
func (s *Service) Me(ctx context.Context, id *auth.Identity) (*User, error) {
	return s.users.GetUserByID(ctx, id.Subject)
}

// ChangePassword replaces the password after checking the current one,
// then revokes every other token of the user.
func (s *Service) ChangePassword(ctx context.Context, id *auth.Identity, current, next string) error {
	u, err := s.users.GetUserByID(ctx, id.Subject)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, current) {
		s.record(ctx, audit.ActionPasswordChange, audit.OutcomeFailure, identitySubject(id), "bad_credentials")
		return ErrInvalidLogin
	}
	if err := s.setPassword(ctx, u.ID, next); err != nil {
		return err
	}

	revoked, err := s.store.RevokeUserTokens(ctx, u.ID, id.TokenID)
	if err != nil {
		return err
	}
	s.audit.LogEvent(ctx, audit.AccountEvent(audit.ActionPasswordChange, audit.OutcomeSuccess, identitySubject(id)).
		WithMetadata("revoked", revoked))
	return nil
}

func (s *Service) setPassword(ctx context.Context, userID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password, s.settings.BcryptCost)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash, s.now().UTC())
}

// IssueUserKey issues a long-lived key presented as X-User-Key.
func (s *Service) IssueUserKey(ctx context.Context, id *auth.Identity) (*Session, error) {
	u, err := s.users.GetUserByID(ctx, id.Subject)
	if err != nil {
		return nil, err
	}
	token, rec, err := s.store.IssueToken(ctx, u.ID, u.Email, credential.KindUserKey, s.settings.UserKeyTTL)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.ActionUserKeyIssued, audit.OutcomeSuccess, identitySubject(id), "")
	return &Session{Token: token, UserID: u.ID, Kind: string(rec.Kind), ExpiresAt: rec.ExpiresAt}, nil
}

// RevokeAllTokens revokes every session and key of the user, including
// the one presented.
func (s *Service) RevokeAllTokens(ctx context.Context, id *auth.Identity) (int, error) {
	n, err := s.store.RevokeUserTokens(ctx, id.Subject, "")
	if err != nil {
		return 0, err
	}
	s.audit.LogEvent(ctx, audit.AccountEvent(audit.ActionTokensRevoked, audit.OutcomeSuccess, identitySubject(id)).
		WithMetadata("revoked", n))
	return n, nil
}

// RequestPasswordReset mails a reset link if email belongs to a user. An
// unknown address is not an error, so callers cannot probe accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil
	}
	subject := &audit.Subject{Email: email}

	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.record(ctx, audit.ActionPasswordResetRequest, audit.OutcomeFailure, subject, "unknown_email")
		return nil
	}
	if err != nil {
		return err
	}
	subject.ID = u.ID

	raw, _, err := s.issuer.Issue(u.ID, actiontoken.ActionPasswordReset, "")
	if err != nil {
		return err
	}
	body := "A password reset was requested for your account.\n\n" +
		"Open this link to reset it. It works once.\n\n" +
		ActionLink(s.settings.BaseURL, ResetPasswordPath, raw) + "\n\n" +
		"If you did not ask for this, ignore this message.\n"
	if err := s.mailer.Send(ctx, u.Email, "Reset your password", body); err != nil {
		s.record(ctx, audit.ActionPasswordResetRequest, audit.OutcomeError, subject, "mail")
		return fmt.Errorf("send reset mail: %w", err)
	}

	s.record(ctx, audit.ActionPasswordResetRequest, audit.OutcomeSuccess, subject, "")
	return nil
}

// ResetPassword sets a new password for the user of a consumed reset
// token. An empty password generates one and mails it to the user. All of
// the user's tokens are revoked.
func (s *Service) ResetPassword(ctx context.Context, id *auth.Identity, password string) (generated bool, err error) {
	u, err := s.users.GetUserByID(ctx, id.Subject)
	if err != nil {
		return false, err
	}

	if password == "" {
		if password, err = GeneratePassword(); err != nil {
			return false, err
		}
		generated = true
	}
	if err := s.setPassword(ctx, u.ID, password); err != nil {
		s.record(ctx, audit.ActionPasswordReset, audit.OutcomeFailure, identitySubject(id), "weak_password")
		return false, err
	}

	if _, err := s.store.RevokeUserTokens(ctx, u.ID, ""); err != nil {
		return false, err
	}

	if generated {
		body := "Your password was reset. Your temporary password is:\n\n" + password +
			"\n\nSign in and change it.\n"
		if err := s.mailer.Send(ctx, u.Email, "Your new password", body); err != nil {
			s.record(ctx, audit.ActionPasswordReset, audit.OutcomeError, identitySubject(id), "mail")
			return true, fmt.Errorf("send password mail: %w", err)
		}
	}

	s.audit.LogEvent(ctx, audit.AccountEvent(audit.ActionPasswordReset, audit.OutcomeSuccess, identitySubject(id)).
		WithMetadata("generated", generated))
	return generated, nil
}

// RequestEmailChange records newEmail as pending and mails a confirmation
// link to it.
func (s *Service) RequestEmailChange(ctx context.Context, id *auth.Identity, newEmail string) error {
	newEmail, err := NormalizeEmail(newEmail)
	if err != nil {
		return err
	}
	if err := s.users.SetPendingEmail(ctx, id.Subject, newEmail, s.now().UTC()); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.record(ctx, audit.ActionEmailChangeRequest, audit.OutcomeFailure, identitySubject(id), "email_taken")
		}
		return err
	}

	raw, _, err := s.issuer.Issue(id.Subject, actiontoken.ActionEmailChange, newEmail)
	if err != nil {
		return err
	}
	body := "Confirm this address for your account by opening the link below. It works once.\n\n" +
		ActionLink(s.settings.BaseURL, ConfirmEmailPath, raw) + "\n"
	if err := s.mailer.Send(ctx, newEmail, "Confirm your new email address", body); err != nil {
		return fmt.Errorf("send confirmation mail: %w", err)
	}

	s.audit.LogEvent(ctx, audit.AccountEvent(audit.ActionEmailChangeRequest, audit.OutcomeSuccess, identitySubject(id)).
		WithMetadata("new_email", newEmail))
	return nil
}

// ConfirmEmailChange applies the address carried by a consumed
// email-change token and revokes the user's tokens.
func (s *Service) ConfirmEmailChange(ctx context.Context, id *auth.Identity) (*User, error) {
	email := id.Claim(actiontoken.ClaimEmail)
	if email == "" {
		return nil, ErrNoPendingEmail
	}
	if err := s.users.ConfirmEmail(ctx, id.Subject, email, s.now().UTC()); err != nil {
		reason := "not_pending"
		if errors.Is(err, ErrEmailTaken) {
			reason = "email_taken"
		}
		s.record(ctx, audit.ActionEmailChange, audit.OutcomeFailure, identitySubject(id), reason)
		return nil, err
	}
	if _, err := s.store.RevokeUserTokens(ctx, id.Subject, ""); err != nil {
		return nil, err
	}

	s.audit.LogEvent(ctx, audit.AccountEvent(audit.ActionEmailChange, audit.OutcomeSuccess, identitySubject(id)).
		WithMetadata("new_email", email))
	return s.users.GetUserByID(ctx, id.Subject)
}
