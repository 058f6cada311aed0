package account

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/credential"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type sentMail struct {
	to, subject, body string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *captureMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

var linkRe = regexp.MustCompile(`https?://\S+`)

func tokenFromMail(t *testing.T, m sentMail) string {
	t.Helper()
	link := linkRe.FindString(m.body)
	require.NotEmpty(t, link, "mail carries a link")
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get(auth.QueryTokenAuth)
}

type serviceHarness struct {
	svc      *Service
	users    *MemoryRepository
	tokens   *credential.MemoryRepository
	store    credential.Store
	mailer   *captureMailer
	verifier *actiontoken.Verifier
	auditBuf *bytes.Buffer
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()

	_, c := newTestCache(t)
	tokens := credential.NewMemoryRepository()
	store := credential.NewStore(c, tokens)

	issuer, err := actiontoken.NewIssuer(testSecret, "wikiclip",
		actiontoken.WithTTL(actiontoken.ActionPasswordReset, 30*time.Minute),
		actiontoken.WithTTL(actiontoken.ActionEmailChange, 30*time.Minute))
	require.NoError(t, err)
	verifier, err := actiontoken.NewVerifier(testSecret, "wikiclip")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	auditLogger, err := audit.NewLogger(config.AuditConfig{Enabled: true}, audit.WithLoggerWriter(buf))
	require.NoError(t, err)

	h := &serviceHarness{
		users:    NewMemoryRepository(),
		tokens:   tokens,
		store:    store,
		mailer:   &captureMailer{},
		verifier: verifier,
		auditBuf: buf,
	}
	h.svc = NewService(h.users, store, issuer, h.mailer, NewLockout(c, 3, time.Minute), Settings{
		SessionTTL: time.Hour,
		UserKeyTTL: 24 * time.Hour,
		BaseURL:    "https://wikiclip.test",
		BcryptCost: bcrypt.MinCost,
	}, WithAuditLogger(auditLogger))
	return h
}

func (h *serviceHarness) register(t *testing.T, email, password string) *User {
	t.Helper()
	u, err := h.svc.Register(context.Background(), email, password)
	require.NoError(t, err)
	return u
}

func (h *serviceHarness) login(t *testing.T, email, password string) *auth.Identity {
	t.Helper()
	id, _ := h.loginToken(t, email, password)
	return id
}

func (h *serviceHarness) loginToken(t *testing.T, email, password string) (*auth.Identity, string) {
	t.Helper()
	sess, err := h.svc.Login(context.Background(), email, password)
	require.NoError(t, err)
	id, err := h.store.LookupToken(context.Background(), sess.Token)
	require.NoError(t, err)
	return id, sess.Token
}

func (h *serviceHarness) actionIdentity(t *testing.T, raw string, action actiontoken.Action) *auth.Identity {
	t.Helper()
	claims, err := h.verifier.Verify(raw, action)
	require.NoError(t, err)
	return claims.Identity()
}

func TestService_Register(t *testing.T) {
	h := newServiceHarness(t)

	u := h.register(t, " Alice@Example.com", "Correct1horse")
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "Correct1horse", u.PasswordHash)

	_, err := h.svc.Register(context.Background(), "alice@example.com", "Correct1horse")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = h.svc.Register(context.Background(), "bob@example.com", "weak")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = h.svc.Register(context.Background(), "not an email", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	assert.NotContains(t, h.auditBuf.String(), "Correct1horse")
}

func TestService_LoginAndLogout(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	sess, err := h.svc.Login(ctx, "ALICE@example.com", "Correct1horse")
	require.NoError(t, err)
	assert.Equal(t, string(credential.KindSession), sess.Kind)
	assert.NotEmpty(t, sess.Token)

	id, err := h.store.LookupToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, id.Subject)

	require.NoError(t, h.svc.Logout(ctx, id))
	_, err = h.store.LookupToken(ctx, sess.Token)
	assert.ErrorIs(t, err, credential.ErrTokenNotFound)
}

func TestService_LoginFailures(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	_, err := h.svc.Login(ctx, "nobody@example.com", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = h.svc.Login(ctx, "bad address", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	_, err = h.svc.Login(ctx, "alice@example.com", "Wrong1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	assert.Contains(t, h.auditBuf.String(), `"action":"login_failed"`)
}

func TestService_LoginLockout(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.Login(ctx, "alice@example.com", "Wrong1horse")
		require.ErrorIs(t, err, ErrInvalidLogin)
	}

	// Locked: even the right password is refused.
	_, err := h.svc.Login(ctx, "alice@example.com", "Correct1horse")
	require.ErrorIs(t, err, ErrLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Positive(t, locked.RetryAfter)
	assert.Contains(t, h.auditBuf.String(), `"action":"lockout"`)
}

func TestService_LoginResetsCounter(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			_, err := h.svc.Login(ctx, "alice@example.com", "Wrong1horse")
			require.ErrorIs(t, err, ErrInvalidLogin)
		}
		_, err := h.svc.Login(ctx, "alice@example.com", "Correct1horse")
		require.NoError(t, err, "round %d", round)
	}
}

func TestService_ChangePassword(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	current, currentToken := h.loginToken(t, "alice@example.com", "Correct1horse")
	_, otherToken := h.loginToken(t, "alice@example.com", "Correct1horse")

	err := h.svc.ChangePassword(ctx, current, "Wrong1horse", "Battery2staple")
	assert.ErrorIs(t, err, ErrInvalidLogin)

	err = h.svc.ChangePassword(ctx, current, "Correct1horse", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	require.NoError(t, h.svc.ChangePassword(ctx, current, "Correct1horse", "Battery2staple"))

	_, err = h.store.LookupToken(ctx, otherToken)
	assert.ErrorIs(t, err, credential.ErrTokenNotFound, "other sessions revoked")
	_, err = h.store.LookupToken(ctx, currentToken)
	assert.NoError(t, err, "presented session kept")

	_, err = h.svc.Login(ctx, "alice@example.com", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	h.login(t, "alice@example.com", "Battery2staple")
}

func TestService_UserKeys(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()
	id := h.login(t, "alice@example.com", "Correct1horse")

	key, err := h.svc.IssueUserKey(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(credential.KindUserKey), key.Kind)

	keyID, err := h.store.LookupToken(ctx, key.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.AuthTypeUserKey, keyID.AuthType)

	n, err := h.svc.RevokeAllTokens(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = h.store.LookupToken(ctx, key.Token)
	assert.ErrorIs(t, err, credential.ErrTokenNotFound)
}

func TestService_PasswordResetFlow(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()
	_, before := h.loginToken(t, "alice@example.com", "Correct1horse")

	require.NoError(t, h.svc.RequestPasswordReset(ctx, "Alice@Example.com"))
	mail := h.mailer.last(t)
	assert.Equal(t, "alice@example.com", mail.to)
	assert.Contains(t, mail.body, "https://wikiclip.test/reset-password?x-token-auth=")

	id := h.actionIdentity(t, tokenFromMail(t, mail), actiontoken.ActionPasswordReset)
	generated, err := h.svc.ResetPassword(ctx, id, "Battery2staple")
	require.NoError(t, err)
	assert.False(t, generated)

	_, err = h.store.LookupToken(ctx, before)
	assert.ErrorIs(t, err, credential.ErrTokenNotFound, "sessions revoked by reset")
	_, err = h.svc.Login(ctx, "alice@example.com", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	h.login(t, "alice@example.com", "Battery2staple")

	assert.NotContains(t, h.auditBuf.String(), "Battery2staple")
}

func TestService_PasswordResetGenerated(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()

	require.NoError(t, h.svc.RequestPasswordReset(ctx, "alice@example.com"))
	id := h.actionIdentity(t, tokenFromMail(t, h.mailer.last(t)), actiontoken.ActionPasswordReset)

	generated, err := h.svc.ResetPassword(ctx, id, "")
	require.NoError(t, err)
	assert.True(t, generated)

	mail := h.mailer.last(t)
	assert.Equal(t, "Your new password", mail.subject)
	password := regexp.MustCompile(`(?m)^[A-Za-z0-9]{16}$`).FindString(mail.body)
	require.NotEmpty(t, password)
	h.login(t, "alice@example.com", password)
}

func TestService_PasswordResetUnknownEmail(t *testing.T) {
	h := newServiceHarness(t)

	require.NoError(t, h.svc.RequestPasswordReset(context.Background(), "ghost@example.com"))
	require.NoError(t, h.svc.RequestPasswordReset(context.Background(), "not an email"))
	assert.Empty(t, h.mailer.sent)
	assert.Contains(t, h.auditBuf.String(), `"reason":"unknown_email"`)
}

func TestService_PasswordResetMailFailure(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	h.mailer.err = errors.New("relay down")

	err := h.svc.RequestPasswordReset(context.Background(), "alice@example.com")
	assert.ErrorContains(t, err, "relay down")
}

func TestService_ResetPasswordWeak(t *testing.T) {
	h := newServiceHarness(t)
	u := h.register(t, "alice@example.com", "Correct1horse")

	id := &auth.Identity{Subject: u.ID, AuthType: auth.AuthTypeAction, Action: string(actiontoken.ActionPasswordReset)}
	_, err := h.svc.ResetPassword(context.Background(), id, "weak")
	assert.ErrorIs(t, err, ErrWeakPassword)
	h.login(t, "alice@example.com", "Correct1horse")
}

func TestService_EmailChangeFlow(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	h.register(t, "bob@example.com", "Correct1horse")
	ctx := context.Background()
	id, token := h.loginToken(t, "alice@example.com", "Correct1horse")

	err := h.svc.RequestEmailChange(ctx, id, "bob@example.com")
	assert.ErrorIs(t, err, ErrEmailTaken)

	require.NoError(t, h.svc.RequestEmailChange(ctx, id, "Alice.New@Example.com"))
	mail := h.mailer.last(t)
	assert.Equal(t, "alice.new@example.com", mail.to)
	assert.Contains(t, mail.body, "https://wikiclip.test/confirm-email?x-token-auth=")

	user, err := h.svc.Me(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email, "unchanged until confirmed")
	assert.Equal(t, "alice.new@example.com", user.PendingEmail)

	action := h.actionIdentity(t, tokenFromMail(t, mail), actiontoken.ActionEmailChange)
	user, err = h.svc.ConfirmEmailChange(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, "alice.new@example.com", user.Email)
	assert.Empty(t, user.PendingEmail)

	_, err = h.store.LookupToken(ctx, token)
	assert.ErrorIs(t, err, credential.ErrTokenNotFound, "sessions revoked by email change")
	_, err = h.svc.Login(ctx, "alice@example.com", "Correct1horse")
	assert.ErrorIs(t, err, ErrInvalidLogin)
	h.login(t, "alice.new@example.com", "Correct1horse")

	_, err = h.svc.ConfirmEmailChange(ctx, action)
	assert.ErrorIs(t, err, ErrNoPendingEmail)
}

func TestService_ConfirmEmailChangeSuperseded(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	ctx := context.Background()
	id := h.login(t, "alice@example.com", "Correct1horse")

	require.NoError(t, h.svc.RequestEmailChange(ctx, id, "first@example.com"))
	first := h.actionIdentity(t, tokenFromMail(t, h.mailer.last(t)), actiontoken.ActionEmailChange)
	require.NoError(t, h.svc.RequestEmailChange(ctx, id, "second@example.com"))

	_, err := h.svc.ConfirmEmailChange(ctx, first)
	assert.ErrorIs(t, err, ErrNoPendingEmail)

	_, err = h.svc.ConfirmEmailChange(ctx, &auth.Identity{Subject: id.Subject})
	assert.ErrorIs(t, err, ErrNoPendingEmail)
}

func TestService_StoreUnavailable(t *testing.T) {
	h := newServiceHarness(t)
	h.register(t, "alice@example.com", "Correct1horse")
	h.tokens.SetError(errors.New("db down"))

	_, err := h.svc.Login(context.Background(), "alice@example.com", "Correct1horse")
	assert.ErrorIs(t, err, auth.ErrUnavailable)
}
