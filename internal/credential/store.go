package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/cache"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const (
	tracerName = "wikiclip/credential"

	tokenKeyPrefix    = "token:"
	consumedKeyPrefix = "action:consumed:"

	// consumedMarkerGrace keeps a consumption marker alive past the
	// token's own expiry so clock skew between replicas cannot reopen it.
	consumedMarkerGrace = time.Minute

	defaultCacheTTL = 5 * time.Minute
)

// Option configures the store.
type Option func(*store)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *store) {
		s.logger = logger
	}
}

// WithBreaker guards repository calls with b.
func WithBreaker(b *Breaker) Option {
	return func(s *store) {
		s.breaker = b
	}
}

// WithCacheTTL bounds how long a resolved token is served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *store) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithRegisterer registers store metrics with registerer.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(s *store) {
		s.registerer = registerer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *store) {
		s.now = now
	}
}

type store struct {
	cache      cache.Cache
	repo       Repository
	breaker    *Breaker
	logger     observability.Logger
	cacheTTL   time.Duration
	now        func() time.Time
	registerer prometheus.Registerer
	ops        *prometheus.CounterVec
	tracer     trace.Tracer
}

var _ Store = (*store)(nil)

// NewStore creates a Store backed by c and repo.
func NewStore(c cache.Cache, repo Repository, opts ...Option) Store {
	s := &store{
		cache:    c,
		repo:     repo,
		logger:   observability.NopLogger(),
		cacheTTL: defaultCacheTTL,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wikiclip",
			Subsystem: "credential_store",
			Name:      "operations_total",
			Help:      "Credential store operations by result",
		},
		[]string{"op", "result"},
	)
	if s.registerer != nil {
		s.registerer.MustRegister(s.ops)
	}
	if s.breaker == nil {
		s.breaker = NewBreaker("credential-store", 10, 30*time.Second, s.logger)
	}

	return s
}

func tokenKey(tokenID string) string    { return tokenKeyPrefix + tokenID }
func consumedKey(tokenID string) string { return consumedKeyPrefix + tokenID }

func (s *store) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "credential."+op, trace.WithSpanKind(trace.SpanKindInternal))
}

func (s *store) record(span trace.Span, op, result string, err error) {
	s.ops.WithLabelValues(op, result).Inc()
	span.SetAttributes(attribute.String("credential.result", result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
}

// unavailable classifies a backend error. Cancellation passes through
// unchanged so callers can tell a departed client from an outage.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", auth.ErrUnavailable, op, err)
}

// LookupToken resolves token through the cache, falling back to the
// repository. A cache failure degrades to the repository; only a
// repository failure makes the lookup unavailable.
func (s *store) LookupToken(ctx context.Context, token string) (*auth.Identity, error) {
	ctx, span := s.span(ctx, "LookupToken")
	defer span.End()

	if token == "" {
		s.record(span, "lookup", "miss", nil)
		return nil, ErrTokenNotFound
	}
	tokenID := HashToken(token)
	now := s.now()

	raw, err := s.cache.Get(ctx, tokenKey(tokenID))
	switch {
	case err == nil:
		var rec Record
		if jerr := json.Unmarshal(raw, &rec); jerr == nil && rec.TokenID == tokenID {
			if now.Before(rec.ExpiresAt) {
				s.record(span, "lookup", "cache_hit", nil)
				return rec.Identity(), nil
			}
			_ = s.cache.Delete(ctx, tokenKey(tokenID))
			s.record(span, "lookup", "expired", nil)
			return nil, ErrTokenNotFound
		}
		s.logger.Warn("discarding malformed credential cache entry")
		_ = s.cache.Delete(ctx, tokenKey(tokenID))
	case errors.Is(err, cache.ErrCacheMiss):
	case ctx.Err() != nil:
		s.record(span, "lookup", "cancelled", ctx.Err())
		return nil, ctx.Err()
	default:
		s.logger.Warn("credential cache unavailable, reading durable store",
			observability.Error(err))
	}

	var rec *Record
	err = s.breaker.Do(ctx, func() error {
		var ferr error
		rec, ferr = s.repo.FindActiveToken(ctx, tokenID, now)
		return ferr
	})
	switch {
	case errors.Is(err, ErrTokenNotFound):
		s.record(span, "lookup", "miss", nil)
		return nil, ErrTokenNotFound
	case err != nil:
		s.record(span, "lookup", "error", err)
		return nil, unavailable("lookup", err)
	}

	s.fill(ctx, rec, now)
	s.record(span, "lookup", "store_hit", nil)
	return rec.Identity(), nil
}

// fill caches rec for min(cacheTTL, remaining lifetime). Failures are
// logged and otherwise ignored.
func (s *store) fill(ctx context.Context, rec *Record, now time.Time) {
	ttl := rec.ExpiresAt.Sub(now)
	if ttl > s.cacheTTL {
		ttl = s.cacheTTL
	}
	if ttl <= 0 {
		return
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, tokenKey(rec.TokenID), raw, ttl); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to cache resolved credential", observability.Error(err))
	}
}

// ConsumeActionToken records the first use of an Action JWT ID.
func (s *store) ConsumeActionToken(ctx context.Context, tokenID string, expiresAt time.Time) (ConsumeResult, error) {
	ctx, span := s.span(ctx, "ConsumeActionToken")
	defer span.End()

	now := s.now()
	if tokenID == "" || !now.Before(expiresAt) {
		s.record(span, "consume", ConsumeExpired.String(), nil)
		return ConsumeExpired, nil
	}

	ttl := expiresAt.Sub(now) + consumedMarkerGrace
	ok, err := s.cache.SetNX(ctx, consumedKey(tokenID), []byte(strconv.FormatInt(now.Unix(), 10)), ttl)
	if err != nil {
		s.record(span, "consume", "error", err)
		return 0, unavailable("consume", err)
	}
	if !ok {
		s.record(span, "consume", ConsumeAlreadyConsumed.String(), nil)
		return ConsumeAlreadyConsumed, nil
	}

	s.record(span, "consume", ConsumeOK.String(), nil)
	return ConsumeOK, nil
}

// IssueToken creates a token, persists its record and warms the cache.
func (s *store) IssueToken(
	ctx context.Context, userID, email string, kind TokenKind, ttl time.Duration,
) (string, *Record, error) {
	ctx, span := s.span(ctx, "IssueToken")
	defer span.End()

	if ttl <= 0 {
		return "", nil, fmt.Errorf("issue token: ttl must be positive, got %s", ttl)
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	rec := &Record{
		TokenID:   HashToken(token),
		UserID:    userID,
		Email:     email,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	err = s.breaker.Do(ctx, func() error {
		return s.repo.InsertToken(ctx, rec)
	})
	if err != nil {
		s.record(span, "issue", "error", err)
		return "", nil, unavailable("issue", err)
	}

	s.fill(ctx, rec, now)
	s.record(span, "issue", "ok", nil)
	return token, rec, nil
}

// RevokeToken revokes tokenID in the repository and then evicts it from
// the cache. Failing to evict is reported since the token would otherwise
// stay usable for up to the cache TTL.
func (s *store) RevokeToken(ctx context.Context, tokenID string) error {
	ctx, span := s.span(ctx, "RevokeToken")
	defer span.End()

	err := s.breaker.Do(ctx, func() error {
		return s.repo.RevokeToken(ctx, tokenID, s.now())
	})
	if err != nil {
		s.record(span, "revoke", "error", err)
		return unavailable("revoke", err)
	}

	if err := s.cache.Delete(ctx, tokenKey(tokenID)); err != nil {
		s.record(span, "revoke", "error", err)
		return unavailable("revoke evict", err)
	}

	s.record(span, "revoke", "ok", nil)
	return nil
}

// RevokeUserTokens revokes a user's tokens and evicts each from the cache.
func (s *store) RevokeUserTokens(ctx context.Context, userID, exceptTokenID string) (int, error) {
	ctx, span := s.span(ctx, "RevokeUserTokens")
	defer span.End()

	var ids []string
	err := s.breaker.Do(ctx, func() error {
		var rerr error
		ids, rerr = s.repo.RevokeUserTokens(ctx, userID, exceptTokenID, s.now())
		return rerr
	})
	if err != nil {
		s.record(span, "revoke_user", "error", err)
		return 0, unavailable("revoke user", err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = tokenKey(id)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.record(span, "revoke_user", "error", err)
		return 0, unavailable("revoke user evict", err)
	}

	s.record(span, "revoke_user", "ok", nil)
	return len(ids), nil
}

// Ping checks the cache and the repository.
func (s *store) Ping(ctx context.Context) error {
	var errs []error
	if err := s.cache.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := s.repo.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("durable store: %w", err))
	}
	return errors.Join(errs...)
}
