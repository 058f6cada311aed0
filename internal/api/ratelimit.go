package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const (
	// DefaultClientTTL is how long an idle client's limiter is kept.
	DefaultClientTTL = 10 * time.Minute

	cleanupInterval = time.Minute
)

type clientEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientEntry

	logger    observability.Logger
	audit     audit.Logger
	clientTTL time.Duration
	now       func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterLogger sets the logger.
func WithRateLimiterLogger(logger observability.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = logger
	}
}

// WithRateLimiterAudit records rejected requests as security events.
func WithRateLimiterAudit(l audit.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.audit = l
	}
}

// WithRateLimiterClock overrides the time source.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter creates a per-client limiter allowing rps requests per
// second with the given burst. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		limit:     limit,
		burst:     burst,
		clients:   make(map[string]*clientEntry),
		logger:    observability.NopLogger(),
		audit:     audit.NewNoopLogger(),
		clientTTL: DefaultClientTTL,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Allow reports whether clientIP may make a request now.
func (rl *RateLimiter) Allow(clientIP string) bool {
	now := rl.now()

	rl.mu.Lock()
	entry, ok := rl.clients[clientIP]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[clientIP] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	rl.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Middleware rejects over-limit clients with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if rl.Allow(ip) {
			c.Next()
			return
		}

		rl.logger.Warn("rate limit exceeded",
			observability.String("client_ip", ip),
			observability.String("path", c.Request.URL.Path))
		rl.audit.LogEvent(c.Request.Context(), audit.SecurityEvent(audit.ActionRateLimitExceeded,
			&audit.Subject{IPAddress: ip, UserAgent: c.Request.UserAgent()},
			map[string]interface{}{"path": c.FullPath()}))

		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "too many requests",
		})
	}
}

func (rl *RateLimiter) retryAfterSeconds() int {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return 1
	}
	secs := int(time.Duration(float64(time.Second) / float64(rl.limit)).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// Cleanup drops limiters idle for longer than the client TTL.
func (rl *RateLimiter) Cleanup() int {
	cutoff := rl.now().Add(-rl.clientTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, entry := range rl.clients {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("cleaned up idle rate limiter entries",
			observability.Int("removed", removed),
			observability.Int("remaining", len(rl.clients)))
	}
	return removed
}

// StartCleanup runs Cleanup periodically until Stop.
func (rl *RateLimiter) StartCleanup() {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-rl.stopCh:
				return
			}
		}
	}()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}
