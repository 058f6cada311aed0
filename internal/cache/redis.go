package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const (
	tracerName       = "wikiclip/cache"
	defaultKeyPrefix = "wikiclip:"
	pingTimeout      = 5 * time.Second
)

// RedisCache implements Cache on a single Redis endpoint.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    observability.Logger
	metrics   *Metrics
}

var _ Cache = (*RedisCache)(nil)

// NewRedis connects to the Redis server described by cfg and verifies
// the connection.
func NewRedis(cfg config.RedisConfig, logger observability.Logger) (*RedisCache, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout.Duration()
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout.Duration()
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout.Duration()
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	c := NewRedisFromClient(client, cfg.KeyPrefix, logger)
	logger.Info("redis cache initialized",
		observability.String("addr", opts.Addr),
		observability.Int("db", opts.DB),
		observability.String("keyPrefix", c.keyPrefix))
	return c, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, keyPrefix string, logger observability.Logger) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
		metrics:   GetMetrics(),
	}
}

func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// start opens a span and returns a finish func that records duration,
// error status and error count. Keys are not recorded on spans because
// they can be derived from credentials.
func (c *RedisCache) start(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", "redis")),
	)
	began := time.Now()

	return ctx, func(err error) {
		c.metrics.operationDuration.WithLabelValues(op).Observe(time.Since(began).Seconds())
		if err != nil && !errors.Is(err, ErrCacheMiss) {
			c.metrics.errorsTotal.WithLabelValues(op).Inc()
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
		span.End()
	}
}

// Get retrieves a value from the cache.
func (c *RedisCache) Get(ctx context.Context, key string) (val []byte, err error) {
	ctx, finish := c.start(ctx, "get")
	defer func() { finish(err) }()

	val, err = c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == nil:
		c.metrics.hitsTotal.Inc()
		return val, nil
	case errors.Is(err, redis.Nil):
		c.metrics.missesTotal.Inc()
		return nil, ErrCacheMiss
	default:
		c.logger.Warn("redis get failed", observability.Error(err))
		return nil, err
	}
}

// Set stores a value in the cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	ctx, finish := c.start(ctx, "set")
	defer func() { finish(err) }()

	if err = c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", observability.Error(err))
	}
	return err
}

// SetNX stores value only if key does not exist.
func (c *RedisCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error) {
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	ctx, finish := c.start(ctx, "setnx")
	defer func() { finish(err) }()

	ok, err = c.client.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		c.logger.Warn("redis setnx failed", observability.Error(err))
	}
	return ok, err
}

// Incr increments a counter and arms its expiry whenever the key has
// none, so a counter never outlives ttl even if an earlier EXPIRE was lost.
func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (n int64, err error) {
	ctx, finish := c.start(ctx, "incr")
	defer func() { finish(err) }()

	full := c.key(key)
	var incr *redis.IntCmd
	var pttl *redis.DurationCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, full)
		pttl = pipe.PTTL(ctx, full)
		return nil
	})
	if err != nil {
		c.logger.Warn("redis incr failed", observability.Error(err))
		return 0, err
	}
	n = incr.Val()
	if ttl > 0 && pttl.Val() < 0 {
		if err = c.client.PExpire(ctx, full, ttl).Err(); err != nil {
			c.logger.Warn("redis expire failed", observability.Error(err))
			return 0, err
		}
	}
	return n, nil
}

// TTL returns the remaining lifetime of key.
func (c *RedisCache) TTL(ctx context.Context, key string) (d time.Duration, err error) {
	ctx, finish := c.start(ctx, "ttl")
	defer func() { finish(err) }()

	d, err = c.client.PTTL(ctx, c.key(key)).Result()
	if err != nil {
		return 0, err
	}
	// go-redis passes the sentinel replies through unscaled: -2 means
	// absent, -1 means no expiry.
	if d == -2 {
		return 0, ErrCacheMiss
	}
	return d, nil
}

// Delete removes keys from the cache.
func (c *RedisCache) Delete(ctx context.Context, keys ...string) (err error) {
	if len(keys) == 0 {
		return nil
	}
	ctx, finish := c.start(ctx, "delete")
	defer func() { finish(err) }()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err = c.client.Del(ctx, full...).Err(); err != nil {
		c.logger.Warn("redis delete failed", observability.Error(err))
	}
	return err
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
