package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/wikiclip/internal/account"
	"github.com/vyrodovalexey/wikiclip/internal/api"
	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/auth/apikey"
	"github.com/vyrodovalexey/wikiclip/internal/auth/session"
	"github.com/vyrodovalexey/wikiclip/internal/cache"
	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/credential"
	"github.com/vyrodovalexey/wikiclip/internal/database"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
	"github.com/vyrodovalexey/wikiclip/internal/policy"
	"github.com/vyrodovalexey/wikiclip/internal/server"
)

const serviceName = "wikiclip"

// application holds the components that need shutting down.
type application struct {
	config      *config.Config
	server      *server.Server
	tracer      *observability.Tracer
	cache       *cache.RedisCache
	db          *sql.DB
	auditLogger audit.Logger
	limiter     *api.RateLimiter
}

// initApplication builds every component from cfg. On error, whatever
// was already opened is closed.
func initApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) (app *application, err error) {
	app = &application{config: cfg}
	defer func() {
		if err != nil {
			app.close(logger)
			app = nil
		}
	}()

	metrics := observability.NewMetrics(serviceName)
	metrics.SetBuildInfo(version, gitCommit)
	cache.GetMetrics().MustRegister(metrics.Registry())

	app.tracer, err = observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return app, fmt.Errorf("init tracer: %w", err)
	}

	app.cache, err = cache.NewRedis(cfg.Redis, logger.Named("cache"))
	if err != nil {
		return app, err
	}

	app.db, err = database.Open(ctx, cfg.Database, logger.Named("database"))
	if err != nil {
		return app, err
	}
	if cfg.Database.MigrateOnStart {
		if _, err = database.Migrate(app.db, database.Up, 0, logger.Named("migrate")); err != nil {
			return app, err
		}
	}

	store := credential.NewStore(app.cache, credential.NewPostgresRepository(app.db),
		credential.WithLogger(logger.Named("credential")),
		credential.WithCacheTTL(cfg.Session.CacheTTL.Duration()),
		credential.WithBreaker(credential.NewBreaker("credential-store",
			cfg.Breaker.Threshold, cfg.Breaker.Timeout.Duration(), logger)),
		credential.WithRegisterer(metrics.Registry()),
	)

	auditMetrics := audit.NewMetrics(serviceName, metrics.Registry())
	auditMetrics.Init()
	app.auditLogger, err = audit.NewLogger(cfg.Audit,
		audit.WithLoggerLogger(logger.Named("audit")),
		audit.WithLoggerMetrics(auditMetrics),
		audit.WithSink(account.NewAuthLogSink(app.db)),
	)
	if err != nil {
		return app, fmt.Errorf("init audit logger: %w", err)
	}

	composer, err := buildComposer(cfg, store, app.auditLogger, metrics, logger)
	if err != nil {
		return app, err
	}

	issuer, err := actiontoken.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer,
		actiontoken.WithTTL(actiontoken.ActionPasswordReset, cfg.Auth.ResetTokenTTL.Duration()),
		actiontoken.WithTTL(actiontoken.ActionEmailChange, cfg.Auth.EmailChangeTokenTTL.Duration()))
	if err != nil {
		return app, fmt.Errorf("init action token issuer: %w", err)
	}

	accounts := account.NewService(
		account.NewPostgresRepository(app.db),
		store,
		issuer,
		account.NewMailer(cfg.Mail, logger.Named("mail")),
		account.NewLockout(app.cache, cfg.Login.MaxAttempts, cfg.Login.Lockout.Duration()),
		account.Settings{
			SessionTTL: cfg.Session.TTL.Duration(),
			UserKeyTTL: cfg.Session.UserKeyTTL.Duration(),
			BaseURL:    cfg.Mail.BaseURL,
		},
		account.WithLogger(logger.Named("account")),
		account.WithAuditLogger(app.auditLogger),
	)

	app.limiter = api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst,
		api.WithRateLimiterLogger(logger.Named("ratelimit")),
		api.WithRateLimiterAudit(app.auditLogger))
	app.limiter.StartCleanup()

	app.server = server.New(cfg.Server, logger,
		server.WithMetrics(metrics),
		server.WithServiceName(serviceName))

	db := app.db
	routes := api.New(accounts, composer,
		api.WithLogger(logger.Named("api")),
		api.WithVersion(version),
		api.WithMetricsHandler(metrics.Handler()),
		api.WithRateLimiter(app.limiter),
		api.WithHealthCheck("redis", app.cache.Ping),
		api.WithHealthCheck("database", db.PingContext),
	)
	if err = routes.Mount(app.server.Engine()); err != nil {
		return app, err
	}

	return app, nil
}

// buildComposer declares the route policy table and wires the gate.
func buildComposer(
	cfg *config.Config,
	store credential.Store,
	auditLogger audit.Logger,
	metrics *observability.Metrics,
	logger observability.Logger,
) (*policy.Composer, error) {
	table, err := api.PolicyTable(cfg.Policy.Overrides)
	if err != nil {
		return nil, fmt.Errorf("route policy: %w", err)
	}

	key, err := apikey.New(cfg.Auth.APIKey)
	if err != nil {
		return nil, fmt.Errorf("init api key: %w", err)
	}

	verifier, err := actiontoken.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("init action token verifier: %w", err)
	}

	authMetrics := auth.NewMetrics(serviceName, metrics.Registry())
	authMetrics.Init()

	return policy.NewComposer(table, key, session.New(store, store, verifier),
		policy.WithLogger(logger.Named("policy")),
		policy.WithAuditLogger(auditLogger),
		policy.WithMetrics(authMetrics),
		policy.WithErrorHandler(api.AbortAuth),
	), nil
}

// close releases what initApplication opened, in reverse order.
func (a *application) close(logger observability.Logger) {
	var errs []error
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.auditLogger != nil {
		errs = append(errs, a.auditLogger.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("failed to release resources", observability.Error(err))
	}
}
