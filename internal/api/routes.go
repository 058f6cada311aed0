// Package api declares the WikiClip routes, their access policies and
// their handlers.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/wikiclip/internal/account"
	"github.com/vyrodovalexey/wikiclip/internal/auth/actiontoken"
	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
	"github.com/vyrodovalexey/wikiclip/internal/policy"
)

// Route paths.
const (
	PathMeta               = "/_meta"
	PathHealth             = "/health"
	PathMetrics            = "/metrics"
	PathRegister           = "/register"
	PathToken              = "/token"
	PathLogout             = "/logout"
	PathMe                 = "/users/me"
	PathPassword           = "/users/me/password"
	PathKeys               = "/users/me/keys"
	PathEmailChangeRequest = "/users/email-change-request"
	PathForgotPassword     = "/forgot-password"
	PathResetPassword      = account.ResetPasswordPath
	PathConfirmEmail       = account.ConfirmEmailPath
)

type declaration struct {
	tree   policy.Tree
	method string
	path   string
	policy policy.Policy
}

// declarations is the route policy table. Anything not listed here is
// strict on either tree.
var declarations = []declaration{
	{policy.TreeMain, http.MethodGet, PathMeta, policy.Public()},
	{policy.TreeMain, http.MethodGet, PathHealth, policy.Public()},
	{policy.TreeMain, http.MethodGet, PathMetrics, policy.Public()},

	{policy.TreeMain, http.MethodPost, PathRegister, policy.APIKeyOnly()},
	{policy.TreeMain, http.MethodPost, PathToken, policy.APIKeyOnly()},

	{policy.TreeMain, http.MethodPost, PathLogout, policy.Strict()},
	{policy.TreeMain, http.MethodGet, PathMe, policy.Strict()},
	{policy.TreeMain, http.MethodPost, PathPassword, policy.Strict()},
	{policy.TreeMain, http.MethodPost, PathKeys, policy.Strict()},
	{policy.TreeMain, http.MethodDelete, PathKeys, policy.Strict()},
	{policy.TreeMain, http.MethodPost, PathEmailChangeRequest, policy.Strict()},

	{policy.TreeUnkeyed, http.MethodPost, PathForgotPassword, policy.Public()},
	{policy.TreeUnkeyed, http.MethodGet, PathResetPassword, policy.Unkeyed(actiontoken.ActionPasswordReset)},
	{policy.TreeUnkeyed, http.MethodPost, PathResetPassword, policy.Unkeyed(actiontoken.ActionPasswordReset)},
	{policy.TreeUnkeyed, http.MethodGet, PathConfirmEmail, policy.Unkeyed(actiontoken.ActionEmailChange)},
}

// PolicyTable builds the declared table, applies the configured
// overrides and validates the result.
func PolicyTable(overrides []config.PolicyOverride) (*policy.Table, error) {
	t := policy.NewTable()
	for _, d := range declarations {
		if err := t.Declare(d.tree, d.method, d.path, d.policy); err != nil {
			return nil, fmt.Errorf("declare %s %s: %w", d.method, d.path, err)
		}
	}
	if err := t.ApplyOverrides(overrides); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := checkIdentityGuards(t); err != nil {
		return nil, err
	}
	return t, nil
}

// checkIdentityGuards rejects overrides that leave a handler reading the
// request identity without the guard that attaches it. Declared session
// routes must keep the session; declared action routes must keep the
// query JWT for the same action.
func checkIdentityGuards(t *policy.Table) error {
	for _, d := range declarations {
		p, _ := t.Resolve(d.tree, d.method, d.path)
		if d.policy.RequiresSession && !p.RequiresSession {
			return fmt.Errorf("override of %s %s drops the session its handler requires", d.method, d.path)
		}
		if d.policy.AllowsQueryJWT && (!p.AllowsQueryJWT || p.Action != d.policy.Action) {
			return fmt.Errorf("override of %s %s must keep the %s action token", d.method, d.path, d.policy.Action)
		}
	}
	return nil
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithVersion sets the version reported by /_meta.
func WithVersion(version string) Option {
	return func(a *API) {
		a.version = version
	}
}

// WithHealthCheck adds a dependency check reported by /_meta.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(a *API) {
		a.checks[name] = check
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) {
		a.metricsHandler = h
	}
}

// WithRateLimiter limits /forgot-password per client.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(a *API) {
		a.limiter = rl
	}
}

// API holds the handlers' dependencies.
type API struct {
	accounts *account.Service
	composer *policy.Composer

	name           string
	version        string
	checks         map[string]HealthCheck
	metricsHandler http.Handler
	limiter        *RateLimiter
	logger         observability.Logger
}

// New creates an API.
func New(accounts *account.Service, composer *policy.Composer, opts ...Option) *API {
	a := &API{
		accounts: accounts,
		composer: composer,
		name:     "wikiclip",
		version:  "dev",
		checks:   make(map[string]HealthCheck),
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mount registers every route on engine through the composer and audits
// the result. Both trees share the root; the unkeyed tree is its own
// group so its middleware never reaches the main routes.
func (a *API) Mount(engine *gin.Engine) error {
	c := a.composer

	keyed := engine.Group("/")
	c.Handle(keyed, policy.TreeMain, http.MethodGet, PathMeta, a.meta)
	c.Handle(keyed, policy.TreeMain, http.MethodGet, PathHealth, a.health)
	if a.metricsHandler != nil {
		c.Handle(keyed, policy.TreeMain, http.MethodGet, PathMetrics, gin.WrapH(a.metricsHandler))
	}

	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathRegister, a.register)
	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathToken, a.token)

	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathLogout, a.logout)
	c.Handle(keyed, policy.TreeMain, http.MethodGet, PathMe, a.me)
	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathPassword, a.changePassword)
	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathKeys, a.issueUserKey)
	c.Handle(keyed, policy.TreeMain, http.MethodDelete, PathKeys, a.revokeTokens)
	c.Handle(keyed, policy.TreeMain, http.MethodPost, PathEmailChangeRequest, a.requestEmailChange)

	unkeyed := engine.Group("/")
	forgot := []gin.HandlerFunc{a.forgotPassword}
	if a.limiter != nil {
		forgot = append([]gin.HandlerFunc{a.limiter.Middleware()}, forgot...)
	}
	c.Handle(unkeyed, policy.TreeUnkeyed, http.MethodPost, PathForgotPassword, forgot...)
	c.Handle(unkeyed, policy.TreeUnkeyed, http.MethodGet, PathResetPassword, a.resetPassword)
	c.Handle(unkeyed, policy.TreeUnkeyed, http.MethodPost, PathResetPassword, a.resetPassword)
	c.Handle(unkeyed, policy.TreeUnkeyed, http.MethodGet, PathConfirmEmail, a.confirmEmail)

	rows, err := c.Audit(engine.Routes())
	if err != nil {
		return fmt.Errorf("route policy audit: %w", err)
	}
	a.logger.Info("routes mounted", observability.Int("routes", len(rows)))
	return nil
}
