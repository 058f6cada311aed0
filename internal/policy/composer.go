package policy

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/wikiclip/internal/audit"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/auth/apikey"
	"github.com/vyrodovalexey/wikiclip/internal/auth/session"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// ErrorHandler writes the response for a failed check and aborts.
type ErrorHandler func(c *gin.Context, err error)

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Composer) {
		c.logger = logger
	}
}

// WithAuditLogger sets the audit logger that receives every decision.
func WithAuditLogger(l audit.Logger) Option {
	return func(c *Composer) {
		c.audit = l
	}
}

// WithMetrics sets the decision metrics.
func WithMetrics(m *auth.Metrics) Option {
	return func(c *Composer) {
		c.metrics = m
	}
}

// WithErrorHandler sets how a failed check is answered.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Composer) {
		c.onError = h
	}
}

// Composer turns resolved policies into gin guard chains.
type Composer struct {
	table    *Table
	apiKey   apikey.Authenticator
	sessions *session.Validator

	logger  observability.Logger
	audit   audit.Logger
	metrics *auth.Metrics
	onError ErrorHandler

	// registered maps "METHOD path" to the route it was registered as.
	registered map[string]Route
}

// NewComposer creates a Composer over table.
func NewComposer(table *Table, apiKey apikey.Authenticator, sessions *session.Validator, opts ...Option) *Composer {
	c := &Composer{
		table:      table,
		apiKey:     apiKey,
		sessions:   sessions,
		logger:     observability.NopLogger(),
		audit:      audit.NewNoopLogger(),
		onError:    defaultErrorHandler,
		registered: make(map[string]Route),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = auth.NewMetrics("wikiclip", nil)
	}
	return c
}

func defaultErrorHandler(c *gin.Context, err error) {
	if auth.IsUnavailable(err) {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	c.AbortWithStatus(http.StatusUnauthorized)
}

// Table returns the composer's table.
func (c *Composer) Table() *Table {
	return c.table
}

// Chain returns the guards for a route, resolved from the table.
func (c *Composer) Chain(tree Tree, method, path string) []gin.HandlerFunc {
	p, declared := c.table.Resolve(tree, method, path)
	route := Route{Tree: tree, Method: strings.ToUpper(method), Path: path}
	if !declared {
		c.logger.Warn("route has no declared policy, applying strict default",
			observability.String("route", route.String()))
	}

	var chain []gin.HandlerFunc
	if p.RequiresAPIKey {
		chain = append(chain, c.apiKeyGuard(route))
	}
	if p.RequiresSession || p.AllowsQueryJWT {
		chain = append(chain, c.sessionGuard(route, p))
	}
	return chain
}

// Handle registers a route on group with its guards prepended.
func (c *Composer) Handle(group *gin.RouterGroup, tree Tree, method, relativePath string, handlers ...gin.HandlerFunc) {
	full := joinPaths(group.BasePath(), relativePath)
	chain := append(c.Chain(tree, method, full), handlers...)
	group.Handle(strings.ToUpper(method), relativePath, chain...)
	c.registered[strings.ToUpper(method)+" "+full] = Route{Tree: tree, Method: strings.ToUpper(method), Path: full}
}

// Audit cross-checks the engine's routes against the table. It fails if
// a route bypassed Handle, and logs routes running on the strict
// fallback and declarations no route uses.
func (c *Composer) Audit(routes gin.RoutesInfo) ([]Row, error) {
	var (
		errs []error
		rows []Row
		used = make(map[Route]bool)
	)

	for _, ri := range routes {
		r, ok := c.registered[ri.Method+" "+ri.Path]
		if !ok {
			errs = append(errs, fmt.Errorf("%s %s registered without a policy", ri.Method, ri.Path))
			continue
		}
		p, declared := c.table.Resolve(r.Tree, r.Method, r.Path)
		if !declared {
			c.logger.Warn("route uses strict fallback policy", observability.String("route", r.String()))
		}
		used[r] = true
		rows = append(rows, Row{Route: r, Policy: p})
	}

	for _, row := range c.table.Rows() {
		if row.Method != anyMethod && !used[row.Route] {
			c.logger.Warn("policy declared for a route that is not mounted",
				observability.String("route", row.Route.String()))
		}
	}

	for _, row := range rows {
		c.logger.Debug("route policy",
			observability.String("route", row.Route.String()),
			observability.String("policy", row.Policy.String()))
	}

	return rows, errors.Join(errs...)
}

func (c *Composer) apiKeyGuard(route Route) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		err := c.apiKey.Authenticate(apikey.Extract(ctx.Request))
		c.decide(ctx, route, auth.FactorAPIKey, nil, err, time.Since(start))
	}
}

// sessionGuard resolves identity. A header token wins over a query JWT,
// and a query JWT is only read when the policy allows it.
func (c *Composer) sessionGuard(route Route, p Policy) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		var (
			factor   = auth.FactorSession
			identity *auth.Identity
			err      error
		)
		token := session.ExtractToken(ctx.Request)

		switch {
		case p.RequiresSession && token != "":
			identity, err = c.sessions.ValidateToken(ctx.Request.Context(), token)
		case p.AllowsQueryJWT:
			factor = auth.FactorActionToken
			identity, err = c.sessions.ValidateActionToken(ctx.Request.Context(),
				session.ExtractActionToken(ctx.Request), p.Action)
		default:
			err = auth.NewError(auth.FactorSession, auth.KindMissingCredential, session.ReasonAbsent)
		}

		if err == nil {
			ctx.Request = ctx.Request.WithContext(auth.ContextWithIdentity(ctx.Request.Context(), identity))
		}
		c.decide(ctx, route, factor, identity, err, time.Since(start))
	}
}

// decide records the check and either continues or aborts the request.
func (c *Composer) decide(
	ctx *gin.Context, route Route, factor auth.Factor, identity *auth.Identity, err error, d time.Duration,
) {
	c.metrics.RecordDecision(factor, err, d)

	outcome, kind, reason := audit.OutcomeSuccess, "", ""
	if err != nil {
		outcome, kind, reason = audit.OutcomeDenied, string(auth.KindInvalidCredential), ""
		if ae, ok := auth.AsAuthError(err); ok {
			kind, reason = string(ae.Kind), ae.Reason
		}
		if auth.IsUnavailable(err) {
			outcome, kind = audit.OutcomeError, string(auth.KindUnavailable)
		}
	}

	subject := &audit.Subject{
		IPAddress: ctx.ClientIP(),
		UserAgent: ctx.Request.UserAgent(),
	}
	if identity != nil {
		subject.ID = identity.Subject
		subject.AuthMethod = string(identity.AuthType)
	} else if ae, ok := auth.AsAuthError(err); ok {
		subject.ID = ae.Subject
	}

	event := audit.GateEvent(outcome, string(factor), kind, reason,
		&audit.Resource{Tree: string(route.Tree), Method: route.Method, Path: route.Path}).
		WithSubject(subject).
		WithDuration(d)
	if identity != nil && identity.Action != "" {
		event.WithMetadata("action", identity.Action)
	}
	c.audit.LogEvent(ctx.Request.Context(), event)

	if err != nil {
		if outcome == audit.OutcomeError {
			c.logger.Error("credential check failed",
				observability.String("factor", string(factor)),
				observability.String("route", route.String()),
				observability.Error(err))
		}
		c.onError(ctx, err)
		return
	}
	ctx.Next()
}

func joinPaths(base, relative string) string {
	if relative == "" {
		return base
	}
	joined := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(relative, "/")
	if strings.HasSuffix(relative, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}
