package config

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Secret length floors. HS256 keys shorter than the hash output weaken the
// MAC.
const (
	MinAPIKeyLength    = 16
	MinJWTSecretLength = 32
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(path, format string, args ...interface{}) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks cfg and returns ValidationErrors listing every problem
// found, or nil.
func Validate(cfg *Config) error {
	v := &validator{}
	if cfg == nil {
		v.add("", "configuration is nil")
		return v.errs
	}

	v.validateServer(&cfg.Server)
	v.validateAuth(&cfg.Auth)
	v.validateSession(&cfg.Session)
	v.validateStores(cfg)
	v.validateLimits(cfg)
	v.validateLogging(&cfg.Logging)
	if cfg.Audit.Enabled && cfg.Audit.Output == "" {
		v.add("audit.output", "is required when audit is enabled")
	}
	v.validateVault(&cfg.Vault)
	v.validatePolicy(&cfg.Policy)

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.add("server.address", "is required")
	}
	if s.ShutdownTimeout < 0 {
		v.add("server.shutdownTimeout", "must not be negative")
	}
	if s.MaxBodyBytes <= 0 {
		v.add("server.maxBodyBytes", "must be positive")
	}
	for i, proxy := range s.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			v.add(fmt.Sprintf("server.trustedProxies[%d]", i), "%q is not an IP or CIDR", proxy)
		}
	}
}

func (v *validator) validateAuth(a *AuthConfig) {
	if len(a.APIKey) < MinAPIKeyLength {
		v.add("auth.apiKey", "must be at least %d characters", MinAPIKeyLength)
	}
	if len(a.JWTSecret) < MinJWTSecretLength {
		v.add("auth.jwtSecret", "must be at least %d bytes", MinJWTSecretLength)
	}
	if a.APIKey != "" && a.APIKey == a.JWTSecret {
		v.add("auth.jwtSecret", "must differ from auth.apiKey")
	}
	if a.Issuer == "" {
		v.add("auth.issuer", "is required")
	}
	if a.ResetTokenTTL < 0 {
		v.add("auth.resetTokenTTL", "must not be negative")
	}
	if a.EmailChangeTokenTTL < 0 {
		v.add("auth.emailChangeTokenTTL", "must not be negative")
	}
}

func (v *validator) validateSession(s *SessionConfig) {
	if s.TTL <= 0 {
		v.add("session.ttl", "must be positive")
	}
	if s.UserKeyTTL <= 0 {
		v.add("session.userKeyTTL", "must be positive")
	}
	if s.CacheTTL <= 0 {
		v.add("session.cacheTTL", "must be positive")
	}
}

func (v *validator) validateStores(cfg *Config) {
	if cfg.Redis.URL == "" {
		v.add("redis.url", "is required")
	}
	if cfg.Database.DSN == "" {
		v.add("database.dsn", "is required")
	}
	if cfg.Mail.Host != "" && cfg.Mail.BaseURL == "" {
		v.add("mail.baseURL", "is required when mail.host is set")
	}
}

func (v *validator) validateLimits(cfg *Config) {
	if cfg.Login.MaxAttempts <= 0 {
		v.add("login.maxAttempts", "must be positive")
	}
	if cfg.Login.Lockout <= 0 {
		v.add("login.lockout", "must be positive")
	}
	if cfg.RateLimit.RPS <= 0 {
		v.add("rateLimit.rps", "must be positive")
	}
	if cfg.RateLimit.Burst <= 0 {
		v.add("rateLimit.burst", "must be positive")
	}
	if cfg.Breaker.Threshold <= 0 {
		v.add("breaker.threshold", "must be positive")
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		v.add("tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *validator) validateLogging(l *LoggingConfig) {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		v.add("logging.level", "unknown level %q", l.Level)
	}
	switch l.Format {
	case "", "json", "console":
	default:
		v.add("logging.format", "unknown format %q", l.Format)
	}
}

func (v *validator) validateVault(vc *VaultConfig) {
	if !vc.Enabled {
		return
	}
	if vc.Address == "" {
		v.add("vault.address", "is required when vault is enabled")
	}
	if vc.Mount == "" || vc.Path == "" {
		v.add("vault.path", "mount and path are required when vault is enabled")
	}
}

func (v *validator) validatePolicy(p *PolicyConfig) {
	for i, o := range p.Overrides {
		path := fmt.Sprintf("policy.overrides[%d]", i)

		if o.Tree != TreeMain && o.Tree != TreeUnkeyed {
			v.add(path+".tree", "must be %q or %q", TreeMain, TreeUnkeyed)
		}
		if !validMethod(o.Method) {
			v.add(path+".method", "unknown HTTP method %q", o.Method)
		}
		if !strings.HasPrefix(o.Path, "/") {
			v.add(path+".path", "must start with /")
		}

		switch o.Preset {
		case PresetStrict, PresetAPIKeyOnly, PresetPublic:
			if o.Action != "" {
				v.add(path+".action", "only valid with preset %q", PresetUnkeyed)
			}
		case PresetUnkeyed:
			if o.Action == "" {
				v.add(path+".action", "is required with preset %q", PresetUnkeyed)
			}
			if o.Tree == TreeMain {
				v.add(path+".preset", "%q is only allowed on the %s tree", PresetUnkeyed, TreeUnkeyed)
			}
		default:
			v.add(path+".preset", "unknown preset %q", o.Preset)
		}
	}
}

func validMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
