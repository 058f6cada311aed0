package config

import "time"

// Policy preset names accepted in policy overrides.
const (
	PresetStrict     = "strict"
	PresetAPIKeyOnly = "apiKeyOnly"
	PresetPublic     = "public"
	PresetUnkeyed    = "unkeyed"
)

// Router tree names accepted in policy overrides.
const (
	TreeMain    = "main"
	TreeUnkeyed = "unkeyed"
)

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Mail      MailConfig      `yaml:"mail"`
	Login     LoginConfig     `yaml:"login"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Vault     VaultConfig     `yaml:"vault"`
	Policy    PolicyConfig    `yaml:"policy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes"`
	// TrustedProxies lists the proxy IPs or CIDRs whose X-Forwarded-For
	// is believed. Empty means the peer address is the client.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// AuthConfig holds the process-wide shared secrets and Action JWT
// settings.
type AuthConfig struct {
	// APIKey is the single valid X-Api-Key value for this deployment.
	APIKey string `yaml:"apiKey"`

	// JWTSecret signs and verifies Action JWTs (HS256).
	JWTSecret string `yaml:"jwtSecret"`

	// Issuer is written to and required in the iss claim.
	Issuer string `yaml:"issuer"`

	ResetTokenTTL       Duration `yaml:"resetTokenTTL"`
	EmailChangeTokenTTL Duration `yaml:"emailChangeTokenTTL"`
}

// SessionConfig bounds user token lifetimes and how long a resolved token
// may be served from cache.
type SessionConfig struct {
	TTL        Duration `yaml:"ttl"`
	UserKeyTTL Duration `yaml:"userKeyTTL"`
	CacheTTL   Duration `yaml:"cacheTTL"`
}

// RedisConfig configures the shared cache.
type RedisConfig struct {
	URL          string   `yaml:"url"`
	KeyPrefix    string   `yaml:"keyPrefix"`
	PoolSize     int      `yaml:"poolSize"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// DatabaseConfig configures the durable store.
type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime"`
	MigrateOnStart  bool     `yaml:"migrateOnStart"`
}

// MailConfig configures outbound mail. An empty Host logs messages
// instead of sending them.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BaseURL prefixes links embedded in mail, e.g. https://wikiclip.example.
	BaseURL string `yaml:"baseURL"`
}

// LoginConfig configures password login lockout.
type LoginConfig struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	Lockout     Duration `yaml:"lockout"`
}

// RateLimitConfig limits unauthenticated link initiation per client.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BreakerConfig configures the circuit breaker in front of the credential
// store.
type BreakerConfig struct {
	Threshold int      `yaml:"threshold"`
	Timeout   Duration `yaml:"timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig configures the audit trail of gate decisions and identity
// flows.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`

	// RedactFields names metadata keys whose values are replaced before
	// writing. Matching is case-insensitive and by substring.
	RedactFields []string `yaml:"redactFields"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// VaultConfig points at a KV v2 secret holding apiKey and jwtSecret.
type VaultConfig struct {
	Enabled bool     `yaml:"enabled"`
	Address string   `yaml:"address"`
	Token   string   `yaml:"token"`
	Mount   string   `yaml:"mount"`
	Path    string   `yaml:"path"`
	Timeout Duration `yaml:"timeout"`
}

// PolicyConfig carries operator overrides to the built-in route policy
// table.
type PolicyConfig struct {
	Overrides []PolicyOverride `yaml:"overrides"`
}

// PolicyOverride replaces the policy of one declared route.
type PolicyOverride struct {
	Tree   string `yaml:"tree"`
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Preset string `yaml:"preset"`
	Action string `yaml:"action,omitempty"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			Issuer:              "wikiclip",
			ResetTokenTTL:       Duration(30 * time.Minute),
			EmailChangeTokenTTL: Duration(30 * time.Minute),
		},
		Session: SessionConfig{
			TTL:        Duration(24 * time.Hour),
			UserKeyTTL: Duration(90 * 24 * time.Hour),
			CacheTTL:   Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			KeyPrefix:    "wikiclip:",
			PoolSize:     20,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(time.Second),
			WriteTimeout: Duration(time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			MigrateOnStart:  true,
		},
		Mail: MailConfig{
			Port: 587,
			From: "no-reply@wikiclip.local",
		},
		Login: LoginConfig{
			MaxAttempts: 5,
			Lockout:     Duration(60 * time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   1,
			Burst: 5,
		},
		Breaker: BreakerConfig{
			Threshold: 10,
			Timeout:   Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: AuditConfig{
			Enabled:      true,
			Output:       "stdout",
			RedactFields: []string{"password", "token", "secret", "key"},
		},
		Tracing: TracingConfig{
			SamplingRate: 0.1,
		},
		Vault: VaultConfig{
			Mount:   "secret",
			Path:    "wikiclip",
			Timeout: Duration(10 * time.Second),
		},
	}
}
