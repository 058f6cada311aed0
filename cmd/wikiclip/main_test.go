package main

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/database"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

const validConfig = `
auth:
  apiKey: ${TEST_WIKICLIP_API_KEY}
  jwtSecret: "0123456789abcdef0123456789abcdef"
redis:
  url: redis://127.0.0.1:6379/0
database:
  dsn: postgres://wikiclip@127.0.0.1:5432/wikiclip
logging:
  level: warn
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wikiclip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseFlags(t *testing.T) {
	t.Setenv("WIKICLIP_CONFIG", "/etc/wikiclip/from-env.yaml")
	t.Setenv("WIKICLIP_LOG_LEVEL", "debug")

	t.Run("env fallback", func(t *testing.T) {
		f, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
		require.NoError(t, err)
		assert.Equal(t, "/etc/wikiclip/from-env.yaml", f.configPath)
		assert.Equal(t, "debug", f.logLevel)
		assert.Empty(t, f.logFormat)
		assert.False(t, f.showVersion)
	})

	t.Run("flags win", func(t *testing.T) {
		f, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError),
			[]string{"-config", "local.yaml", "-log-format", "console", "-version", "migrate", "status"})
		require.NoError(t, err)
		assert.Equal(t, "local.yaml", f.configPath)
		assert.Equal(t, "console", f.logFormat)
		assert.True(t, f.showVersion)
		assert.Equal(t, []string{"migrate", "status"}, f.args)
	})

	t.Run("unknown flag", func(t *testing.T) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.SetOutput(&bytes.Buffer{})
		_, err := parseFlags(fs, []string{"-nope"})
		assert.Error(t, err)
	})
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_WIKICLIP_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvBool("TEST_WIKICLIP_BOOL", tt.def))
		})
	}
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "wikiclip version "+version)
	assert.Contains(t, buf.String(), "Git commit: "+gitCommit)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_WIKICLIP_API_KEY", "file-api-key-0123456789")

	t.Run("valid with overrides", func(t *testing.T) {
		cfg, err := loadConfig(context.Background(), cliFlags{
			configPath: writeConfig(t, validConfig),
			logFormat:  "console",
		})
		require.NoError(t, err)
		assert.Equal(t, "file-api-key-0123456789", cfg.Auth.APIKey)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := loadConfig(context.Background(), cliFlags{configPath: writeConfig(t, "auth:\n  apiKey: short\n")})
		assert.ErrorContains(t, err, "auth.apiKey")
	})

	t.Run("missing file uses defaults", func(t *testing.T) {
		_, err := loadConfig(context.Background(), cliFlags{configPath: filepath.Join(t.TempDir(), "absent.yaml")})
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("vault enabled but unreachable", func(t *testing.T) {
		content := validConfig + `
vault:
  enabled: true
  address: http://127.0.0.1:1
  token: t
  timeout: 1s
`
		_, err := loadConfig(context.Background(), cliFlags{configPath: writeConfig(t, content)})
		assert.ErrorContains(t, err, "vault")
	})
}

func TestInitLogger(t *testing.T) {
	t.Parallel()

	_, err := initLogger(config.LoggingConfig{Level: "info", Format: "json"})
	assert.NoError(t, err)

	_, err = initLogger(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestRunMigrate_Usage(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	logger := observability.NopLogger()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no args", args: nil, want: "usage"},
		{name: "too many", args: []string{"up", "1", "2"}, want: "usage"},
		{name: "bad count", args: []string{"up", "x"}, want: "invalid migration count"},
		{name: "negative count", args: []string{"down", "-1"}, want: "invalid migration count"},
		{name: "unknown", args: []string{"sideways"}, want: "unknown migrate command"},
		{name: "no dsn", args: []string{"status"}, want: database.ErrNoDSN.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := runMigrate(context.Background(), cfg, tt.args, &bytes.Buffer{}, logger)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printStatus(&buf, []database.MigrationStatus{
		{ID: "0001_users", Applied: true, AppliedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{ID: "0002_user_tokens"},
	})
	assert.Contains(t, buf.String(), "0001_users")
	assert.Contains(t, buf.String(), "2026-03-01T12:00:00Z")
	assert.Contains(t, buf.String(), "0002_user_tokens")
	assert.Contains(t, buf.String(), "pending")
}

func TestInitApplication_RedisUnreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.URL = "redis://127.0.0.1:1/0"
	cfg.Redis.DialTimeout = config.Duration(200 * time.Millisecond)

	app, err := initApplication(context.Background(), cfg, observability.NopLogger())
	assert.Nil(t, app)
	assert.ErrorContains(t, err, "redis")
}
