// Package secrets overlays deployment secrets read from a HashiCorp Vault
// KV v2 engine onto the loaded configuration.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

// Keys read from the secret. Absent keys leave the configured value.
const (
	KeyAPIKey       = "apiKey"
	KeyJWTSecret    = "jwtSecret"
	KeyDatabaseDSN  = "databaseDSN"
	KeyMailPassword = "mailPassword"
)

var (
	// ErrSecretNotFound is returned when the path holds no live secret.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrNotConfigured is returned for an incomplete vault section.
	ErrNotConfigured = errors.New("vault not configured")
)

// VaultProvider reads one KV v2 secret.
type VaultProvider struct {
	api    *vaultapi.Client
	mount  string
	path   string
	logger observability.Logger
}

// NewVaultProvider creates a provider with token authentication.
func NewVaultProvider(cfg config.VaultConfig, logger observability.Logger) (*VaultProvider, error) {
	if cfg.Address == "" || cfg.Token == "" || cfg.Path == "" {
		return nil, fmt.Errorf("%w: address, token and path are required", ErrNotConfigured)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout.Duration()
	}

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	api.SetToken(cfg.Token)

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	return &VaultProvider{
		api:    api,
		mount:  mount,
		path:   cfg.Path,
		logger: logger.With(observability.String("component", "vault")),
	}, nil
}

// Read returns the secret's key/value data.
func (p *VaultProvider) Read(ctx context.Context) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s", p.mount, p.path)

	secret, err := p.api.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}

	// KV v2 nests the values under "data"; a soft-deleted secret has
	// data: null.
	raw, ok := secret.Data["data"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, fullPath)
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("read %s: unexpected data type %T", fullPath, raw)
	}

	p.logger.Debug("secret read", observability.String("path", fullPath))
	return data, nil
}

// Apply overlays the secret onto cfg. Vault values win over file and
// environment values. It is a no-op when vault is disabled.
func Apply(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	if !cfg.Vault.Enabled {
		return nil
	}

	p, err := NewVaultProvider(cfg.Vault, logger)
	if err != nil {
		return err
	}

	timeout := cfg.Vault.Timeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := p.Read(ctx)
	if err != nil {
		return err
	}
	return overlay(cfg, data, p.logger)
}

func overlay(cfg *config.Config, data map[string]interface{}, logger observability.Logger) error {
	targets := map[string]*string{
		KeyAPIKey:       &cfg.Auth.APIKey,
		KeyJWTSecret:    &cfg.Auth.JWTSecret,
		KeyDatabaseDSN:  &cfg.Database.DSN,
		KeyMailPassword: &cfg.Mail.Password,
	}

	for key, dst := range targets {
		v, ok := data[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("vault key %q: expected string, got %T", key, v)
		}
		if s == "" {
			continue
		}
		*dst = s
		logger.Info("configuration value loaded from vault", observability.String("key", key))
	}
	return nil
}
