// Package main is the entry point for the WikiClip gate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/wikiclip/internal/config"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
	"github.com/vyrodovalexey/wikiclip/internal/secrets"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
	args        []string
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(context.Background(), flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wikiclip: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(flags.args) > 0 && flags.args[0] == "migrate" {
		if err := runMigrate(context.Background(), cfg, flags.args[1:], os.Stdout, logger); err != nil {
			fatalWithSync(logger, "migration failed", observability.Error(err))
		}
		return
	}
	if len(flags.args) > 0 {
		fatalWithSync(logger, "unknown command", observability.String("command", flags.args[0]))
	}

	logger.Info("starting wikiclip",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	app, err := initApplication(context.Background(), cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize", observability.Error(err))
	}

	runServer(app, logger)
}

// parseFlags parses command line flags. Every flag falls back to a
// WIKICLIP_* environment variable.
func parseFlags(fs *flag.FlagSet, args []string) (cliFlags, error) {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("WIKICLIP_CONFIG", "configs/wikiclip.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("WIKICLIP_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("WIKICLIP_LOG_FORMAT", ""),
		"Log format (json, console); overrides the config file")
	fs.BoolVar(&f.showVersion, "version", getEnvBool("WIKICLIP_VERSION", false), "Show version information")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	f.args = fs.Args()
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "wikiclip version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig loads the file, overlays Vault secrets and flag overrides,
// and validates the result.
func loadConfig(ctx context.Context, flags cliFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	if err := secrets.Apply(ctx, cfg, nil); err != nil {
		return nil, fmt.Errorf("load secrets from vault: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger initializes the process logger.
func initLogger(cfg config.LoggingConfig) (observability.Logger, error) {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
	})
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	os.Exit(1)
}
