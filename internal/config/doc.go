// Package config loads the WikiClip service configuration.
//
// Configuration is a single YAML document. Values may reference the
// environment with ${VAR} or ${VAR:-default}; "$$" escapes a literal
// dollar sign. Loading starts from DefaultConfig so a file only needs to
// carry what differs:
//
//	cfg, err := config.Load("/etc/wikiclip/config.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.Validate(cfg); err != nil {
//	    return err
//	}
//
// The loaded value is treated as immutable for the life of the process.
// Secrets (API key, JWT signing secret) may be left empty in the file and
// filled from Vault before validation.
package config
