// Package config provides YAML configuration loading with validation,
// environment variable substitution, and SIWA_* environment overrides for
// the client-secret generator.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dskow/siwa-secret/internal/secret"
)

// MaxValidity is the longest client-secret lifetime Apple accepts.
const MaxValidity = secret.MaxValidity

// DefaultAudience is the token audience Apple's token endpoint expects.
const DefaultAudience = "https://appleid.apple.com"

// Config is the top-level generator configuration.
type Config struct {
	Identity IdentityConfig `yaml:"identity" json:"identity"`
	Key      KeyConfig      `yaml:"key" json:"key"`
	Token    TokenConfig    `yaml:"token" json:"token"`
	Output   OutputConfig   `yaml:"output" json:"output"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the watch goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// IdentityConfig holds the Apple developer identifiers embedded in the token.
type IdentityConfig struct {
	TeamID   string `yaml:"team_id" json:"team_id"`     // JWT "iss"
	KeyID    string `yaml:"key_id" json:"key_id"`       // JWT header "kid"
	ClientID string `yaml:"client_id" json:"client_id"` // JWT "sub" (Services ID)
}

// KeyConfig holds the signing key location.
type KeyConfig struct {
	Path string `yaml:"path" json:"path"` // PEM-encoded EC P-256 private key (.p8)
}

// TokenConfig holds claim settings.
type TokenConfig struct {
	Audience string        `yaml:"audience" json:"audience"`
	Validity time.Duration `yaml:"validity" json:"validity"` // capped at MaxValidity
}

// OutputConfig holds rendering settings.
type OutputConfig struct {
	Format  string `yaml:"format" json:"format"`     // "text", "env", or "json"
	EnvName string `yaml:"env_name" json:"env_name"` // variable name for "env" format
	File    string `yaml:"file" json:"file"`         // output file; empty means stdout
}

// ValidFormats are the accepted output format strings.
var ValidFormats = map[string]bool{
	"text": true,
	"env":  true,
	"json": true,
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution and SIWA_* overrides, and sets defaults. Validation
// is a separate step (Validate) so callers can layer flag overrides first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns a configuration built from SIWA_* environment variables
// and defaults alone, for runs without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnv overlays SIWA_* environment variables onto cfg. Environment wins
// over file values; flags are layered on top by the caller.
func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Identity.TeamID, "SIWA_TEAM_ID")
	setString(&cfg.Identity.KeyID, "SIWA_KEY_ID")
	setString(&cfg.Identity.ClientID, "SIWA_CLIENT_ID")
	setString(&cfg.Key.Path, "SIWA_KEY_PATH")
	setString(&cfg.Token.Audience, "SIWA_AUDIENCE")
	setString(&cfg.Output.Format, "SIWA_OUTPUT_FORMAT")

	if v := strings.TrimSpace(os.Getenv("SIWA_VALIDITY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Token.Validity = d
		} else {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("SIWA_VALIDITY %q is not a valid duration, ignored", v))
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Token.Audience == "" {
		cfg.Token.Audience = DefaultAudience
	}
	if cfg.Token.Validity == 0 {
		cfg.Token.Validity = MaxValidity
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "text"
	}
	if cfg.Output.EnvName == "" {
		cfg.Output.EnvName = "APPLE_CLIENT_SECRET"
	}
}

// Validate checks the fully-layered configuration and appends non-fatal
// findings to cfg.Warnings. Called after flag overrides have been applied.
func Validate(cfg *Config) error {
	if cfg.Identity.TeamID == "" {
		return fmt.Errorf("identity.team_id is required (flag -team-id or SIWA_TEAM_ID)")
	}
	if cfg.Identity.KeyID == "" {
		return fmt.Errorf("identity.key_id is required (flag -key-id or SIWA_KEY_ID)")
	}
	if cfg.Identity.ClientID == "" {
		return fmt.Errorf("identity.client_id is required (flag -client-id or SIWA_CLIENT_ID)")
	}
	if cfg.Key.Path == "" {
		return fmt.Errorf("key.path is required (flag -key or SIWA_KEY_PATH)")
	}
	if cfg.Token.Validity <= 0 {
		return fmt.Errorf("token.validity must be positive, got %s", cfg.Token.Validity)
	}
	if cfg.Token.Validity > MaxValidity {
		return fmt.Errorf("token.validity %s exceeds the %s maximum Apple accepts",
			cfg.Token.Validity, MaxValidity)
	}
	if !ValidFormats[cfg.Output.Format] {
		return fmt.Errorf("output.format must be one of text, env, json; got %q", cfg.Output.Format)
	}

	cfg.Warnings = append(cfg.Warnings, collectWarnings(cfg)...)
	return nil
}

var appleIDRe = regexp.MustCompile(`^[A-Z0-9]{10}$`)

// collectWarnings flags values that are accepted but look wrong. Apple team
// and key identifiers are 10 uppercase alphanumerics; Services IDs are
// reverse-DNS strings.
func collectWarnings(cfg *Config) []string {
	var warnings []string

	if !appleIDRe.MatchString(cfg.Identity.TeamID) {
		warnings = append(warnings,
			fmt.Sprintf("identity.team_id %q does not look like an Apple team ID (10 uppercase alphanumerics)", cfg.Identity.TeamID))
	}
	if !appleIDRe.MatchString(cfg.Identity.KeyID) {
		warnings = append(warnings,
			fmt.Sprintf("identity.key_id %q does not look like an Apple key ID (10 uppercase alphanumerics)", cfg.Identity.KeyID))
	}
	if !strings.Contains(cfg.Identity.ClientID, ".") {
		warnings = append(warnings,
			fmt.Sprintf("identity.client_id %q does not look like a reverse-DNS Services ID", cfg.Identity.ClientID))
	}
	if cfg.Token.Audience != DefaultAudience {
		warnings = append(warnings,
			fmt.Sprintf("token.audience %q differs from %s; Apple will reject the secret", cfg.Token.Audience, DefaultAudience))
	}

	return warnings
}
