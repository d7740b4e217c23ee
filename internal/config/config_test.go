package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
identity:
  team_id: AB12CD34EF
  key_id: XY98ZW76VU
  client_id: com.example.app
key:
  path: /keys/AuthKey.p8
`

func mustLoad(t *testing.T, yaml string) *Config {
	t.Helper()
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := mustLoad(t, validYAML)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Token.Audience != DefaultAudience {
		t.Errorf("audience = %q, want %q", cfg.Token.Audience, DefaultAudience)
	}
	if cfg.Token.Validity != MaxValidity {
		t.Errorf("validity = %s, want %s", cfg.Token.Validity, MaxValidity)
	}
	if cfg.Output.Format != "text" {
		t.Errorf("format = %q, want text", cfg.Output.Format)
	}
	if cfg.Output.EnvName != "APPLE_CLIENT_SECRET" {
		t.Errorf("env_name = %q, want APPLE_CLIENT_SECRET", cfg.Output.EnvName)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siwa-secret.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.TeamID != "AB12CD34EF" {
		t.Errorf("team_id = %q", cfg.Identity.TeamID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := LoadFromBytes([]byte("identity: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SIWA_TEAM", "AB12CD34EF")

	cfg := mustLoad(t, `
identity:
  team_id: ${TEST_SIWA_TEAM}
  key_id: XY98ZW76VU
  client_id: com.example.app
key:
  path: /keys/AuthKey.p8
`)
	if cfg.Identity.TeamID != "AB12CD34EF" {
		t.Errorf("team_id = %q, want substituted value", cfg.Identity.TeamID)
	}
}

func TestLoad_EnvSubstitutionUnsetKeepsLiteral(t *testing.T) {
	cfg := mustLoad(t, `
identity:
  team_id: ${DEFINITELY_UNSET_VAR_12345}
key:
  path: /keys/AuthKey.p8
`)
	if cfg.Identity.TeamID != "${DEFINITELY_UNSET_VAR_12345}" {
		t.Errorf("team_id = %q, want literal preserved", cfg.Identity.TeamID)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SIWA_TEAM_ID", "ZZ99YY88XX")
	t.Setenv("SIWA_VALIDITY", "720h")

	cfg := mustLoad(t, validYAML)
	if cfg.Identity.TeamID != "ZZ99YY88XX" {
		t.Errorf("team_id = %q, want env override", cfg.Identity.TeamID)
	}
	if cfg.Token.Validity != 720*time.Hour {
		t.Errorf("validity = %s, want 720h", cfg.Token.Validity)
	}
}

func TestLoad_BadEnvValidityWarns(t *testing.T) {
	t.Setenv("SIWA_VALIDITY", "six months")

	cfg := mustLoad(t, validYAML)
	if cfg.Token.Validity != MaxValidity {
		t.Errorf("validity = %s, want default", cfg.Token.Validity)
	}
	if len(cfg.Warnings) == 0 {
		t.Error("expected a warning for unparseable SIWA_VALIDITY")
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing team_id", `
identity:
  key_id: XY98ZW76VU
  client_id: com.example.app
key:
  path: /keys/AuthKey.p8
`, "team_id"},
		{"missing key_id", `
identity:
  team_id: AB12CD34EF
  client_id: com.example.app
key:
  path: /keys/AuthKey.p8
`, "key_id"},
		{"missing client_id", `
identity:
  team_id: AB12CD34EF
  key_id: XY98ZW76VU
key:
  path: /keys/AuthKey.p8
`, "client_id"},
		{"missing key path", `
identity:
  team_id: AB12CD34EF
  key_id: XY98ZW76VU
  client_id: com.example.app
`, "key.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustLoad(t, tt.yaml)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ValidityAboveMax(t *testing.T) {
	cfg := mustLoad(t, validYAML+`
token:
  validity: 5000h
`)
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for validity above 180 days")
	}
}

func TestValidate_BadFormat(t *testing.T) {
	cfg := mustLoad(t, validYAML+`
output:
  format: xml
`)
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for unknown format")
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := mustLoad(t, `
identity:
  team_id: short
  key_id: lowercase1
  client_id: no-dots-here
key:
  path: /keys/AuthKey.p8
token:
  audience: https://example.com
`)
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Warnings) != 4 {
		t.Errorf("expected 4 warnings (team, key, client, audience), got %d: %v",
			len(cfg.Warnings), cfg.Warnings)
	}
}

func TestDefault_UsesEnv(t *testing.T) {
	t.Setenv("SIWA_TEAM_ID", "AB12CD34EF")
	t.Setenv("SIWA_KEY_ID", "XY98ZW76VU")
	t.Setenv("SIWA_CLIENT_ID", "com.example.app")
	t.Setenv("SIWA_KEY_PATH", "/keys/AuthKey.p8")

	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Key.Path != "/keys/AuthKey.p8" {
		t.Errorf("key path = %q", cfg.Key.Path)
	}
}
