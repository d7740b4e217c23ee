// Package main is the entry point for the Sign in with Apple client-secret
// generator. It loads configuration, reads the EC P-256 signing key, signs
// the ES256 client-secret JWT, and renders it to stdout or a file. With
// -watch it keeps the rendered secret current as the key file changes.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dskow/siwa-secret/internal/config"
	"github.com/dskow/siwa-secret/internal/keyfile"
	"github.com/dskow/siwa-secret/internal/render"
	"github.com/dskow/siwa-secret/internal/secret"
	"github.com/dskow/siwa-secret/internal/watch"
)

// Exit codes. 0 is success; anything non-zero is fatal per the one-shot
// contract of the tool.
const (
	exitConfig  = 1 // configuration or usage error
	exitKey     = 2 // key file missing, unreadable, or malformed
	exitSigning = 3 // cryptographic signing or verification failure
)

const defaultConfigPath = "configs/siwa-secret.yaml"

func main() {
	var (
		flagConfig   = flag.String("config", "", "path to configuration file (default: "+defaultConfigPath+" if present)")
		flagEnvFile  = flag.String("env-file", ".env", "path to .env file (ignored if missing)")
		flagTeamID   = flag.String("team-id", "", "Apple developer team ID (issuer)")
		flagKeyID    = flag.String("key-id", "", "Apple key ID (JWT kid header)")
		flagClientID = flag.String("client-id", "", "Services ID (subject)")
		flagKey      = flag.String("key", "", "path to the PEM-encoded EC P-256 private key (.p8)")
		flagAudience = flag.String("audience", "", "token audience (default "+config.DefaultAudience+")")
		flagValidity = flag.Duration("validity", 0, "token lifetime, at most 4320h (default 4320h = 180 days)")
		flagFormat   = flag.String("format", "", "output format: text, env, or json (default text)")
		flagEnvName  = flag.String("env-name", "", "variable name for env format (default APPLE_CLIENT_SECRET)")
		flagOut      = flag.String("out", "", "write output to this file instead of stdout")
		flagVerify   = flag.Bool("verify", false, "verify the signed secret against the public key before rendering")
		flagWatch    = flag.Bool("watch", false, "keep running and regenerate when the key or config file changes (requires -out)")
	)
	flag.Parse()

	// Logs go to stderr; stdout carries only the rendered secret so the
	// output can be piped.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	configPath := *flagConfig
	if configPath == "" && fileExists(defaultConfigPath) {
		configPath = defaultConfigPath
	}

	// Flag values win over env and file; applied after every (re)load.
	overrides := func(cfg *config.Config) {
		if *flagTeamID != "" {
			cfg.Identity.TeamID = *flagTeamID
		}
		if *flagKeyID != "" {
			cfg.Identity.KeyID = *flagKeyID
		}
		if *flagClientID != "" {
			cfg.Identity.ClientID = *flagClientID
		}
		if *flagKey != "" {
			cfg.Key.Path = *flagKey
		}
		if *flagAudience != "" {
			cfg.Token.Audience = *flagAudience
		}
		if *flagValidity != 0 {
			cfg.Token.Validity = *flagValidity
		}
		if *flagFormat != "" {
			cfg.Output.Format = *flagFormat
		}
		if *flagEnvName != "" {
			cfg.Output.EnvName = *flagEnvName
		}
		if *flagOut != "" {
			cfg.Output.File = *flagOut
		}
	}

	app := &app{
		logger:     logger,
		configPath: configPath,
		overrides:  overrides,
		verify:     *flagVerify,
	}

	cfg, err := app.loadConfig()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(exitConfig)
	}

	if *flagWatch && cfg.Output.File == "" {
		logger.Error("-watch requires -out (or output.file): stdout cannot be rewritten")
		os.Exit(exitConfig)
	}

	if err := app.generate(cfg); err != nil {
		logger.Error("failed to generate client secret", "error", err)
		os.Exit(exitCode(err))
	}

	if !*flagWatch {
		return
	}

	app.runWatch(cfg)
}

type app struct {
	logger     *slog.Logger
	configPath string
	overrides  func(*config.Config)
	verify     bool
}

// loadConfig builds the fully-layered configuration: file (optional), SIWA_*
// env, flag overrides, then validation. Warnings are logged, not fatal.
func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	a.overrides(cfg)

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	for _, w := range cfg.Warnings {
		a.logger.Warn("config warning", "message", w)
	}
	return cfg, nil
}

// generate runs one load-sign-render cycle. Nothing is written to the
// destination until signing (and optional verification) succeeded.
func (a *app) generate(cfg *config.Config) error {
	key, err := keyfile.Load(cfg.Key.Path)
	if err != nil {
		return err
	}

	req := secret.Request{
		TeamID:   cfg.Identity.TeamID,
		KeyID:    cfg.Identity.KeyID,
		ClientID: cfg.Identity.ClientID,
		Audience: cfg.Token.Audience,
		Validity: cfg.Token.Validity,
	}

	sec, err := secret.Generate(req, key)
	if err != nil {
		return err
	}

	if a.verify {
		if _, err := secret.Verify(sec.Token, &key.PublicKey, req); err != nil {
			return fmt.Errorf("%w: %v", secret.ErrSigning, err)
		}
		a.logger.Info("client secret verified against public key")
	}

	var buf bytes.Buffer
	if err := render.Write(&buf, cfg.Output.Format, cfg.Output.EnvName, sec); err != nil {
		return err
	}

	if cfg.Output.File != "" {
		if err := writeFileAtomic(cfg.Output.File, buf.Bytes()); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		a.logger.Info("client secret written",
			"file", cfg.Output.File,
			"format", cfg.Output.Format,
			"expires", sec.ExpiresAt.UTC().Format(time.RFC3339),
		)
		return nil
	}

	if _, err := os.Stdout.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	a.logger.Info("client secret generated",
		"format", cfg.Output.Format,
		"expires", sec.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return nil
}

// watchPaths returns the files watch mode observes for the given key path.
func (a *app) watchPaths(keyPath string) []string {
	paths := []string{keyPath}
	if a.configPath != "" {
		paths = append(paths, a.configPath)
	}
	return paths
}

// runWatch regenerates the rendered secret whenever the key file (or the
// config file, when one is in use) changes, until SIGINT/SIGTERM.
func (a *app) runWatch(initial *config.Config) {
	var watcher *watch.Watcher
	keyPath := initial.Key.Path

	regenerate := func() {
		cfg, err := a.loadConfig()
		if err != nil {
			a.logger.Error("regeneration skipped: invalid config, keeping last output", "error", err)
			return
		}
		if err := a.generate(cfg); err != nil {
			a.logger.Error("regeneration failed, keeping last output", "error", err)
			return
		}
		a.logger.Info("client secret regenerated")

		// A config reload may move the key file; follow it.
		if cfg.Key.Path != keyPath {
			if err := watcher.SetPaths(a.watchPaths(cfg.Key.Path)); err != nil {
				a.logger.Error("failed to watch new key file", "path", cfg.Key.Path, "error", err)
				return
			}
			keyPath = cfg.Key.Path
		}
	}

	watcher = watch.New(a.watchPaths(keyPath), regenerate, a.logger)
	if err := watcher.Start(); err != nil {
		a.logger.Error("failed to start file watcher", "error", err)
		os.Exit(exitConfig)
	}
	defer watcher.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	a.logger.Info("shutdown signal received", "signal", sig.String())
}

// exitCode maps an error to the process exit code via the error taxonomy.
func exitCode(err error) int {
	switch {
	case errors.Is(err, keyfile.ErrKeyLoad), errors.Is(err, keyfile.ErrKeyFormat):
		return exitKey
	case errors.Is(err, secret.ErrSigning):
		return exitSigning
	default:
		return exitConfig
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// writeFileAtomic writes data via a temp file and rename, so a consumer
// reading the output mid-rewrite never observes a truncated secret and a
// failed write leaves the previous output intact. Secrets are owner-only.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
