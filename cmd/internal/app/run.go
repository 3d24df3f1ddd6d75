package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads ./.env (or the given files) into the process environment.
// Variables already set win; a missing file is not an error.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Bootstrap loads the environment, config and logger and initialises Sentry.
// Callers should defer FlushSentry.
func Bootstrap() (Config, Logger, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, nil, err
	}
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, nil, err
	}
	log := NewLogger(os.Stdout, cfg.LogLevel, cfg.Env)
	slog.SetDefault(log)

	if err := InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		log.Warn("sentry.init.fail", "err", err)
	}
	return cfg, log, nil
}

// Run is the `gatehouse serve` entrypoint.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg, log, err := Bootstrap()
	if err != nil {
		return err
	}
	defer FlushSentry()

	hasher, err := ValidateSecurityConfig(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log, Deps{Hasher: hasher})
	if err != nil {
		return err
	}

	return a.Run(ctx)
}
