package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/runner"
	"github.com/wardenhq/warden/internal/server"
	"github.com/wardenhq/warden/internal/verifier"
)

// loadConfig resolves flag > warden.toml > defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadDefault()
}

// buildBroker constructs the credential store and seeds it from the
// configured credentials file when one exists.
func buildBroker(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*credentials.Store, error) {
	broker, err := credentials.NewStore(credentials.Options{
		Secret:  cfg.SecretKey(),
		DevMode: cfg.Security.DevMode,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	path := cfg.Security.CredentialsFile
	if path == "" {
		for _, candidate := range credentials.StandardPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := credentials.Seed(broker, path); err != nil {
			logger.Warn("credentials file not loaded", map[string]interface{}{"path": path, "error": err})
		} else {
			// Watch blocks until ctx is cancelled, so it gets its own goroutine.
			go func() {
				if err := credentials.Watch(ctx, broker, path, logger); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("credentials file watch stopped", map[string]interface{}{"path": path, "error": err})
				}
			}()
		}
	}
	return broker, nil
}

// buildGate constructs the verifier gate from config.
func buildGate(cfg *config.Config, logger *logging.Logger) *verifier.Gate {
	return verifier.NewGate(verifier.GateOptions{
		Judge: verifier.NewHTTPJudge(
			cfg.Verifier.BaseURL,
			cfg.Verifier.Model,
			cfg.JudgeAPIKey(),
			time.Duration(cfg.Verifier.TimeoutSeconds)*time.Second,
		),
		Logger:           logger,
		MaxRetries:       cfg.Verifier.MaxRetries,
		BreakerThreshold: cfg.Verifier.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Verifier.BreakerCooldownS) * time.Second,
		DevMode:          cfg.Security.DevMode,
	})
}

func (c *ServeCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Server.Listen = c.Listen
	}
	if c.Dev {
		cfg.Security.DevMode = true
	}

	logger := logging.New().WithComponent("warden")
	if os.Getenv("WARDEN_DEBUG") != "" {
		logger.SetLevel(logging.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Broker:   broker,
		Registry: runner.NewRegistry(),
		Gate:     buildGate(cfg, logger),
		Logger:   logger,
	})
	if err := srv.Listen(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
