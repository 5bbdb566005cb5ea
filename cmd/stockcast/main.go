package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stockcast/internal/application"
	"stockcast/internal/authz"
	"stockcast/internal/bus"
	"stockcast/internal/config"
	"stockcast/internal/domain"
	"stockcast/internal/feedback"
	"stockcast/internal/health"
	"stockcast/internal/persistence/postgres"
	"stockcast/internal/telemetry"
)

var (
	configPath string
	actorID    string
	actorRole  string
)

func main() {
	root := &cobra.Command{
		Use:   "stockcast",
		Short: "Inventory forecast and order-recommendation core",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&actorID, "actor", "", "acting user identity")
	root.PersistentFlags().StringVar(&actorRole, "role", "READONLY", "acting user role (OWNER|FINANCE|OPS|READONLY)")

	root.AddCommand(
		serveCmd(),
		forecastCmd(),
		approveCmd(),
		rejectCmd(),
		feedbackCmd(),
		accuracyCmd(),
		recommendCmd(),
		auditCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func actor() authz.Actor {
	return authz.Actor{ID: actorID, Role: authz.Role(strings.ToUpper(actorRole))}
}

// buildService assembles the full core against Postgres and optional
// Redis.
func buildService(ctx context.Context) (*application.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.Log)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("%v: %w", err, domain.ErrDependencyUnavailable)
	}
	repo := postgres.NewRepository(db, cfg.Database.QueryTimeout)

	var warm *feedback.WarmStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		warm = feedback.NewWarmStore(client, cfg.Feedback.DriftWindowSize)
	}

	svc := application.New(cfg, application.Deps{
		Repo:    repo,
		AuthZ:   authz.Matrix{},
		Events:  bus.NewInMemoryBus(),
		Metrics: telemetry.NewRegistry(),
		Audit:   health.NewStoreAudit(db, cfg.Database.QueryTimeout),
		Warm:    warm,
	})

	cleanup := func() { db.Close() }
	return svc, cleanup, nil
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}
