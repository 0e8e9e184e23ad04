package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/app"
	"tourbook/internal/shared"
	mysqlrepo "tourbook/internal/storage/mysql"
)

// assigner runs one geo-assignment pass against the database and exits.
// Non-zero exit when any hotel failed to store, so a scheduler can alert.
func main() {
	backfill := flag.Bool("backfill", false, "fill missing meeting point coordinates from their map links first")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel, "tourbook-assigner")

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "tourbook-assigner")
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	log.Info().
		Int("workers", cfg.AssignWorkers).
		Bool("backfill", *backfill).
		Msg("assigner starting")

	if cfg.MySQLDSN == "" {
		log.Fatal().Msg("MYSQL_DSN is required")
	}
	db, err := mysqlrepo.Open(cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open database failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db).WithTimeout(cfg.StorageTimeout())

	if *backfill {
		res, err := app.BackfillMeetingPointCoordinates(ctx, repo, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("backfill failed")
		}
		log.Info().Int("updated", res.Updated).Strs("failed", res.Failed).Msg("backfill completed")
	}

	start := time.Now()
	engine := app.NewGeoAssignmentEngine(repo, repo, cfg.AssignWorkers, log.Logger)
	res, err := engine.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("assignment failed")
	}
	for _, s := range res.Skipped {
		log.Warn().Str("hotel_id", s.HotelID).Str("reason", s.Reason).Msg("hotel skipped")
	}
	log.Info().
		Int("updated", res.UpdatedCount).
		Int("unchanged", res.Unchanged).
		Int("cleared", res.Cleared).
		Int("skipped", len(res.Skipped)).
		Int("errors", len(res.Errors)).
		Dur("took", time.Since(start)).
		Msg("assignment completed")

	if len(res.Errors) > 0 {
		_ = shutdownTracing(context.Background())
		os.Exit(1)
	}
}
