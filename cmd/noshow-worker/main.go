package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wellnest/wellness-scheduling/internal/appointment"
	"github.com/wellnest/wellness-scheduling/internal/availability"
	"github.com/wellnest/wellness-scheduling/internal/config"
	"github.com/wellnest/wellness-scheduling/internal/db"
	"github.com/wellnest/wellness-scheduling/internal/logging"
	"github.com/wellnest/wellness-scheduling/internal/notify"
	redisclient "github.com/wellnest/wellness-scheduling/internal/redis"
)

// The no-show sweep may run on several replicas at once; every write it
// issues is conditional on the row still being scheduled, so overlapping
// sweeps are harmless.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("noshow-worker", cfg.Env)
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("noshow-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	store := appointment.NewPgStore(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	sched := appointment.NewScheduler(store, locker, notify.NewLogNotifier(log.Logger), availability.NewGenerator(), log.Logger)

	// Run once at startup
	runOnce(rootCtx, sched)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping noshow-worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, sched)
		}
	}
}

func runOnce(ctx context.Context, sched *appointment.Scheduler) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := sched.SweepNoShows(runCtx); err != nil {
		log.Error().Err(err).Msg("no-show sweep error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("no-show sweep complete")
}
