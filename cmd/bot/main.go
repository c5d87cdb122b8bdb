package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stratbot/internal/broker"
	"stratbot/internal/config"
	"stratbot/internal/congress"
	"stratbot/internal/engine"
	"stratbot/internal/logger"
	"stratbot/internal/macro"
	"stratbot/internal/md"
	"stratbot/internal/risk"
	"stratbot/internal/scheduler"
	"stratbot/internal/sentiment"
	"stratbot/internal/sentiment/reddit"
	"stratbot/internal/state"
	"stratbot/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := generateRunID()
	log = log.With().Str("run_id", runID).Logger()

	deps := strategy.Deps{
		Quote:    cfg.Quote,
		Macro:    macro.NewClient(cfg.FREDBaseURL, log),
		Comments: reddit.New("", cfg.RedditAgent, log),
		Scorer:   sentiment.NewVader(),
		Log:      log,
	}
	if cfg.Strategy.Name == "congress" {
		source, closeStore, err := openCongress(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()
		deps.Congress = source
	}

	strat, err := strategy.Build(cfg.Strategy, deps)
	if err != nil {
		return err
	}

	store := state.NewStore(strat.Name())
	if err := store.Load(cfg.CheckpointPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load checkpoint: %w", err)
		}
	} else {
		log.Info().Str("path", cfg.CheckpointPath).Msg("loaded checkpoint")
	}

	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID, log)
	if err != nil {
		return fmt.Errorf("decision log: %w", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close decision log")
		}
	}()

	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.BaseURL, cfg.Quote, log)
	history := md.NewHistory(cfg.APIKey, cfg.APISecret, cfg.Feed, log)
	eng := engine.New(cfg, strat, risk.NewGate(log), brokerClient, history, store, decisions, log)

	log.Info().
		Str("mode", string(cfg.Mode)).
		Str("strategy", strat.Name()).
		Str("schedule", cfg.Schedule).
		Bool("once", cfg.Once).
		Msg("starting bot")

	cycle := scheduler.JobFunc{JobName: "rebalance", Fn: eng.Cycle}
	sched := scheduler.New(ctx, log)

	var runErr error
	if cfg.Once {
		runErr = sched.RunNow(cycle)
	} else {
		if err := sched.AddJob(cfg.Schedule, cycle); err != nil {
			return err
		}
		sched.Start()
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		sched.Stop()
	}

	if cfg.LiquidateOnExit {
		// The signal context is already cancelled here.
		liqCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := eng.Liquidate(liqCtx); err != nil {
			log.Error().Err(err).Msg("liquidation failed")
		}
		cancel()
	}

	if err := eng.Checkpoint(); err != nil {
		log.Error().Err(err).Msg("failed to save checkpoint")
	}
	log.Info().Msg("bot shutdown complete")
	return runErr
}

func openCongress(ctx context.Context, cfg config.Config, log zerolog.Logger) (*congress.Source, func(), error) {
	db, err := congress.Open(cfg.CongressDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("congress store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("congress store: %w", err)
	}
	client := congress.NewClient(cfg.QuiverBaseURL, cfg.QuiverToken)
	source := congress.NewSource(client, db, log, congress.House, congress.Senate)
	closeStore := func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close congress store")
		}
	}
	return source, closeStore, nil
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return timestamp
	}
	return timestamp + "-" + hex.EncodeToString(randomBytes)
}
