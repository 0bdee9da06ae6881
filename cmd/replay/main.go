package main

import (
	"flag"
	"io"
	"log"
	"os"
	"time"

	"TickPilot/internal/services/features"
	"TickPilot/internal/usecase"
	"TickPilot/pkg/config"
	"TickPilot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	ticksPath := flag.String("ticks", "-", "NDJSON tick file, - for stdin")
	cycle := flag.Duration("cycle", 0, "decision cycle override (default trading.cycle_interval)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	lg, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}

	var in io.Reader = os.Stdin
	if *ticksPath != "-" {
		f, err := os.Open(*ticksPath)
		if err != nil {
			log.Fatalf("open ticks: %v", err)
		}
		defer f.Close()
		in = f
	}

	interval := cfg.Trading.CycleInterval
	if *cycle > 0 {
		interval = *cycle
	}

	start := time.Now()
	stats, err := usecase.Replay(in, usecase.ReplayConfig{
		Profile:       cfg.Profile,
		Indicators:    features.Talib{},
		CycleInterval: interval,
	}, func(s usecase.ReplaySignal) {
		lg.Info("signal",
			logger.Int64("epoch", s.Epoch),
			logger.String("signal", string(s.Decision.Signal)),
			logger.String("source", string(s.Decision.Source)),
			logger.String("regime", string(s.Decision.Regime)),
			logger.Float64("k", s.Snapshot.LastK()),
			logger.Float64("d", s.Snapshot.LastD()),
			logger.Float64("rsi", s.Snapshot.LastRSI()))
	})
	if err != nil {
		lg.Error("replay failed", logger.Error(err))
		os.Exit(1)
	}

	regimes := make(map[string]int, len(stats.Regimes))
	for r, n := range stats.Regimes {
		regimes[string(r)] = n
	}
	lg.Info("replay finished",
		logger.String("profile", cfg.Profile.Name),
		logger.Int("ticks", stats.Ticks),
		logger.Int("skipped", stats.Skipped),
		logger.Int("cycles", stats.Cycles),
		logger.Int("signals", stats.Signals),
		logger.Any("regimes", regimes),
		logger.Duration("took", time.Since(start)))
}
