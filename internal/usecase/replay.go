package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"TickPilot/internal/domain/models"
	domsvc "TickPilot/internal/domain/service"
	"TickPilot/internal/services/analytics"
	"TickPilot/internal/services/features"
	"TickPilot/pkg/config"
)

// ReplayConfig drives an offline replay.
type ReplayConfig struct {
	Profile       config.Profile
	Indicators    domsvc.Indicators
	CycleInterval time.Duration
}

// ReplaySignal is one fired decision with the indicator values behind it.
type ReplaySignal struct {
	Epoch    int64
	Decision models.Decision
	Snapshot models.IndicatorSnapshot
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Ticks   int
	Skipped int // malformed lines
	Cycles  int
	Signals int
	Regimes map[models.Regime]int // cycles spent per regime
}

// Replay feeds newline-delimited JSON ticks through a fresh strategy, running
// a decision cycle every CycleInterval of tick time. The strategy clock follows
// the tick stream. emit receives every non-HOLD decision; no orders are placed.
func Replay(r io.Reader, cfg ReplayConfig, emit func(ReplaySignal)) (ReplayStats, error) {
	if cfg.CycleInterval < time.Second {
		return ReplayStats{}, fmt.Errorf("cycle interval must be at least one second")
	}
	var sim int64
	strategy, err := analytics.NewStrategy(cfg.Profile, cfg.Indicators,
		analytics.WithClock(func() time.Time { return time.Unix(sim, 0).UTC() }))
	if err != nil {
		return ReplayStats{}, err
	}

	step := int64(cfg.CycleInterval / time.Second)
	retention := int64(cfg.Profile.Retention / time.Second)
	buf := features.NewTickBuffer(cfg.Profile.MaxTicks)
	stats := ReplayStats{Regimes: make(map[models.Regime]int)}

	cycle := func(at int64) {
		sim = at
		out := strategy.Step(buf.Snapshot())
		stats.Cycles++
		stats.Regimes[out.Decision.Regime]++
		if out.Decision.Signal != models.SignalHold {
			stats.Signals++
			if emit != nil {
				emit(ReplaySignal{Epoch: at, Decision: out.Decision, Snapshot: out.Snapshot})
			}
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var next int64
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var t models.Tick
		if err := json.Unmarshal(line, &t); err != nil || t.Epoch <= 0 {
			stats.Skipped++
			continue
		}
		if next == 0 {
			next = t.Epoch + step
		}
		for t.Epoch >= next {
			cycle(next)
			next += step
		}
		if buf.Add(t) {
			stats.Ticks++
		}
		if retention > 0 {
			buf.Evict(t.Epoch - retention)
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read ticks: %w", err)
	}
	if stats.Ticks > 0 {
		cycle(next)
	}
	return stats, nil
}
