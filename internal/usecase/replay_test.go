package usecase

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"TickPilot/internal/services/features"
)

func tickLines(start int64, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "{\"epoch\":%d,\"quote\":%.2f}\n", start+int64(i), 100+float64(i%7)*0.1)
	}
	return b.String()
}

func TestReplayCyclesOnTickTime(t *testing.T) {
	cfg := defaultConfig(t)
	input := tickLines(1000, 60) + "not json\n\n" + "{\"epoch\":1059,\"quote\":100}\n"

	var fired []ReplaySignal
	stats, err := Replay(strings.NewReader(input), ReplayConfig{
		Profile:       cfg.Profile,
		Indicators:    features.Talib{},
		CycleInterval: 10 * time.Second,
	}, func(s ReplaySignal) { fired = append(fired, s) })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Ticks != 60 {
		t.Fatalf("ticks = %d, want 60", stats.Ticks)
	}
	if stats.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", stats.Skipped)
	}
	// cycles at 1010..1050 plus the final flush
	if stats.Cycles != 6 {
		t.Fatalf("cycles = %d, want 6", stats.Cycles)
	}
	total := 0
	for _, n := range stats.Regimes {
		total += n
	}
	if total != stats.Cycles {
		t.Fatalf("regime counts %v do not add up to %d cycles", stats.Regimes, stats.Cycles)
	}
	if stats.Signals != len(fired) {
		t.Fatalf("signals = %d, emitted %d", stats.Signals, len(fired))
	}
}

func TestReplayRejectsSubSecondCycle(t *testing.T) {
	cfg := defaultConfig(t)
	_, err := Replay(strings.NewReader(""), ReplayConfig{Profile: cfg.Profile, CycleInterval: time.Millisecond}, nil)
	if err == nil {
		t.Fatalf("expected error for sub-second cycle")
	}
}

func TestReplayEmptyInput(t *testing.T) {
	cfg := defaultConfig(t)
	stats, err := Replay(strings.NewReader(""), ReplayConfig{Profile: cfg.Profile, CycleInterval: 10 * time.Second}, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if stats.Cycles != 0 || stats.Ticks != 0 {
		t.Fatalf("stats = %+v, want zero", stats)
	}
}
