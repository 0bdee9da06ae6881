package analytics

import (
	"fmt"

	"TickPilot/internal/domain/models"
	domsvc "TickPilot/internal/domain/service"
	"TickPilot/internal/services/features"
	"TickPilot/pkg/config"
)

// Strategy is one account's decision chain: candles, indicators, regime and
// the crossing state. Not safe for concurrent use.
type Strategy struct {
	shortBucket int64
	longBucket  int64

	pipeline   *features.Pipeline
	history    *features.History
	classifier *Classifier
	engine     *Engine
	state      models.CrossingState
}

// Outcome is what one Step produced.
type Outcome struct {
	Decision models.Decision
	Changed  bool // regime transition in this step
	Ready    bool // enough candles for every indicator
	Snapshot models.IndicatorSnapshot
}

func NewStrategy(p config.Profile, ind domsvc.Indicators, opts ...EngineOption) (*Strategy, error) {
	if ind == nil {
		ind = features.Talib{}
	}
	engine, err := NewEngine(p, opts...)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	pipeline := features.NewPipeline(p, ind)
	return &Strategy{
		shortBucket: p.ShortBucket,
		longBucket:  p.LongBucket,
		pipeline:    pipeline,
		history:     pipeline.NewHistory(),
		classifier:  NewClassifier(p, ind),
		engine:      engine,
	}, nil
}

// Step runs one decision cycle over the buffered ticks. A regime change
// clears the crossing state before the engine sees the new regime.
func (s *Strategy) Step(ticks []models.Tick) Outcome {
	regime, changed := s.classifier.Classify(features.Aggregate(ticks, s.longBucket))
	if changed {
		s.state.Reset()
	}
	out := Outcome{Changed: changed}

	snap, ok := s.pipeline.Compute(features.Aggregate(ticks, s.shortBucket), s.history)
	if !ok {
		out.Decision = models.Decision{Signal: models.SignalHold, Source: models.SourceNone, Regime: regime, At: s.engine.now()}
		return out
	}
	out.Ready = true
	out.Snapshot = snap
	out.Decision = s.engine.Evaluate(regime, snap, &s.state)
	return out
}

// Regime returns the last classified regime.
func (s *Strategy) Regime() models.Regime { return s.classifier.Current() }

// State returns a copy of the crossing state.
func (s *Strategy) State() models.CrossingState { return s.state }

// MinCandles is the short-candle count needed before decisions are made.
func (s *Strategy) MinCandles() int { return s.pipeline.MinCandles() }

// Reset forgets regime, histories and crossing flags, e.g. after a
// reconnect dropped the tick buffer.
func (s *Strategy) Reset() {
	s.classifier.Reset()
	s.history.Reset()
	s.state.Reset()
}
