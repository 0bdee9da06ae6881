package models

import "time"

// Signal is the output of the decision engine.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// ContractType maps a signal to the venue contract type.
func (s Signal) ContractType() string {
	switch s {
	case SignalBuy:
		return "CALL"
	case SignalSell:
		return "PUT"
	default:
		return ""
	}
}

// Source identifies which detector produced a decision.
type Source string

const (
	SourceRegime   Source = "regime"
	SourceBreakout Source = "breakout"
	SourceRSI      Source = "rsi_cross"
	SourceNone     Source = ""
)

// Decision is a signal with the detector and regime that produced it.
type Decision struct {
	Signal Signal
	Source Source
	Regime Regime
	At     time.Time
}

// CrossingState records hysteresis progress between arm and fire.
type CrossingState struct {
	ArmedLow  bool // oscillator has dropped below the buy arm band
	ArmedHigh bool // oscillator has risen above the sell arm band
	Condition Signal
	LowAt     time.Time
	HighAt    time.Time
}

// Reset clears every flag.
func (c *CrossingState) Reset() {
	*c = CrossingState{}
}

// Phase names the state machine node for status output.
func (c CrossingState) Phase() string {
	switch {
	case c.ArmedLow && c.ArmedHigh:
		return "ARMED_BOTH"
	case c.ArmedLow:
		return "ARMED_LOW"
	case c.ArmedHigh:
		return "ARMED_HIGH"
	default:
		return "IDLE"
	}
}
