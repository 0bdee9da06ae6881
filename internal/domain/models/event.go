package models

import "time"

// EventType classifies a TradeEvent.
type EventType string

const (
	EventSignal    EventType = "signal"
	EventSubmit    EventType = "order_submitted"
	EventReject    EventType = "order_rejected"
	EventSettle    EventType = "order_settled"
	EventBootstrap EventType = "account_bootstrapped"
)

// TradeEvent is published for downstream consumers such as notifiers.
type TradeEvent struct {
	Type      EventType `json:"type"`
	AccountID string    `json:"account_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Signal    Signal    `json:"signal,omitempty"`
	Source    Source    `json:"source,omitempty"`
	Regime    Regime    `json:"regime,omitempty"`
	Stake     float64   `json:"stake,omitempty"`
	Profit    float64   `json:"profit,omitempty"`
	Balance   float64   `json:"balance,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}
