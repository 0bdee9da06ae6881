package models

import "time"

// ConnState is the connection state machine node.
type ConnState string

const (
	ConnConnecting ConnState = "CONNECTING"
	ConnOpen       ConnState = "OPEN"
	ConnClosed     ConnState = "CLOSED"
)

// SessionStatus is a read-only view of one account session.
type SessionStatus struct {
	AccountID string    `json:"account_id"`
	Token     string    `json:"token"` // masked
	Conn      ConnState `json:"conn"`
	Regime    Regime    `json:"regime"`
	Phase     string    `json:"phase"`
	InFlight  bool      `json:"in_flight"`
	Ticks     int       `json:"ticks"`
	LastPing  time.Time `json:"last_ping"`
	LastCycle time.Time `json:"last_cycle"`
}

// AccountStateRequest is the query for one trading-day account document.
type AccountStateRequest struct {
	Account string `param:"account" json:"account" validate:"required,alphanum"`
	Date    string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}
