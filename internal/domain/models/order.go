package models

import (
	"fmt"
	"strings"
	"time"
)

// PendingOrder is an order submitted to the venue and not yet settled.
type PendingOrder struct {
	OrderID            string    `json:"order_id"`
	AccountID          string    `json:"account_id"`
	Symbol             string    `json:"symbol"`
	Call               Signal    `json:"call"`
	Stake              float64   `json:"stake"`
	MartingaleStep     int       `json:"martingale_step"`
	MaxMartingaleSteps int       `json:"max_martingale_steps"`
	RemoteContractID   *int64    `json:"remote_contract_id,omitempty"`
	ParentOrderID      *string   `json:"parent_order_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// CorrelationID is threaded through the venue passthrough field.
func (o *PendingOrder) CorrelationID() string {
	return o.AccountID + "_" + o.OrderID
}

// ParseCorrelationID splits "accountId_orderId". Account ids never contain
// underscores on the venue, so the first separator wins.
func ParseCorrelationID(s string) (accountID, orderID string, err error) {
	i := strings.Index(s, "_")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("invalid custom_trade_id %q", s)
	}
	return s[:i], s[i+1:], nil
}

// OrderResult reports an accepted submission.
type OrderResult struct {
	Order   PendingOrder
	Balance float64 // account balance after the stake was deducted
}

// Settlement is a contract update reported by the venue. Only updates whose
// Status is not "open" settle an order.
type Settlement struct {
	ContractID int64
	Status     string
	Profit     float64
	IsSold     bool
}

// Closed reports whether the contract has finished.
func (s Settlement) Closed() bool { return s.Status != "" && s.Status != "open" }

// SettlementRecord is written to the settlement journal.
type SettlementRecord struct {
	AccountID  string
	OrderID    string
	ContractID int64
	Symbol     string
	Call       Signal
	Stake      float64
	Profit     float64
	Step       int
	SettledAt  time.Time
}
