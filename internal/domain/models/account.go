package models

import (
	"fmt"
	"time"
)

// DayKey identifies one account's trading day: (day, month, year, account).
type DayKey struct {
	Day       int
	Month     int
	Year      int
	AccountID string
}

// NewDayKey builds the key for the trading day containing t.
func NewDayKey(t time.Time, accountID string) DayKey {
	return DayKey{Day: t.Day(), Month: int(t.Month()), Year: t.Year(), AccountID: accountID}
}

// UniqueDate is the persisted "D-M-YYYY" form of the day.
func (k DayKey) UniqueDate() string {
	return fmt.Sprintf("%d-%d-%d", k.Day, k.Month, k.Year)
}

// String is used as the document key.
func (k DayKey) String() string {
	return k.UniqueDate() + ":" + k.AccountID
}

// AccountState is the persisted per-day account record.
type AccountState struct {
	AccountID       string    `json:"account_id"`
	Email           string    `json:"email"`
	Currency        string    `json:"currency"`
	Balance         float64   `json:"balance"`
	DynamicBalance  float64   `json:"dynamic_balance"` // high-water mark
	Stake           float64   `json:"stake"`
	StopLoss        float64   `json:"stop_loss"`
	ProfitThreshold float64   `json:"profit_threshold"`
	PnL             float64   `json:"pnl"`
	TradePlan       string    `json:"trade_plan"`
	UniqueDate      string    `json:"unique_date"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Key returns the document key of the state.
func (s *AccountState) Key() string {
	return s.UniqueDate + ":" + s.AccountID
}

// Authorization is what the venue reports after a successful authorize.
type Authorization struct {
	AccountID string
	Email     string
	Currency  string
	Balance   float64
}
