package repository

import (
	"context"

	"TickPilot/internal/domain/models"
)

// AccountStore persists one AccountState document per trading-day key.
type AccountStore interface {
	// Find returns models.ErrNotFound when no document exists for the key.
	Find(ctx context.Context, key models.DayKey) (*models.AccountState, error)
	Save(ctx context.Context, s *models.AccountState) error
}

// OrderStore persists pending orders until they settle.
type OrderStore interface {
	Save(ctx context.Context, o *models.PendingOrder) error
	Delete(ctx context.Context, accountID, orderID string) error
	List(ctx context.Context, accountID string) ([]*models.PendingOrder, error)
}

// TokenRegistry lists the API tokens of accounts enabled for trading.
type TokenRegistry interface {
	ListEnabledTokens(ctx context.Context) ([]string, error)
}

// EventPublisher hands trade events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, e models.TradeEvent) error
	Close() error
}

// Journal keeps the historical record of settled orders.
type Journal interface {
	RecordSettlement(ctx context.Context, r models.SettlementRecord) error
	Close() error
}

type Metrics interface {
	RecordTick(account string)
	RecordSignal(regime, signal, source string)
	RecordOrder(result string)
	RecordSettlement(outcome string)
	RecordReconnect(account string)
	RecordBalance(account string, balance float64)
	RecordRegime(account, regime string)
	RecordLatency(op string, seconds float64)
}

// VenueConn is one open duplex connection to the venue.
type VenueConn interface {
	Authorize(ctx context.Context, token string) error
	SubscribeTicks(ctx context.Context, symbol string) error
	Ping(ctx context.Context) error
	SubscribeContracts(ctx context.Context) error
	Buy(ctx context.Context, req models.BuyRequest) error
	// Read streams decoded events until the connection fails or ctx ends.
	// The error channel receives at most one value and both channels close.
	Read(ctx context.Context) (<-chan models.VenueEvent, <-chan error)
	Close() error
}

// VenueDialer opens venue connections.
type VenueDialer interface {
	Dial(ctx context.Context) (VenueConn, error)
}
