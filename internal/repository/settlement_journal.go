package repository

import (
	"context"
	"database/sql"
	"fmt"

	"TickPilot/internal/domain/models"
	domrepo "TickPilot/internal/domain/repository"
	pkgch "TickPilot/pkg/clickhouse"
)

const settlementsTable = "settlements"

// SettlementSchema returns the DDL for the settlement journal table.
func SettlementSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    account_id  String,
    order_id    String,
    contract_id Int64,
    symbol      LowCardinality(String),
    call        LowCardinality(String),
    stake       Float64,
    profit      Float64,
    step        UInt8,
    settled_at  DateTime64(3)
) ENGINE = MergeTree
PARTITION BY toYYYYMM(settled_at)
ORDER BY (account_id, settled_at)`, database, settlementsTable),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ClickHouseJournal appends settled orders to <db>.settlements.
type ClickHouseJournal struct {
	db     execer
	insert string
	closer func() error
}

func NewClickHouseJournal(ch *pkgch.Client) *ClickHouseJournal {
	j := newJournal(ch.DB(), ch.Database())
	j.closer = ch.Close
	return j
}

func newJournal(db execer, database string) *ClickHouseJournal {
	return &ClickHouseJournal{
		db: db,
		insert: fmt.Sprintf("INSERT INTO %s.%s (account_id, order_id, contract_id, symbol, call, stake, profit, step, settled_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			database, settlementsTable),
	}
}

var _ domrepo.Journal = (*ClickHouseJournal)(nil)

func (j *ClickHouseJournal) RecordSettlement(ctx context.Context, r models.SettlementRecord) error {
	_, err := j.db.ExecContext(ctx, j.insert,
		r.AccountID,
		r.OrderID,
		r.ContractID,
		r.Symbol,
		string(r.Call),
		r.Stake,
		r.Profit,
		uint8(r.Step),
		r.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("insert settlement %s: %w", r.OrderID, err)
	}
	return nil
}

func (j *ClickHouseJournal) Close() error {
	if j.closer != nil {
		return j.closer()
	}
	return nil
}

// NoopJournal discards settlement records.
type NoopJournal struct{}

func (NoopJournal) RecordSettlement(context.Context, models.SettlementRecord) error { return nil }
func (NoopJournal) Close() error                                                    { return nil }
