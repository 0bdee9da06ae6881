package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"TickPilot/internal/domain/models"
	"TickPilot/pkg/cache"
	pkgkafka "TickPilot/pkg/kafka"
	"TickPilot/pkg/queue"
)

func TestAccountStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewRedisAccountStore(cache.NewMemoryCache(), 0)
	day := time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC)
	key := models.NewDayKey(day, "CR1")

	if _, err := s.Find(ctx, key); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	st := &models.AccountState{AccountID: "CR1", UniqueDate: key.UniqueDate(), Balance: 100, Stake: 1}
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Find(ctx, key)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Balance != 100 || got.UniqueDate != "7-3-2024" {
		t.Fatalf("unexpected state %+v", got)
	}
	if _, err := s.Find(ctx, models.NewDayKey(day.AddDate(0, 0, 1), "CR1")); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("next day must be a different document")
	}
}

func TestAccountStoreRejectsIncompleteState(t *testing.T) {
	s := NewRedisAccountStore(cache.NewMemoryCache(), 0)
	if err := s.Save(context.Background(), &models.AccountState{AccountID: "CR1"}); err == nil {
		t.Fatalf("expected error without date")
	}
}

func TestOrderStoreListPerAccount(t *testing.T) {
	ctx := context.Background()
	s := NewRedisOrderStore(cache.NewMemoryCache())
	base := time.Unix(1700000000, 0)
	orders := []*models.PendingOrder{
		{OrderID: "b", AccountID: "CR1", CreatedAt: base.Add(time.Second)},
		{OrderID: "a", AccountID: "CR1", CreatedAt: base},
		{OrderID: "c", AccountID: "CR2", CreatedAt: base},
	}
	for _, o := range orders {
		if err := s.Save(ctx, o); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got, err := s.List(ctx, "CR1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].OrderID != "a" || got[1].OrderID != "b" {
		t.Fatalf("unexpected orders %+v", got)
	}
	if err := s.Delete(ctx, "CR1", "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.List(ctx, "CR1")
	if len(got) != 1 || got[0].OrderID != "b" {
		t.Fatalf("expected only b after delete, got %+v", got)
	}
}

func TestTokenRegistry(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache()
	_ = c.HSet(ctx, "accounts:tok-b", map[string]string{"ready_for_trade": "true"})
	_ = c.HSet(ctx, "accounts:tok-a", map[string]string{"ready_for_trade": "true"})
	_ = c.HSet(ctx, "accounts:tok-c", map[string]string{"ready_for_trade": "false"})

	r := NewTokenRegistry(c, "accounts", []string{"static"}, nil)
	got, err := r.ListEnabledTokens(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"tok-a", "tok-b"}) {
		t.Fatalf("unexpected tokens %v", got)
	}
}

func TestTokenRegistryFallback(t *testing.T) {
	r := NewTokenRegistry(cache.NewMemoryCache(), "accounts", []string{"static"}, nil)
	got, _ := r.ListEnabledTokens(context.Background())
	if !reflect.DeepEqual(got, []string{"static"}) {
		t.Fatalf("expected static fallback on empty registry, got %v", got)
	}

	r = NewTokenRegistry(nil, "accounts", []string{"s1", "s2"}, nil)
	got, _ = r.ListEnabledTokens(context.Background())
	if len(got) != 2 {
		t.Fatalf("expected static fallback without cache, got %v", got)
	}
}

type recordingWriter struct{ msgs []kafka.Message }

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaEventPublisherKeysByAccount(t *testing.T) {
	w := &recordingWriter{}
	p, err := pkgkafka.NewProducer(pkgkafka.WithTopic("trade-events"), pkgkafka.WithWriter(w))
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	pub := NewKafkaEventPublisher(p)
	ev := models.TradeEvent{Type: models.EventSettle, AccountID: "CR9", OrderID: "o1", Profit: 0.95, Time: time.Unix(0, 0).UTC()}
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "CR9" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got models.TradeEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != models.EventSettle || got.OrderID != "o1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

type fakeExec struct {
	query string
	args  []any
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.query = q
	f.args = args
	return nil, nil
}

func TestClickHouseJournalInsert(t *testing.T) {
	db := &fakeExec{}
	j := newJournal(db, "tickpilot")
	rec := models.SettlementRecord{
		AccountID: "CR1", OrderID: "o1", ContractID: 42, Symbol: "R_100",
		Call: models.SignalBuy, Stake: 2.7, Profit: -2.7, Step: 2, SettledAt: time.Unix(10, 0),
	}
	if err := j.RecordSettlement(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	const want = "INSERT INTO tickpilot.settlements (account_id, order_id, contract_id, symbol, call, stake, profit, step, settled_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if db.query != want {
		t.Fatalf("unexpected query %q", db.query)
	}
	if len(db.args) != 9 || db.args[4] != "BUY" || db.args[7] != uint8(2) {
		t.Fatalf("unexpected args %v", db.args)
	}
}

func TestSettlementSchema(t *testing.T) {
	stmts := SettlementSchema("tickpilot")
	if len(stmts) != 2 {
		t.Fatalf("expected database and table statements, got %d", len(stmts))
	}
}

type memJournal struct {
	mu      sync.Mutex
	records []models.SettlementRecord
	fail    int
	closed  bool
}

func (m *memJournal) RecordSettlement(_ context.Context, r models.SettlementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail > 0 {
		m.fail--
		return errors.New("clickhouse down")
	}
	m.records = append(m.records, r)
	return nil
}

func (m *memJournal) Close() error {
	m.closed = true
	return nil
}

func TestQueuedJournalDeliversOnClose(t *testing.T) {
	inner := &memJournal{}
	j, err := NewQueuedJournal(queue.NewMemoryQueue(nil, queue.QueueConfig{Workers: 1}), inner)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	at := time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"o1", "o2"} {
		rec := models.SettlementRecord{AccountID: "CR1", OrderID: id, ContractID: int64(i + 1), Call: models.SignalSell, Stake: 1, Profit: 0.95, SettledAt: at}
		if err := j.RecordSettlement(context.Background(), rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !inner.closed {
		t.Fatalf("inner journal not closed")
	}
	if len(inner.records) != 2 || inner.records[1].OrderID != "o2" || !inner.records[0].SettledAt.Equal(at) {
		t.Fatalf("records = %+v", inner.records)
	}
	if inner.records[0].Call != models.SignalSell {
		t.Fatalf("call = %s", inner.records[0].Call)
	}
}

func TestQueuedJournalRetriesFailedWrites(t *testing.T) {
	inner := &memJournal{fail: 1}
	q := queue.NewMemoryQueue(nil, queue.QueueConfig{Workers: 1, RetryLimit: 2, RetryDelay: time.Millisecond})
	j, err := NewQueuedJournal(q, inner)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer j.Close()
	if err := j.RecordSettlement(context.Background(), models.SettlementRecord{AccountID: "CR1", OrderID: "o1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		inner.mu.Lock()
		n := len(inner.records)
		inner.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("record was not retried")
}
