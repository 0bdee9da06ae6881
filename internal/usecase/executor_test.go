package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"TickPilot/internal/domain/models"
	"TickPilot/internal/repository"
	"TickPilot/pkg/cache"
	"TickPilot/pkg/config"
)

var testDay = time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu   sync.Mutex
	reqs []models.BuyRequest
	err  error
}

func (s *fakeSender) Buy(_ context.Context, req models.BuyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

func (s *fakeSender) sent() []models.BuyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BuyRequest(nil), s.reqs...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.TradeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e models.TradeEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) last() models.TradeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type recordingJournal struct{ recs []models.SettlementRecord }

func (j *recordingJournal) RecordSettlement(_ context.Context, r models.SettlementRecord) error {
	j.recs = append(j.recs, r)
	return nil
}

func (j *recordingJournal) Close() error { return nil }

func testTrading() config.Trading {
	return config.Trading{
		Symbol:             "R_100",
		Duration:           1,
		DurationUnit:       "m",
		Currency:           "USD",
		Timezone:           "UTC",
		Stakes:             []float64{1, 2.7, 7.2, 19.2},
		ExhaustionStake:    1,
		StopLossPolicy:     "multiplier",
		StopLossMultiplier: 1000,
		StopLossAmount:     50,
		ProfitThresholdPct: 10,
		MinBalance:         10,
		MaxMartingaleSteps: 1,
	}
}

type harness struct {
	exec     *Executor
	sender   *fakeSender
	accounts *repository.RedisAccountStore
	orders   *repository.RedisOrderStore
	events   *recordingPublisher
	journal  *recordingJournal
	contract int64
	clock    time.Time
}

func newHarness(t *testing.T, edit func(*config.Trading)) *harness {
	t.Helper()
	tr := testTrading()
	if edit != nil {
		edit(&tr)
	}
	c := cache.NewMemoryCache()
	h := &harness{
		sender:   &fakeSender{},
		accounts: repository.NewRedisAccountStore(c, 0),
		orders:   repository.NewRedisOrderStore(c),
		events:   &recordingPublisher{},
		journal:  &recordingJournal{},
		clock:    testDay,
	}
	n := 0
	h.exec = NewExecutor(tr, "balanced", h.accounts, h.orders,
		WithEvents(h.events),
		WithJournal(h.journal),
		WithClock(func() time.Time { return h.clock }),
		WithOrderIDs(func() string { n++; return fmt.Sprintf("o%d", n) }),
	)
	return h
}

func (h *harness) bootstrap(t *testing.T, balance float64) {
	t.Helper()
	if _, _, err := h.exec.Bootstrap(context.Background(), models.Authorization{AccountID: "CR1", Currency: "USD", Balance: balance}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	h.exec.Bind(h.sender)
}

func (h *harness) state(t *testing.T) *models.AccountState {
	t.Helper()
	st, err := h.accounts.Find(context.Background(), models.NewDayKey(testDay, "CR1"))
	if err != nil {
		t.Fatalf("find state: %v", err)
	}
	return st
}

func (h *harness) putState(t *testing.T, edit func(*models.AccountState)) {
	t.Helper()
	st := &models.AccountState{
		AccountID: "CR1", Balance: 1000, DynamicBalance: 1000, Stake: 1, StopLoss: 50,
		ProfitThreshold: 100, UniqueDate: models.NewDayKey(testDay, "CR1").UniqueDate(),
	}
	if edit != nil {
		edit(st)
	}
	if err := h.accounts.Save(context.Background(), st); err != nil {
		t.Fatalf("save state: %v", err)
	}
}

// settleLast acks the newest order and settles it with profit.
func (h *harness) settleLast(t *testing.T, profit float64) {
	t.Helper()
	ctx := context.Background()
	reqs := h.sender.sent()
	req := reqs[len(reqs)-1]
	h.contract++
	if err := h.exec.BindContract(ctx, models.BuyAck{ContractID: h.contract, CorrelationID: req.CorrelationID}); err != nil {
		t.Fatalf("bind contract: %v", err)
	}
	status := "won"
	if profit < 0 {
		status = "lost"
	}
	if err := h.exec.Settle(ctx, models.Settlement{ContractID: h.contract, Status: status, Profit: profit, IsSold: true}); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func buy() models.Decision {
	return models.Decision{Signal: models.SignalBuy, Source: models.SourceRegime, Regime: models.RegimeTrending}
}

func TestBootstrapCreatesState(t *testing.T) {
	h := newHarness(t, nil)
	st, created, err := h.exec.Bootstrap(context.Background(), models.Authorization{AccountID: "CR1", Email: "a@b.c", Currency: "USD", Balance: 1000})
	if err != nil || !created {
		t.Fatalf("expected created state, got %v %v", created, err)
	}
	if st.Stake != 1 || st.DynamicBalance != 1000 || st.ProfitThreshold != 100 || st.UniqueDate != "7-3-2024" || st.TradePlan != "balanced" {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.events.last().Type != models.EventBootstrap {
		t.Fatalf("expected bootstrap event")
	}

	_, created, err = h.exec.Bootstrap(context.Background(), models.Authorization{AccountID: "CR1", Balance: 5000})
	if err != nil || created {
		t.Fatalf("second bootstrap must keep the existing state, got %v %v", created, err)
	}
	if h.state(t).Balance != 1000 {
		t.Fatalf("existing state must not be overwritten")
	}
}

func TestBootstrapBelowMinBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 10)
	if _, err := h.exec.Submit(context.Background(), buy()); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected account-not-found, got %v", err)
	}
}

func TestSubmitBeforeAuthorize(t *testing.T) {
	h := newHarness(t, nil)
	h.exec.Bind(h.sender)
	if _, err := h.exec.Submit(context.Background(), buy()); !errors.Is(err, models.ErrAccountNotFound) {
		t.Fatalf("expected account-not-found, got %v", err)
	}
}

func TestSubmitSingleFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)

	res, err := h.exec.Submit(context.Background(), buy())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Order.Stake != 1 || res.Balance != 999 {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := h.exec.Submit(context.Background(), models.Decision{Signal: models.SignalSell}); !errors.Is(err, models.ErrInProgress) {
		t.Fatalf("expected in-progress, got %v", err)
	}
	if ev := h.events.last(); ev.Type != models.EventReject || ev.Reason != "in-progress" {
		t.Fatalf("expected rejection event, got %+v", ev)
	}

	reqs := h.sender.sent()
	if len(reqs) != 1 {
		t.Fatalf("expected one buy, got %d", len(reqs))
	}
	r := reqs[0]
	if r.ContractType != "CALL" || r.Price != 1 || r.Amount != 1 || r.Symbol != "R_100" || r.CorrelationID != "CR1_o1" {
		t.Fatalf("unexpected buy request %+v", r)
	}
	if !h.exec.InFlight() || h.state(t).Balance != 999 {
		t.Fatalf("expected gate held and stake deducted")
	}
}

func TestSubmitRejectsHold(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	if _, err := h.exec.Submit(context.Background(), models.Decision{Signal: models.SignalHold}); err == nil {
		t.Fatalf("expected error for HOLD")
	}
}

func TestLadderAdvancesOnLosses(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)

	var stakes []float64
	for i := 0; i < 3; i++ {
		if _, err := h.exec.Submit(context.Background(), buy()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		h.settleLast(t, -h.sender.sent()[i].Amount)
		stakes = append(stakes, h.state(t).Stake)
	}
	want := []float64{2.7, 7.2, 19.2}
	for i := range want {
		if stakes[i] != want[i] {
			t.Fatalf("stake after loss %d: expected %v, got %v", i+1, want[i], stakes[i])
		}
	}
	st := h.state(t)
	if st.Balance != 989.1 || st.DynamicBalance != 1000 || st.PnL != -10.9 {
		t.Fatalf("unexpected state after losses %+v", st)
	}
	if h.exec.InFlight() {
		t.Fatalf("gate must be released after settlement")
	}
	if len(h.journal.recs) != 3 || h.journal.recs[2].Stake != 7.2 {
		t.Fatalf("unexpected journal %+v", h.journal.recs)
	}
}

func TestWinResetsStakeAndRaisesHighWater(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)

	_, _ = h.exec.Submit(context.Background(), buy())
	h.settleLast(t, -1)
	_, _ = h.exec.Submit(context.Background(), buy())
	h.settleLast(t, 2.57)

	st := h.state(t)
	if st.Stake != 1 {
		t.Fatalf("expected first rung after win, got %v", st.Stake)
	}
	// 1000 - 1 - 2.7 + 2.7 + 2.57
	if st.Balance != 1001.57 || st.DynamicBalance != 1001.57 {
		t.Fatalf("unexpected balances %+v", st)
	}
	if st.PnL != 1.57 {
		t.Fatalf("unexpected pnl %v", st.PnL)
	}
}

func TestWinBelowHighWaterKeepsDynamicBalance(t *testing.T) {
	h := newHarness(t, nil)
	h.putState(t, func(s *models.AccountState) { s.DynamicBalance = 1500 })
	h.bootstrap(t, 1000)

	_, _ = h.exec.Submit(context.Background(), buy())
	h.settleLast(t, 0.95)
	if st := h.state(t); st.DynamicBalance != 1500 || st.Balance != 1000.95 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestStopLossMultiplier(t *testing.T) {
	tests := []struct {
		name string
		mult float64
		want error
	}{
		{"wide", 1000, nil},
		{"tight", 5, models.ErrStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(tr *config.Trading) { tr.StopLossMultiplier = tt.mult })
			h.putState(t, func(s *models.AccountState) {
				s.DynamicBalance, s.Balance, s.Stake = 100, 50, 10
			})
			h.bootstrap(t, 50)
			_, err := h.exec.Submit(context.Background(), buy())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStopLossAbsolute(t *testing.T) {
	tests := []struct {
		name     string
		stopLoss float64
		want     error
	}{
		{"inside", 60, nil},
		{"breached", 40, models.ErrStopLoss},
		{"boundary", 50, models.ErrStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(tr *config.Trading) { tr.StopLossPolicy = "absolute" })
			h.putState(t, func(s *models.AccountState) {
				s.DynamicBalance, s.Balance, s.Stake, s.StopLoss = 100, 50, 10, tt.stopLoss
			})
			h.bootstrap(t, 50)
			_, err := h.exec.Submit(context.Background(), buy())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestProfitThreshold(t *testing.T) {
	h := newHarness(t, nil)
	h.putState(t, func(s *models.AccountState) { s.PnL = 100 })
	h.bootstrap(t, 1000)
	if _, err := h.exec.Submit(context.Background(), buy()); !errors.Is(err, models.ErrProfitThreshold) {
		t.Fatalf("expected profit-threshold, got %v", err)
	}
	if len(h.sender.sent()) != 0 {
		t.Fatalf("no buy expected")
	}
}

func TestSubmitNotConnected(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	h.exec.Unbind()
	if _, err := h.exec.Submit(context.Background(), buy()); !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected not-connected, got %v", err)
	}
	if h.exec.InFlight() || h.state(t).Balance != 1000 {
		t.Fatalf("rejection must not touch the gate or balance")
	}
}

func TestSendFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	h.sender.err = errors.New("broken pipe")

	if _, err := h.exec.Submit(context.Background(), buy()); err == nil {
		t.Fatalf("expected send error")
	}
	if h.exec.InFlight() {
		t.Fatalf("gate must be released")
	}
	if st := h.state(t); st.Balance != 1000 {
		t.Fatalf("stake must be restored, balance %v", st.Balance)
	}
	pending, _ := h.orders.List(context.Background(), "CR1")
	if len(pending) != 0 {
		t.Fatalf("pending order must be deleted, got %d", len(pending))
	}
}

func TestSettleUnknownAndReplay(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	ctx := context.Background()

	if err := h.exec.Settle(ctx, models.Settlement{ContractID: 999, Status: "won", Profit: 1}); !errors.Is(err, models.ErrNoPendingOrder) {
		t.Fatalf("expected no pending order, got %v", err)
	}

	_, _ = h.exec.Submit(ctx, buy())
	if err := h.exec.Settle(ctx, models.Settlement{ContractID: 1, Status: "open"}); err != nil {
		t.Fatalf("open update must be ignored, got %v", err)
	}
	h.settleLast(t, 0.95)
	if err := h.exec.Settle(ctx, models.Settlement{ContractID: h.contract, Status: "won", Profit: 0.95}); err != nil {
		t.Fatalf("replay must be ignored, got %v", err)
	}
	if st := h.state(t); st.Balance != 1000.95 {
		t.Fatalf("replay must not settle twice, balance %v", st.Balance)
	}
}

func TestBindContractWithoutPassthrough(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	ctx := context.Background()

	_, _ = h.exec.Submit(ctx, buy())
	if err := h.exec.BindContract(ctx, models.BuyAck{ContractID: 77}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := h.exec.Settle(ctx, models.Settlement{ContractID: 77, Status: "lost", Profit: -1}); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if err := h.exec.BindContract(ctx, models.BuyAck{ContractID: 78, CorrelationID: "CR2_o9"}); !errors.Is(err, models.ErrNoPendingOrder) {
		t.Fatalf("foreign correlation id must not bind, got %v", err)
	}
}

func TestMartingaleChain(t *testing.T) {
	h := newHarness(t, func(tr *config.Trading) { tr.MaxMartingaleSteps = 3 })
	h.bootstrap(t, 1000)

	if _, err := h.exec.Submit(context.Background(), buy()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.settleLast(t, -1)
	reqs := h.sender.sent()
	if len(reqs) != 2 || reqs[1].Amount != 2.7 || reqs[1].ContractType != "CALL" {
		t.Fatalf("expected step 2 placed at 2.7, got %+v", reqs)
	}
	if !h.exec.InFlight() {
		t.Fatalf("gate must stay held inside the chain")
	}
	p := h.exec.Pending()
	if len(p) != 1 || p[0].MartingaleStep != 2 || p[0].ParentOrderID == nil || *p[0].ParentOrderID != "o1" {
		t.Fatalf("unexpected pending %+v", p)
	}

	h.settleLast(t, -2.7)
	if reqs = h.sender.sent(); len(reqs) != 3 || reqs[2].Amount != 7.2 {
		t.Fatalf("expected step 3 placed at 7.2, got %+v", reqs)
	}
	h.settleLast(t, -7.2)
	if reqs = h.sender.sent(); len(reqs) != 3 {
		t.Fatalf("chain must stop at max steps, got %d buys", len(reqs))
	}
	st := h.state(t)
	if st.Stake != 1 || h.exec.InFlight() {
		t.Fatalf("expected exhaustion stake and released gate, got %+v", st)
	}
	if st.Balance != 989.1 {
		t.Fatalf("unexpected balance %v", st.Balance)
	}
}

func TestMartingaleWinEndsChain(t *testing.T) {
	h := newHarness(t, func(tr *config.Trading) { tr.MaxMartingaleSteps = 3 })
	h.bootstrap(t, 1000)
	_, _ = h.exec.Submit(context.Background(), buy())
	h.settleLast(t, -1)
	h.settleLast(t, 2.57)
	if len(h.sender.sent()) != 2 || h.exec.InFlight() || h.state(t).Stake != 1 {
		t.Fatalf("win must end the chain")
	}
}

func TestBootstrapReloadsPendingOrders(t *testing.T) {
	h := newHarness(t, nil)
	h.putState(t, nil)
	ctx := context.Background()
	old := &models.PendingOrder{OrderID: "prev", AccountID: "CR1", Call: models.SignalSell, Stake: 1, MartingaleStep: 1, MaxMartingaleSteps: 1, CreatedAt: testDay}
	if err := h.orders.Save(ctx, old); err != nil {
		t.Fatalf("save order: %v", err)
	}
	h.bootstrap(t, 1000)

	if !h.exec.InFlight() {
		t.Fatalf("reloaded order must hold the gate")
	}
	if _, err := h.exec.Submit(ctx, buy()); !errors.Is(err, models.ErrInProgress) {
		t.Fatalf("expected in-progress, got %v", err)
	}
	if err := h.exec.SettleOrder(ctx, "prev", 0.95); err != nil {
		t.Fatalf("settle order: %v", err)
	}
	if h.exec.InFlight() {
		t.Fatalf("gate must be released")
	}
}

func TestAbortUnboundRefunds(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	ctx := context.Background()

	_, _ = h.exec.Submit(ctx, buy())
	if n := h.exec.AbortUnbound(ctx, "InsufficientBalance"); n != 1 {
		t.Fatalf("expected one aborted order, got %d", n)
	}
	if h.exec.InFlight() || h.state(t).Balance != 1000 {
		t.Fatalf("abort must release gate and refund stake")
	}
	if ev := h.events.last(); ev.Reason != "InsufficientBalance" {
		t.Fatalf("unexpected event %+v", ev)
	}

	_, _ = h.exec.Submit(ctx, buy())
	_ = h.exec.BindContract(ctx, models.BuyAck{ContractID: 5, CorrelationID: "CR1_o2"})
	if n := h.exec.AbortUnbound(ctx, "x"); n != 0 {
		t.Fatalf("acknowledged orders must not be aborted")
	}
}

func TestLostAckExpiresOnReconnect(t *testing.T) {
	h := newHarness(t, func(tr *config.Trading) { tr.AckTimeout = 2 * time.Minute })
	h.bootstrap(t, 1000)
	ctx := context.Background()

	if _, err := h.exec.Submit(ctx, buy()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// connection drops before the buy ack arrives
	h.exec.Unbind()

	h.clock = testDay.Add(time.Minute)
	h.bootstrap(t, 999)
	if !h.exec.InFlight() {
		t.Fatalf("order inside the ack timeout must keep the gate")
	}

	h.clock = testDay.Add(3 * time.Minute)
	h.bootstrap(t, 999)
	if h.exec.InFlight() {
		t.Fatalf("expired order must release the gate")
	}
	if got := h.state(t).Balance; got != 1000 {
		t.Fatalf("expected stake refunded to 1000, got %v", got)
	}
	if ev := h.events.last(); ev.Reason != "ack-timeout" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// the buy executed after all; its settlement names the expired order
	err := h.exec.Settle(ctx, models.Settlement{ContractID: 42, Status: "lost", Profit: -1, IsSold: true})
	if !errors.Is(err, models.ErrNoPendingOrder) {
		t.Fatalf("expected no matching pending order, got %v", err)
	}
	if !strings.Contains(err.Error(), "o1") {
		t.Fatalf("expected expired order id in %q", err)
	}
	if got := h.state(t).Balance; got != 1000 {
		t.Fatalf("unmatched settlement must not touch the balance, got %v", got)
	}
	if _, err := h.exec.Submit(ctx, buy()); err != nil {
		t.Fatalf("next submit: %v", err)
	}
}

func TestExpireUnboundDisabled(t *testing.T) {
	h := newHarness(t, nil)
	h.bootstrap(t, 1000)
	ctx := context.Background()

	_, _ = h.exec.Submit(ctx, buy())
	h.clock = testDay.Add(time.Hour)
	if n := h.exec.ExpireUnbound(ctx); n != 0 {
		t.Fatalf("zero ack timeout must not expire orders, got %d", n)
	}
	if !h.exec.InFlight() {
		t.Fatalf("gate must stay held")
	}
}
