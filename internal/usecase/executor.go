package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"TickPilot/internal/domain/models"
	drepo "TickPilot/internal/domain/repository"
	"TickPilot/internal/service/cache"
	"TickPilot/pkg/config"
	"TickPilot/pkg/logger"
	"TickPilot/pkg/metrics"
)

const (
	policyMultiplier = "multiplier"
	policyAbsolute   = "absolute"

	settledTTL = 6 * time.Hour

	reasonAckTimeout = "ack-timeout"

	// expired order ids remembered for matching late settlements
	maxExpired = 8
)

// Sender is the outbound half of a venue connection.
type Sender interface {
	Buy(ctx context.Context, req models.BuyRequest) error
}

// Executor is one account's execution and risk manager. It owns the
// single-flight gate and every read-modify-write of the AccountState.
type Executor struct {
	trading  config.Trading
	plan     string
	ladder   Ladder
	accounts drepo.AccountStore
	orders   drepo.OrderStore
	events   drepo.EventPublisher
	journal  drepo.Journal
	metrics  drepo.Metrics
	log      *logger.Logger
	settled  *cache.TTLCache
	loc      *time.Location
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	accountID string
	sender    Sender
	inFlight  bool
	pending   map[string]*models.PendingOrder
	expired   []string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

func WithEvents(p drepo.EventPublisher) ExecutorOption {
	return func(e *Executor) { e.events = p }
}

func WithJournal(j drepo.Journal) ExecutorOption {
	return func(e *Executor) { e.journal = j }
}

func WithMetrics(m drepo.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = l }
}

// WithClock overrides time.Now; it also decides the trading day.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithOrderIDs overrides the uuid order id generator.
func WithOrderIDs(next func() string) ExecutorOption {
	return func(e *Executor) { e.newID = next }
}

// NewExecutor builds an executor for the trading settings and strategy plan.
func NewExecutor(trading config.Trading, plan string, accounts drepo.AccountStore, orders drepo.OrderStore, opts ...ExecutorOption) *Executor {
	loc, err := time.LoadLocation(trading.Timezone)
	if err != nil || trading.Timezone == "" {
		loc = time.UTC
	}
	e := &Executor{
		trading:  trading,
		plan:     plan,
		ladder:   NewLadder(trading.Stakes, trading.ExhaustionStake),
		accounts: accounts,
		orders:   orders,
		metrics:  metrics.Nop{},
		log:      logger.Nop(),
		settled:  cache.NewTTLCache(),
		loc:      loc,
		now:      time.Now,
		newID:    uuid.NewString,
		pending:  make(map[string]*models.PendingOrder),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bind attaches the connection orders are sent through.
func (e *Executor) Bind(s Sender) {
	e.mu.Lock()
	e.sender = s
	e.mu.Unlock()
}

// Unbind detaches the connection. Pending orders and the gate are kept; the
// venue replays contract updates after the next authorize.
func (e *Executor) Unbind() { e.Bind(nil) }

// InFlight reports whether the single-flight gate is held.
func (e *Executor) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// AccountID is the venue login id learned from authorize.
func (e *Executor) AccountID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountID
}

// Pending returns copies of unsettled orders, oldest first.
func (e *Executor) Pending() []models.PendingOrder {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.PendingOrder, 0, len(e.pending))
	for _, o := range e.pending {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (e *Executor) today(accountID string) models.DayKey {
	return models.NewDayKey(e.now().In(e.loc), accountID)
}

// Bootstrap runs after a successful authorize. It creates today's
// AccountState when none exists and the balance clears min_balance, and
// reloads pending orders persisted by an earlier process, holding the gate
// until they settle. Unbound orders past the ack timeout are expired first.
// created is false when a state already existed or the
// balance was too low.
func (e *Executor) Bootstrap(ctx context.Context, auth models.Authorization) (state *models.AccountState, created bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.accountID = auth.AccountID
	e.metrics.RecordBalance(auth.AccountID, auth.Balance)

	if err := e.reloadPending(ctx); err != nil {
		e.log.Warn("reload pending orders failed", logger.Error(err))
	}
	e.expireUnbound(ctx)

	key := e.today(auth.AccountID)
	state, err = e.accounts.Find(ctx, key)
	switch {
	case err == nil:
		return state, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, fmt.Errorf("find account state: %w", err)
	}

	if auth.Balance <= e.trading.MinBalance {
		e.log.Info("balance below minimum, not bootstrapping",
			logger.Float64("balance", auth.Balance), logger.Float64("min_balance", e.trading.MinBalance))
		return nil, false, nil
	}

	now := e.now()
	state = &models.AccountState{
		AccountID:       auth.AccountID,
		Email:           auth.Email,
		Currency:        auth.Currency,
		Balance:         auth.Balance,
		DynamicBalance:  auth.Balance,
		Stake:           e.ladder.First(),
		StopLoss:        e.trading.StopLossAmount,
		ProfitThreshold: money(auth.Balance).Mul(decimal.NewFromFloat(e.trading.ProfitThresholdPct)).Div(decimal.NewFromInt(100)).Round(2).InexactFloat64(),
		TradePlan:       e.plan,
		UniqueDate:      key.UniqueDate(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.accounts.Save(ctx, state); err != nil {
		return nil, false, fmt.Errorf("save account state: %w", err)
	}
	e.publish(ctx, models.TradeEvent{Type: models.EventBootstrap, AccountID: state.AccountID, Stake: state.Stake, Balance: state.Balance})
	return state, true, nil
}

func (e *Executor) reloadPending(ctx context.Context) error {
	orders, err := e.orders.List(ctx, e.accountID)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	for _, o := range orders {
		e.pending[o.OrderID] = o
	}
	e.inFlight = len(e.pending) > 0
	if len(orders) > 0 {
		e.log.Info("pending orders reloaded", logger.Int("count", len(orders)))
	}
	return nil
}

// Submit checks the gates in order (in-progress, account-not-found,
// profit-threshold, stop-loss) and sends a buy for the decision. Rejections
// are returned as the matching models.Err* sentinel and never retried.
func (e *Executor) Submit(ctx context.Context, d models.Decision) (models.OrderResult, error) {
	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.submit(ctx, d)
	if err != nil {
		reason := models.RejectReason(err)
		e.metrics.RecordOrder(reason)
		e.publish(ctx, models.TradeEvent{
			Type: models.EventReject, AccountID: e.accountID, Signal: d.Signal, Source: d.Source, Regime: d.Regime, Reason: reason,
		})
		return models.OrderResult{}, err
	}
	e.metrics.RecordOrder("submitted")
	e.metrics.RecordLatency("submit", e.now().Sub(start).Seconds())
	return res, nil
}

func (e *Executor) submit(ctx context.Context, d models.Decision) (models.OrderResult, error) {
	if d.Signal != models.SignalBuy && d.Signal != models.SignalSell {
		return models.OrderResult{}, fmt.Errorf("submit %q: not an order signal", d.Signal)
	}
	if e.inFlight {
		return models.OrderResult{}, models.ErrInProgress
	}
	if e.accountID == "" {
		return models.OrderResult{}, models.ErrAccountNotFound
	}
	state, err := e.accounts.Find(ctx, e.today(e.accountID))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.OrderResult{}, models.ErrAccountNotFound
		}
		return models.OrderResult{}, fmt.Errorf("find account state: %w", err)
	}
	if state.PnL >= state.ProfitThreshold {
		return models.OrderResult{}, models.ErrProfitThreshold
	}
	if e.stopLossBreached(state) {
		return models.OrderResult{}, models.ErrStopLoss
	}
	order, err := e.place(ctx, state, d.Signal, state.Stake, 1, nil)
	if err != nil {
		return models.OrderResult{}, err
	}
	e.publish(ctx, models.TradeEvent{
		Type: models.EventSubmit, AccountID: e.accountID, OrderID: order.OrderID, Signal: d.Signal, Source: d.Source,
		Regime: d.Regime, Stake: order.Stake, Balance: state.Balance,
	})
	return models.OrderResult{Order: *order, Balance: state.Balance}, nil
}

// stopLossBreached applies the configured policy:
// multiplier: balance <= dynamicBalance - stake*stop_loss_multiplier
// absolute:   balance <= dynamicBalance - stopLoss
func (e *Executor) stopLossBreached(s *models.AccountState) bool {
	var floor decimal.Decimal
	switch e.trading.StopLossPolicy {
	case policyAbsolute:
		floor = money(s.DynamicBalance).Sub(money(s.StopLoss))
	case policyMultiplier:
		fallthrough
	default:
		floor = money(s.DynamicBalance).Sub(money(s.Stake).Mul(decimal.NewFromFloat(e.trading.StopLossMultiplier)))
	}
	return money(s.Balance).LessThanOrEqual(floor)
}

// place deducts the stake, persists the order and sends it. Any failure after
// the deduction restores the previous state. Caller holds e.mu.
func (e *Executor) place(ctx context.Context, state *models.AccountState, call models.Signal, stake float64, step int, parent *string) (*models.PendingOrder, error) {
	if e.sender == nil {
		return nil, models.ErrNotConnected
	}
	prev := *state
	now := e.now()

	state.Balance = money(state.Balance).Sub(money(stake)).Round(2).InexactFloat64()
	state.Stake = stake
	state.UpdatedAt = now
	if err := e.accounts.Save(ctx, state); err != nil {
		*state = prev
		return nil, fmt.Errorf("save account state: %w", err)
	}

	order := &models.PendingOrder{
		OrderID:            e.newID(),
		AccountID:          e.accountID,
		Symbol:             e.trading.Symbol,
		Call:               call,
		Stake:              stake,
		MartingaleStep:     step,
		MaxMartingaleSteps: e.trading.MaxMartingaleSteps,
		ParentOrderID:      parent,
		CreatedAt:          now,
	}
	rollback := func(cause error) (*models.PendingOrder, error) {
		delete(e.pending, order.OrderID)
		e.inFlight = len(e.pending) > 0
		if err := e.orders.Delete(ctx, e.accountID, order.OrderID); err != nil {
			e.log.Warn("rollback pending order failed", logger.String("order_id", order.OrderID), logger.Error(err))
		}
		*state = prev
		if err := e.accounts.Save(ctx, state); err != nil {
			e.log.Error("rollback account state failed", logger.Error(err))
		}
		return nil, cause
	}

	if err := e.orders.Save(ctx, order); err != nil {
		return rollback(fmt.Errorf("save pending order: %w", err))
	}
	e.pending[order.OrderID] = order
	e.inFlight = true

	req := models.BuyRequest{
		Price:         stake,
		Amount:        stake,
		ContractType:  call.ContractType(),
		Currency:      e.trading.Currency,
		Duration:      e.trading.Duration,
		DurationUnit:  e.trading.DurationUnit,
		Symbol:        e.trading.Symbol,
		CorrelationID: order.CorrelationID(),
	}
	if err := e.sender.Buy(ctx, req); err != nil {
		return rollback(fmt.Errorf("send buy: %w", err))
	}
	e.metrics.RecordBalance(e.accountID, state.Balance)
	e.log.Info("order submitted",
		logger.String("order_id", order.OrderID),
		logger.String("call", string(call)),
		logger.Float64("stake", stake),
		logger.Int("step", step),
		logger.Float64("balance", state.Balance))
	return order, nil
}

// BindContract attaches the venue contract id from a buy acknowledgement to
// its pending order.
func (e *Executor) BindContract(ctx context.Context, ack models.BuyAck) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.orderForAck(ack)
	if order == nil {
		return fmt.Errorf("bind contract %d: %w", ack.ContractID, models.ErrNoPendingOrder)
	}
	id := ack.ContractID
	order.RemoteContractID = &id
	if err := e.orders.Save(ctx, order); err != nil {
		return fmt.Errorf("save pending order: %w", err)
	}
	e.log.Debug("contract bound", logger.String("order_id", order.OrderID), logger.Int64("contract_id", id))
	return nil
}

// orderForAck resolves by correlation id, falling back to the single unbound
// order when the venue dropped the passthrough.
func (e *Executor) orderForAck(ack models.BuyAck) *models.PendingOrder {
	if ack.CorrelationID != "" {
		acct, orderID, err := models.ParseCorrelationID(ack.CorrelationID)
		if err == nil && acct == e.accountID {
			return e.pending[orderID]
		}
		return nil
	}
	var found *models.PendingOrder
	for _, o := range e.pending {
		if o.RemoteContractID == nil {
			if found != nil {
				return nil
			}
			found = o
		}
	}
	return found
}

// AbortUnbound rolls back orders the venue never acknowledged, e.g. after it
// answered a buy with an error. The stake is refunded and the gate released.
func (e *Executor) AbortUnbound(ctx context.Context, reason string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.abortUnbound(ctx, reason, time.Time{})
}

// ExpireUnbound aborts unbound orders older than trading.ack_timeout. A buy
// whose acknowledgement was lost with the connection can never be matched to
// a settlement, so it would otherwise hold the gate forever. A zero timeout
// disables expiry.
//
// The stake is refunded even though the buy may have executed at the venue.
// The venue's balance on the next authorize is trusted over the local one;
// a settlement that arrives later for such a contract is reported with the
// expired order ids it probably belongs to and is not applied.
func (e *Executor) ExpireUnbound(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expireUnbound(ctx)
}

// Caller holds e.mu.
func (e *Executor) expireUnbound(ctx context.Context) int {
	if e.trading.AckTimeout <= 0 {
		return 0
	}
	n := e.abortUnbound(ctx, reasonAckTimeout, e.now().Add(-e.trading.AckTimeout))
	if n > 0 {
		e.log.Warn("unacknowledged orders expired", logger.Int("count", n), logger.Duration("ack_timeout", e.trading.AckTimeout))
	}
	return n
}

// abortUnbound removes unbound orders created before cutoff, or all of them
// when cutoff is zero. Caller holds e.mu.
func (e *Executor) abortUnbound(ctx context.Context, reason string, cutoff time.Time) int {
	n := 0
	for id, o := range e.pending {
		if o.RemoteContractID != nil {
			continue
		}
		if !cutoff.IsZero() && o.CreatedAt.After(cutoff) {
			continue
		}
		if state, err := e.accounts.Find(ctx, models.NewDayKey(o.CreatedAt.In(e.loc), o.AccountID)); err == nil {
			state.Balance = money(state.Balance).Add(money(o.Stake)).Round(2).InexactFloat64()
			state.UpdatedAt = e.now()
			if err := e.accounts.Save(ctx, state); err != nil {
				e.log.Error("refund stake failed", logger.String("order_id", id), logger.Error(err))
			}
		}
		if err := e.orders.Delete(ctx, o.AccountID, id); err != nil {
			e.log.Warn("delete pending order failed", logger.String("order_id", id), logger.Error(err))
		}
		delete(e.pending, id)
		if reason == reasonAckTimeout {
			e.expired = append(e.expired, id)
			if len(e.expired) > maxExpired {
				e.expired = e.expired[len(e.expired)-maxExpired:]
			}
		}
		n++
		e.metrics.RecordOrder("aborted")
		e.publish(ctx, models.TradeEvent{Type: models.EventReject, AccountID: o.AccountID, OrderID: id, Signal: o.Call, Stake: o.Stake, Reason: reason})
	}
	e.inFlight = len(e.pending) > 0
	return n
}

// Settle resolves a finished contract to its pending order and settles it.
// Replays of a contract settled recently return nil.
func (e *Executor) Settle(ctx context.Context, s models.Settlement) error {
	if !s.Closed() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.pending {
		if o.RemoteContractID != nil && *o.RemoteContractID == s.ContractID {
			return e.settle(ctx, o, s.ContractID, s.Profit)
		}
	}
	key := strconv.FormatInt(s.ContractID, 10)
	if e.settled.Has(key) {
		e.log.Debug("settlement replay ignored", logger.Int64("contract_id", s.ContractID))
		return nil
	}
	if len(e.expired) > 0 {
		e.log.Warn("settlement for unknown contract, expired orders may have executed",
			logger.Int64("contract_id", s.ContractID),
			logger.Float64("profit", s.Profit),
			logger.Strings("expired_order_ids", e.expired))
		return fmt.Errorf("settle contract %d (expired orders %s): %w",
			s.ContractID, strings.Join(e.expired, ","), models.ErrNoPendingOrder)
	}
	return fmt.Errorf("settle contract %d: %w", s.ContractID, models.ErrNoPendingOrder)
}

// SettleOrder settles a pending order by id with the given profit.
func (e *Executor) SettleOrder(ctx context.Context, orderID string, profit float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.pending[orderID]
	if !ok {
		return fmt.Errorf("settle order %s: %w", orderID, models.ErrNoPendingOrder)
	}
	var contractID int64
	if o.RemoteContractID != nil {
		contractID = *o.RemoteContractID
	}
	return e.settle(ctx, o, contractID, profit)
}

// settle releases the gate, moves the ladder and persists. A loss inside a
// martingale chain immediately places the next step, keeping the gate.
// Caller holds e.mu.
func (e *Executor) settle(ctx context.Context, o *models.PendingOrder, contractID int64, profit float64) error {
	start := e.now()
	delete(e.pending, o.OrderID)
	e.inFlight = len(e.pending) > 0
	if err := e.orders.Delete(ctx, o.AccountID, o.OrderID); err != nil {
		e.log.Warn("delete pending order failed", logger.String("order_id", o.OrderID), logger.Error(err))
	}
	if contractID != 0 {
		e.settled.Set(strconv.FormatInt(contractID, 10), o.OrderID, settledTTL)
	}

	key := models.NewDayKey(o.CreatedAt.In(e.loc), o.AccountID)
	state, err := e.accounts.Find(ctx, key)
	if err != nil {
		return fmt.Errorf("settle %s: find account state: %w", o.OrderID, err)
	}

	outcome := "win"
	if profit < 0 {
		outcome = "loss"
		state.Stake = e.ladder.Next(o.Stake)
	} else {
		balance := money(state.Balance).Add(money(o.Stake)).Add(money(profit)).Round(2)
		state.Balance = balance.InexactFloat64()
		if balance.GreaterThan(money(state.DynamicBalance)) {
			state.DynamicBalance = state.Balance
		}
		state.Stake = e.ladder.First()
	}
	state.PnL = money(state.PnL).Add(money(profit)).Round(2).InexactFloat64()

	chain := profit < 0 && o.MaxMartingaleSteps > 1
	if chain && o.MartingaleStep >= o.MaxMartingaleSteps {
		// chain exhausted
		state.Stake = e.ladder.Exhaustion()
		chain = false
	}
	state.UpdatedAt = e.now()
	if err := e.accounts.Save(ctx, state); err != nil {
		return fmt.Errorf("settle %s: save account state: %w", o.OrderID, err)
	}

	e.metrics.RecordSettlement(outcome)
	e.metrics.RecordBalance(o.AccountID, state.Balance)
	e.metrics.RecordLatency("settle", e.now().Sub(start).Seconds())
	e.log.Info("order settled",
		logger.String("order_id", o.OrderID),
		logger.Int64("contract_id", contractID),
		logger.String("outcome", outcome),
		logger.Float64("profit", profit),
		logger.Float64("next_stake", state.Stake),
		logger.Float64("balance", state.Balance),
		logger.Float64("pnl", state.PnL))

	if e.journal != nil {
		rec := models.SettlementRecord{
			AccountID: o.AccountID, OrderID: o.OrderID, ContractID: contractID, Symbol: o.Symbol,
			Call: o.Call, Stake: o.Stake, Profit: profit, Step: o.MartingaleStep, SettledAt: e.now(),
		}
		if err := e.journal.RecordSettlement(ctx, rec); err != nil {
			e.log.Warn("journal settlement failed", logger.Error(err))
		}
	}
	e.publish(ctx, models.TradeEvent{
		Type: models.EventSettle, AccountID: o.AccountID, OrderID: o.OrderID, Signal: o.Call,
		Stake: o.Stake, Profit: profit, Balance: state.Balance,
	})

	if chain {
		e.nextStep(ctx, state, o)
	}
	return nil
}

func (e *Executor) nextStep(ctx context.Context, state *models.AccountState, parent *models.PendingOrder) {
	if e.stopLossBreached(state) {
		e.log.Info("martingale chain stopped", logger.String("reason", models.RejectReason(models.ErrStopLoss)))
		e.metrics.RecordOrder(models.RejectReason(models.ErrStopLoss))
		return
	}
	parentID := parent.OrderID
	order, err := e.place(ctx, state, parent.Call, state.Stake, parent.MartingaleStep+1, &parentID)
	if err != nil {
		e.log.Warn("martingale step failed", logger.String("parent_order_id", parentID), logger.Error(err))
		e.metrics.RecordOrder(models.RejectReason(err))
		return
	}
	e.metrics.RecordOrder("submitted")
	e.publish(ctx, models.TradeEvent{
		Type: models.EventSubmit, AccountID: e.accountID, OrderID: order.OrderID, Signal: order.Call,
		Stake: order.Stake, Balance: state.Balance,
	})
}

func (e *Executor) publish(ctx context.Context, ev models.TradeEvent) {
	if e.events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn("publish trade event failed", logger.String("type", string(ev.Type)), logger.Error(err))
	}
}

func money(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
