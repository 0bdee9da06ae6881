package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TickPilot/internal/domain/models"
	drepo "TickPilot/internal/domain/repository"
	"TickPilot/internal/service/ratelimit"
	"TickPilot/internal/services/analytics"
	"TickPilot/internal/services/features"
	"TickPilot/pkg/logger"
	"TickPilot/pkg/metrics"
)

var errClosed = errors.New("venue connection closed")

// SessionConfig is the per-account loop configuration.
type SessionConfig struct {
	Token         string
	Symbol        string
	CycleInterval time.Duration
	PingInterval  time.Duration
	Retention     time.Duration
	MaxTicks      int
}

// Session owns one account: its tick buffer, strategy and executor. Serve
// runs every handler and every decision cycle on a single goroutine, so none
// of that state needs locking. Only the status view is shared.
type Session struct {
	cfg      SessionConfig
	strategy *analytics.Strategy
	exec     *Executor
	ticks    *features.TickBuffer
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	limiter  *ratelimit.Limiter
	base     *logger.Logger // token-scoped, log adds the account
	log      *logger.Logger
	now      func() time.Time

	mu     sync.RWMutex
	status models.SessionStatus
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithSessionEvents(p drepo.EventPublisher) SessionOption {
	return func(s *Session) { s.events = p }
}

func WithSessionMetrics(m drepo.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithSessionLogger(l *logger.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithWarnLimiter throttles warnings for malformed frames.
func WithWarnLimiter(l *ratelimit.Limiter) SessionOption {
	return func(s *Session) { s.limiter = l }
}

func NewSession(cfg SessionConfig, strategy *analytics.Strategy, exec *Executor, opts ...SessionOption) *Session {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	s := &Session{
		cfg:      cfg,
		strategy: strategy,
		exec:     exec,
		ticks:    features.NewTickBuffer(cfg.MaxTicks),
		metrics:  metrics.Nop{},
		limiter:  ratelimit.New(5, 0.2),
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.base = s.log.With(logger.String("token", MaskToken(cfg.Token)))
	s.log = s.base
	s.status = models.SessionStatus{Token: MaskToken(cfg.Token), Conn: models.ConnClosed, Regime: models.RegimeUnknown, Phase: "IDLE"}
	return s
}

// Token is the API token the session authorizes with.
func (s *Session) Token() string { return s.cfg.Token }

// Status returns a snapshot for the status API.
func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	st.InFlight = s.exec.InFlight()
	return st
}

func (s *Session) setConn(c models.ConnState) {
	s.mu.Lock()
	s.status.Conn = c
	s.mu.Unlock()
}

// Serve drives one open connection until it fails or ctx ends. It returns
// nil only when ctx was cancelled.
func (s *Session) Serve(ctx context.Context, conn drepo.VenueConn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.exec.Bind(conn)
	defer s.exec.Unbind()
	s.setConn(models.ConnOpen)

	events, errs := conn.Read(ctx)
	if err := s.open(ctx, conn); err != nil {
		return err
	}

	cycle := time.NewTicker(s.cfg.CycleInterval)
	defer cycle.Stop()
	keepalive := time.NewTicker(s.cfg.PingInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if err, ok := <-errs; ok && err != nil {
					return err
				}
				if ctx.Err() != nil {
					return nil
				}
				return errClosed
			}
			s.handle(ctx, ev)
		case <-cycle.C:
			s.Cycle(ctx)
		case <-keepalive.C:
			if err := s.keepalive(ctx, conn); err != nil {
				return err
			}
		}
	}
}

// open sends authorize and the subscriptions.
func (s *Session) open(ctx context.Context, conn drepo.VenueConn) error {
	if err := conn.Authorize(ctx, s.cfg.Token); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if err := conn.SubscribeTicks(ctx, s.cfg.Symbol); err != nil {
		return fmt.Errorf("subscribe ticks: %w", err)
	}
	if err := conn.SubscribeContracts(ctx); err != nil {
		return fmt.Errorf("subscribe contracts: %w", err)
	}
	return nil
}

func (s *Session) keepalive(ctx context.Context, conn drepo.VenueConn) error {
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := conn.SubscribeContracts(ctx); err != nil {
		return fmt.Errorf("refresh contracts: %w", err)
	}
	s.mu.Lock()
	s.status.LastPing = s.now()
	s.mu.Unlock()
	return nil
}

// handle routes one inbound event by message type.
func (s *Session) handle(ctx context.Context, ev models.VenueEvent) {
	switch ev.Type {
	case models.MsgAuthorize:
		s.onAuthorize(ctx, *ev.Auth)
	case models.MsgTick:
		s.onTick(*ev.Tick)
	case models.MsgBuy:
		if err := s.exec.BindContract(ctx, *ev.Buy); err != nil {
			s.log.Warn("buy acknowledgement not bound", logger.Int64("contract_id", ev.Buy.ContractID), logger.Error(err))
		}
	case models.MsgContract:
		if !ev.Contract.Closed() {
			return
		}
		if err := s.exec.Settle(ctx, *ev.Contract); err != nil {
			s.log.Warn("settlement dropped", logger.Int64("contract_id", ev.Contract.ContractID), logger.Error(err))
		}
	case models.MsgError:
		s.onError(ctx, ev.Err)
	}
}

func (s *Session) onAuthorize(ctx context.Context, auth models.Authorization) {
	s.log = s.base.With(logger.String("account", auth.AccountID))
	s.mu.Lock()
	s.status.AccountID = auth.AccountID
	s.mu.Unlock()

	state, created, err := s.exec.Bootstrap(ctx, auth)
	if err != nil {
		s.log.Error("account bootstrap failed", logger.Error(err))
		return
	}
	switch {
	case created:
		s.log.Info("account state created",
			logger.Float64("balance", state.Balance),
			logger.Float64("stake", state.Stake),
			logger.Float64("profit_threshold", state.ProfitThreshold))
	case state != nil:
		s.log.Info("authorized", logger.Float64("balance", state.Balance), logger.Float64("pnl", state.PnL))
	default:
		s.log.Info("authorized without trading state", logger.Float64("balance", auth.Balance))
	}
}

// onTick buffers the tick and evicts anything older than the retention
// window measured from the newest tick.
func (s *Session) onTick(t models.Tick) {
	if !s.ticks.Add(t) {
		return
	}
	if s.cfg.Retention > 0 {
		s.ticks.Evict(t.Epoch - int64(s.cfg.Retention/time.Second))
	}
	s.metrics.RecordTick(s.exec.AccountID())
}

func (s *Session) onError(ctx context.Context, e *models.VenueError) {
	if e == nil {
		return
	}
	if e.Code == models.CodeMalformedFrame {
		if s.limiter.Allow(s.cfg.Token) {
			s.log.Warn("malformed venue message dropped", logger.String("error", e.Message))
		}
		return
	}
	s.log.Warn("venue error",
		logger.String("code", e.Code),
		logger.String("message", e.Message),
		logger.String("msg_type", string(e.MsgType)))
	if e.MsgType == models.MsgBuy {
		if n := s.exec.AbortUnbound(ctx, e.Code); n > 0 {
			s.log.Info("unacknowledged orders rolled back", logger.Int("count", n))
		}
	}
}

// Cycle runs one decision step over the buffered ticks and submits any
// BUY or SELL it yields.
func (s *Session) Cycle(ctx context.Context) models.Decision {
	s.exec.ExpireUnbound(ctx)
	out := s.strategy.Step(s.ticks.Snapshot())
	account := s.exec.AccountID()

	state := s.strategy.State()
	s.mu.Lock()
	s.status.Regime = out.Decision.Regime
	s.status.Phase = state.Phase()
	s.status.Ticks = s.ticks.Len()
	s.status.LastCycle = s.now()
	s.mu.Unlock()

	if out.Changed {
		s.metrics.RecordRegime(account, string(out.Decision.Regime))
		s.log.Info("regime changed", logger.String("regime", string(out.Decision.Regime)))
	}
	d := out.Decision
	if d.Signal == models.SignalHold {
		return d
	}

	s.metrics.RecordSignal(string(d.Regime), string(d.Signal), string(d.Source))
	s.log.Info("signal",
		logger.String("signal", string(d.Signal)),
		logger.String("source", string(d.Source)),
		logger.String("regime", string(d.Regime)),
		logger.Float64("k", out.Snapshot.LastK()),
		logger.Float64("d", out.Snapshot.LastD()),
		logger.Float64("rsi", out.Snapshot.LastRSI()))
	if s.events != nil {
		ev := models.TradeEvent{Type: models.EventSignal, AccountID: account, Signal: d.Signal, Source: d.Source, Regime: d.Regime, Time: s.now()}
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warn("publish signal failed", logger.Error(err))
		}
	}

	if _, err := s.exec.Submit(ctx, d); err != nil {
		s.log.Info("order rejected", logger.String("reason", models.RejectReason(err)), logger.Error(err))
	}
	return d
}

// MaskToken keeps the last four characters of a token.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
