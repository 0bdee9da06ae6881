package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TickPilot/internal/domain/models"
	drepo "TickPilot/internal/domain/repository"
	"TickPilot/pkg/logger"
	"TickPilot/pkg/metrics"
)

// SessionFactory builds the session for one API token.
type SessionFactory func(token string) (*Session, error)

// Supervisor keeps one venue connection per account. Each account runs in
// its own goroutine through CONNECTING, OPEN and CLOSED, reconnecting after
// a fixed delay for as long as the account stays registered.
type Supervisor struct {
	dialer   drepo.VenueDialer
	registry drepo.TokenRegistry
	factory  SessionFactory
	delay    time.Duration
	metrics  drepo.Metrics
	log      *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	conns    map[string]drepo.VenueConn
	cancels  map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

func WithReconnectDelay(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.delay = d }
}

func WithSupervisorMetrics(m drepo.Metrics) SupervisorOption {
	return func(s *Supervisor) { s.metrics = m }
}

func WithSupervisorLogger(l *logger.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = l }
}

func NewSupervisor(dialer drepo.VenueDialer, registry drepo.TokenRegistry, factory SessionFactory, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		dialer:   dialer,
		registry: registry,
		factory:  factory,
		delay:    5 * time.Second,
		metrics:  metrics.Nop{},
		log:      logger.Nop(),
		sessions: make(map[string]*Session),
		conns:    make(map[string]drepo.VenueConn),
		cancels:  make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run starts a session for every enabled token and blocks until ctx ends,
// then stops all of them.
func (s *Supervisor) Run(ctx context.Context) error {
	tokens, err := s.registry.ListEnabledTokens(ctx)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		s.log.Warn("no enabled accounts")
	}
	for _, tok := range tokens {
		if err := s.Start(ctx, tok); err != nil {
			s.log.Error("start session failed", logger.String("token", MaskToken(tok)), logger.Error(err))
		}
	}
	<-ctx.Done()
	s.StopAll()
	s.wg.Wait()
	return nil
}

// Start launches the connection loop for token.
func (s *Supervisor) Start(ctx context.Context, token string) error {
	s.mu.Lock()
	if _, ok := s.sessions[token]; ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s already running", MaskToken(token))
	}
	s.mu.Unlock()

	sess, err := s.factory(token)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if _, ok := s.sessions[token]; ok {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("session %s already running", MaskToken(token))
	}
	s.sessions[token] = sess
	s.cancels[token] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, token, sess)
	}()
	return nil
}

// Stop cancels the account's loop and forgets its connection.
func (s *Supervisor) Stop(token string) {
	s.mu.Lock()
	cancel := s.cancels[token]
	delete(s.cancels, token)
	delete(s.sessions, token)
	delete(s.conns, token)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StopAll stops every session.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	tokens := make([]string, 0, len(s.cancels))
	for tok := range s.cancels {
		tokens = append(tokens, tok)
	}
	s.mu.Unlock()
	for _, tok := range tokens {
		s.Stop(tok)
	}
}

// Wait blocks until every loop has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }

// Statuses returns one status per running session ordered by account.
func (s *Supervisor) Statuses() []models.SessionStatus {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]models.SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func (s *Supervisor) loop(ctx context.Context, token string, sess *Session) {
	log := s.log.With(logger.String("token", MaskToken(token)))
	for {
		sess.setConn(models.ConnConnecting)
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			log.Warn("venue dial failed", logger.Error(err), logger.Duration("retry_in", s.delay))
			sess.setConn(models.ConnClosed)
			if !s.wait(ctx) {
				return
			}
			s.metrics.RecordReconnect(sess.Status().AccountID)
			continue
		}

		s.mu.Lock()
		if _, ok := s.sessions[token]; !ok {
			s.mu.Unlock()
			_ = conn.Close()
			sess.setConn(models.ConnClosed)
			return
		}
		s.conns[token] = conn
		s.mu.Unlock()
		log.Info("venue connected")

		err = sess.Serve(ctx, conn)
		_ = conn.Close()
		sess.setConn(models.ConnClosed)

		// reconnect only while the map still points at the connection that
		// just closed
		s.mu.Lock()
		current := s.conns[token]
		s.mu.Unlock()
		if current != conn || ctx.Err() != nil {
			log.Info("session stopped")
			return
		}
		log.Warn("venue connection closed", logger.Error(err), logger.Duration("retry_in", s.delay))
		if !s.wait(ctx) {
			return
		}
		s.metrics.RecordReconnect(sess.Status().AccountID)
	}
}

func (s *Supervisor) wait(ctx context.Context) bool {
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
