package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TickPilot/internal/domain/repository"
	"TickPilot/internal/usecase"
	"TickPilot/pkg/cache"
	"TickPilot/pkg/config"
	xhttp "TickPilot/pkg/http"
	applogger "TickPilot/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	supervisor *usecase.Supervisor
	httpServer *xhttp.Server
	log        *applogger.Logger
	cache      cache.Service
	events     repository.EventPublisher
	journal    repository.Journal
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	supervisor *usecase.Supervisor,
	httpServer *xhttp.Server,
	log *applogger.Logger,
	c cache.Service,
	events repository.EventPublisher,
	journal repository.Journal,
) *App {
	return &App{
		cfg:        cfg,
		supervisor: supervisor,
		httpServer: httpServer,
		log:        log,
		cache:      c,
		events:     events,
		journal:    journal,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the HTTP server and the supervisor and blocks until ctx
// ends, then shuts everything down.
func (a *App) RunContext(ctx context.Context) error {
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	done := make(chan error, 1)
	go func() { done <- a.supervisor.Run(ctx) }()
	a.log.Info("trading started",
		applogger.String("symbol", a.cfg.Trading.Symbol),
		applogger.String("profile", a.cfg.Profile.Name))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		runErr = <-done
	case runErr = <-done:
		if runErr != nil {
			a.log.Error("supervisor stopped", applogger.Error(runErr))
		}
	}
	return errors.Join(runErr, a.shutdown())
}

// shutdown stops the HTTP server and closes infrastructure clients.
func (a *App) shutdown() error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("event publisher close error", applogger.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("journal close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete", applogger.Duration("took", time.Since(start)))
	return errors.Join(errs...)
}
