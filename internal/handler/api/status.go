package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"

	"TickPilot/internal/domain/models"
	domrepo "TickPilot/internal/domain/repository"
	"TickPilot/internal/service/ratelimit"
	xhttp "TickPilot/pkg/http"
	xlogger "TickPilot/pkg/logger"
	"TickPilot/pkg/util"
)

// SessionLister exposes the running sessions.
type SessionLister interface {
	Statuses() []models.SessionStatus
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// StatusHandler serves the read-only status API.
type StatusHandler struct {
	logger   *xlogger.Logger
	sessions SessionLister
	accounts domrepo.AccountStore
	checks   map[string]HealthCheck
	loc      *time.Location
	rl       *ratelimit.Limiter
	now      func() time.Time
	auth     echo.MiddlewareFunc
}

func NewStatusHandler(logger *xlogger.Logger, sessions SessionLister, accounts domrepo.AccountStore, loc *time.Location) *StatusHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &StatusHandler{
		logger:   logger,
		sessions: sessions,
		accounts: accounts,
		checks:   make(map[string]HealthCheck),
		loc:      loc,
		rl:       ratelimit.New(10, 5),
		now:      time.Now,
	}
}

// AddCheck registers a dependency probe for /api/health.
func (h *StatusHandler) AddCheck(name string, check HealthCheck) {
	if check != nil {
		h.checks[name] = check
	}
}

// RequireAuth guards the session and account routes. Health stays open.
func (h *StatusHandler) RequireAuth(mw echo.MiddlewareFunc) {
	h.auth = mw
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/health", h.Health)

	var guard []echo.MiddlewareFunc
	if h.auth != nil {
		guard = append(guard, h.auth)
	}
	g.GET("/sessions", h.Sessions, guard...)
	g.GET("/accounts/:account/state", h.AccountState, guard...)
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *StatusHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	rep := healthReport{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn("health check failed", xlogger.String("dependency", name), xlogger.Error(err))
			rep.Checks[name] = err.Error()
			rep.Status = "degraded"
			continue
		}
		rep.Checks[name] = "ok"
	}
	if rep.Status != "ok" {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, rep)
	}
	return xhttp.SuccessResponse(c, rep)
}

func (h *StatusHandler) Sessions(c echo.Context) error {
	rows := h.sessions.Statuses()
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StatusHandler) AccountState(c echo.Context) error {
	if !h.rl.Allow(c.RealIP()) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}
	req := &models.AccountStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	day, err := util.ParseDay(req.Date, h.now(), h.loc)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("date", "%v", err))
	}

	st, err := h.accounts.Find(c.Request().Context(), models.NewDayKey(day, req.Account))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no state for %s on %s", req.Account, day.Format("2006-01-02")))
		}
		h.logger.Error("account state lookup failed", xlogger.String("account", req.Account), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("account state lookup failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, st)
}
