package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"TickPilot/internal/domain/models"
	"TickPilot/internal/repository"
	"TickPilot/pkg/cache"
	xlogger "TickPilot/pkg/logger"
)

type staticSessions []models.SessionStatus

func (s staticSessions) Statuses() []models.SessionStatus { return s }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*echo.Echo, *StatusHandler, *repository.RedisAccountStore) {
	t.Helper()
	store := repository.NewRedisAccountStore(cache.NewMemoryCache(), 0)
	sessions := staticSessions{{AccountID: "CR1", Token: "****1234", Conn: models.ConnOpen, Regime: models.RegimeSideways}}
	h := NewStatusHandler(xlogger.Nop(), sessions, store, time.UTC)
	h.now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC) }
	e := echo.New()
	h.RegisterRoutes(e)
	return e, h, store
}

func get(t *testing.T, e *echo.Echo, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec, env
}

func TestSessionsEndpoint(t *testing.T) {
	e, _, _ := newTestServer(t)
	rec, env := get(t, e, "/api/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var list struct {
		Rows  []models.SessionStatus `json:"rows"`
		Total int64                  `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 1 || list.Rows[0].AccountID != "CR1" || list.Rows[0].Conn != models.ConnOpen {
		t.Fatalf("unexpected sessions %+v", list)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e, h, _ := newTestServer(t)
	h.AddCheck("redis", func(context.Context) error { return nil })
	if rec, _ := get(t, e, "/api/health"); rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d", rec.Code)
	}
	h.AddCheck("clickhouse", func(context.Context) error { return errors.New("down") })
	rec, env := get(t, e, "/api/health")
	if rec.Code != http.StatusServiceUnavailable || env.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected degraded, got %d", rec.Code)
	}
}

func TestAccountStateEndpoint(t *testing.T) {
	e, _, store := newTestServer(t)
	day := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	_ = store.Save(context.Background(), &models.AccountState{AccountID: "CR1", UniqueDate: models.NewDayKey(day, "CR1").UniqueDate(), Balance: 1000.95})

	for _, path := range []string{"/api/accounts/CR1/state", "/api/accounts/CR1/state?date=2024-03-07"} {
		rec, env := get(t, e, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
		var st models.AccountState
		if err := json.Unmarshal(env.Data, &st); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if st.Balance != 1000.95 {
			t.Fatalf("%s: unexpected state %+v", path, st)
		}
	}

	if rec, _ := get(t, e, "/api/accounts/CR1/state?date=2024-03-08"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing day, got %d", rec.Code)
	}
	if rec, _ := get(t, e, "/api/accounts/CR1/state?date=03-07-2024x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
	if rec, _ := get(t, e, "/api/accounts/CR-1/state"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad account, got %d", rec.Code)
	}
}

func TestAuthGuardsSessionsNotHealth(t *testing.T) {
	store := repository.NewRedisAccountStore(cache.NewMemoryCache(), 0)
	h := NewStatusHandler(xlogger.Nop(), staticSessions{}, store, time.UTC)
	h.RequireAuth(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
	})
	e := echo.New()
	h.RegisterRoutes(e)

	for path, want := range map[string]int{
		"/api/health":             http.StatusOK,
		"/api/sessions":           http.StatusUnauthorized,
		"/api/accounts/CR1/state": http.StatusUnauthorized,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: status = %d, want %d", path, rec.Code, want)
		}
	}
}
