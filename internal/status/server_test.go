package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jhalpert/covered_straddle/internal/journal"
	"github.com/jhalpert/covered_straddle/internal/models"
)

type staticPositions struct{ thetas []models.Theta }

func (s staticPositions) Thetas() []models.Theta { return s.thetas }

type staticOrders struct{ statuses []models.OrderStatus }

func (s staticOrders) ActiveOrders() []models.OrderStatus { return s.statuses }

func testTheta(t *testing.T) models.Theta {
	t.Helper()
	expiration := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	call, err := models.NewOption(uuid.New(), models.KindCall, "CHIL", -1, 15.0, expiration, 1.50)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	put, err := models.NewOption(uuid.New(), models.KindPut, "CHIL", -1, 15.0, expiration, 1.40)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	straddle, err := models.NewShortStraddle(call, put)
	if err != nil {
		t.Fatalf("NewShortStraddle: %v", err)
	}
	theta, err := models.NewTheta(models.NewStock(uuid.New(), "CHIL", 100, 15.1), straddle)
	if err != nil {
		t.Fatalf("NewTheta: %v", err)
	}
	return theta
}

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	order := models.NewLimitOrder(uuid.New(), "CHIL", 200, models.Sell, 14.98)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer(Config{Port: 0, AuthToken: token},
		staticPositions{thetas: []models.Theta{testTheta(t)}},
		staticOrders{statuses: []models.OrderStatus{{
			Order: order, State: models.StateSubmitted, Remaining: 200,
		}}},
		nil, nil, logger)
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestPositionsEndpoint(t *testing.T) {
	server := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var views []PositionView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding positions: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("positions = %d, want 1", len(views))
	}
	view := views[0]
	if view.Ticker != "CHIL" || view.Shares != 100 || view.Contracts != -1 || view.Strike != 15.0 {
		t.Errorf("view = %+v, want CHIL 100 shares -1 contracts at 15.0", view)
	}
	if view.Direction != string(models.FallsBelow) {
		t.Errorf("direction = %s, want falls_below", view.Direction)
	}
}

func TestOrdersEndpoint(t *testing.T) {
	server := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	var views []OrderView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding orders: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("orders = %d, want 1", len(views))
	}
	if views[0].ExecutionType != string(models.Limit) || views[0].LimitPrice != 14.98 {
		t.Errorf("order view = %+v, want limit at 14.98", views[0])
	}
}

func TestStatsEndpointWithoutJournal(t *testing.T) {
	server := newTestServer(t, "")

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var stats journal.Statistics
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.TotalReversals != 0 {
		t.Errorf("stats = %+v, want zero values", stats)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	server := newTestServer(t, "secret")

	rec := httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-Auth-Token", "secret")
	rec = httptest.NewRecorder()
	server.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}

	// Health stays reachable without a token.
	rec = httptest.NewRecorder()
	server.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without token", rec.Code)
	}
}
