// Package status serves a read-only JSON view of the engine's state.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/jhalpert/covered_straddle/internal/journal"
	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// PositionSource exposes the currently allocated composites.
type PositionSource interface {
	Thetas() []models.Theta
}

// OrderSource exposes the working order table.
type OrderSource interface {
	ActiveOrders() []models.OrderStatus
}

// Config holds the server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the HTTP status endpoint.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	positions PositionSource
	orders    OrderSource
	journal   journal.Interface
	hours     *market.Hours
	logger    *logrus.Logger
	port      int
	authToken string
}

// PositionView is the JSON shape of one allocated composite.
type PositionView struct {
	ID         string    `json:"id"`
	Ticker     string    `json:"ticker"`
	Shares     int64     `json:"shares"`
	Contracts  int64     `json:"contracts"`
	Strike     float64   `json:"strike"`
	Expiration time.Time `json:"expiration"`
	Direction  string    `json:"direction"`
}

// OrderView is the JSON shape of one working order.
type OrderView struct {
	ID            string  `json:"id"`
	Ticker        string  `json:"ticker"`
	Action        string  `json:"action"`
	Quantity      int64   `json:"quantity"`
	ExecutionType string  `json:"execution_type"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	State         string  `json:"state"`
	Filled        int64   `json:"filled"`
	Remaining     int64   `json:"remaining"`
}

// NewServer creates the status server. journal may be nil.
func NewServer(cfg Config, positions PositionSource, orders OrderSource, j journal.Interface, hours *market.Hours, logger *logrus.Logger) *Server {
	if hours == nil {
		hours = market.NewYorkHours()
	}
	s := &Server{
		router:    chi.NewRouter(),
		positions: positions,
		orders:    orders,
		journal:   j,
		hours:     hours,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/orders", s.handleGetOrders)
	s.router.Get("/api/stats", s.handleGetStats)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":      "ok",
		"market_open": s.hours.OpenNow(),
		"time":        time.Now().UTC(),
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	thetas := s.positions.Thetas()
	views := make([]PositionView, 0, len(thetas))
	for _, theta := range thetas {
		level := models.PriceLevelOf(theta)
		views = append(views, PositionView{
			ID:         theta.ID().String(),
			Ticker:     theta.Ticker(),
			Shares:     theta.Stock().Quantity(),
			Contracts:  theta.Straddle().Quantity(),
			Strike:     theta.Price(),
			Expiration: theta.Straddle().Expiration(),
			Direction:  string(level.Direction),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, _ *http.Request) {
	statuses := s.orders.ActiveOrders()
	views := make([]OrderView, 0, len(statuses))
	for _, status := range statuses {
		order := status.Order
		view := OrderView{
			ID:            order.ID().String(),
			Ticker:        order.Ticker(),
			Action:        string(order.Action()),
			Quantity:      order.Quantity(),
			ExecutionType: string(order.ExecutionType()),
			State:         string(status.State),
			Filled:        status.Filled,
			Remaining:     status.Remaining,
		}
		if limit, ok := order.LimitPrice(); ok {
			view.LimitPrice = limit
		}
		views = append(views, view)
	}
	s.writeJSON(w, views)
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, journal.Statistics{})
		return
	}
	s.writeJSON(w, s.journal.GetStatistics())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode status response")
	}
}
