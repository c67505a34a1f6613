// Package portfolio reconstructs covered-straddle composite positions from
// the raw brokerage position feed.
package portfolio

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// settleDelay is how long the position feed must stay quiet before the
// allocation tables are logged.
const settleDelay = 1 * time.Second

// Monitor receives allocate and retract events for composite positions.
type Monitor interface {
	AddMonitor(theta models.Theta)
	RemoveMonitor(theta models.Theta)
}

// Manager owns the allocation state: the security table, the composite table
// and the security-to-composite links. All three maps are guarded by one
// mutex; callers never see them directly.
type Manager struct {
	mu      sync.RWMutex
	monitor Monitor
	logger  *log.Logger

	securities map[uuid.UUID]models.Security
	thetas     map[uuid.UUID]models.Theta
	links      map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewManager creates a portfolio manager emitting events to monitor.
func NewManager(monitor Monitor, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "portfolio: ", log.LstdFlags)
	}
	return &Manager{
		monitor:    monitor,
		logger:     logger,
		securities: make(map[uuid.UUID]models.Security),
		thetas:     make(map[uuid.UUID]models.Theta),
		links:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Run consumes the position feed until it closes or ctx is cancelled. After
// the feed has been quiet for a moment the allocation tables are logged.
func (m *Manager) Run(ctx context.Context, feed <-chan models.Security) error {
	var settle *time.Timer
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case security, ok := <-feed:
			if !ok {
				return nil
			}
			m.ProcessSecurity(security)
			if settle != nil {
				settle.Stop()
			}
			settle = time.AfterFunc(settleDelay, m.logAllocations)
		}
	}
}

// ProcessSecurity applies one position update: retract composites the
// security participates in, store or drop the security, then re-match its
// ticker. Re-processing an unchanged update is a no-op.
func (m *Manager) ProcessSecurity(security models.Security) {
	m.logger.Printf("Processing position: %s", security)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.retractLocked(security)

	if security.Quantity() != 0 {
		m.securities[security.ID()] = security
		m.rematchLocked(security.Ticker())
	} else {
		if _, known := m.securities[security.ID()]; known {
			delete(m.securities, security.ID())
		}
		m.logger.Printf("Security not stored due to 0 quantity: %s", security)
	}
}

// retractLocked removes every composite linked to the security, cascading the
// removal through the other two legs' links, and emits a retract event per
// removed composite.
func (m *Manager) retractLocked(security models.Security) {
	thetaIDs := m.links[security.ID()]
	delete(m.links, security.ID())

	for thetaID := range thetaIDs {
		theta, ok := m.thetas[thetaID]
		if !ok {
			continue
		}
		delete(m.thetas, thetaID)

		m.retractLocked(theta.Stock())
		m.retractLocked(theta.Call())
		m.retractLocked(theta.Put())

		m.logger.Printf("Retracted composite %s at %s based on update to %s",
			theta, models.PriceLevelOf(theta), security)
		m.monitor.RemoveMonitor(theta)
	}
}

// rematchLocked recomputes the unallocated securities for a ticker and forms
// any newly possible composites.
func (m *Manager) rematchLocked(ticker string) {
	stocks := make([]models.Stock, 0, 2)
	for _, security := range m.unallocatedLocked(ticker, models.KindStock) {
		stocks = append(stocks, security.(models.Stock))
	}
	calls := make([]models.Option, 0, 2)
	for _, security := range m.unallocatedLocked(ticker, models.KindCall) {
		calls = append(calls, security.(models.Option))
	}
	puts := make([]models.Option, 0, 2)
	for _, security := range m.unallocatedLocked(ticker, models.KindPut) {
		puts = append(puts, security.(models.Option))
	}

	if len(stocks) == 0 || len(calls) == 0 || len(puts) == 0 {
		return
	}

	for _, theta := range FormThetas(stocks, calls, puts, m.logger) {
		m.registerLocked(theta)
		m.logger.Printf("Allocated composite %s at %s", theta, models.PriceLevelOf(theta))
		m.monitor.AddMonitor(theta)
	}
}

// unallocatedLocked returns per-security remainders for a ticker and kind:
// the security's quantity minus whatever existing composites already claim,
// dropped when nothing remains.
func (m *Manager) unallocatedLocked(ticker string, kind models.SecurityKind) []models.Security {
	claimed := make(map[uuid.UUID]int64)
	for _, theta := range m.thetas {
		if theta.Ticker() != ticker {
			continue
		}
		if leg := theta.LegOfKind(kind); leg != nil {
			claimed[leg.ID()] += leg.Quantity()
		}
	}

	var unallocated []models.Security
	for _, security := range m.securities {
		if security.Ticker() != ticker || security.Kind() != kind || security.Quantity() == 0 {
			continue
		}

		remainder := absQuantity(security.Quantity() - claimed[security.ID()])
		if adjusted, ok := withUnallocatedQuantity(security, remainder, m.logger); ok {
			unallocated = append(unallocated, adjusted)
		}
	}

	return unallocated
}

// registerLocked records the composite and links all three legs to it.
func (m *Manager) registerLocked(theta models.Theta) {
	m.thetas[theta.ID()] = theta
	for _, leg := range []models.Security{theta.Stock(), theta.Call(), theta.Put()} {
		thetaIDs, ok := m.links[leg.ID()]
		if !ok {
			thetaIDs = make(map[uuid.UUID]struct{})
			m.links[leg.ID()] = thetaIDs
		}
		thetaIDs[theta.ID()] = struct{}{}
	}
}

// Thetas returns a snapshot of the currently allocated composites.
func (m *Manager) Thetas() []models.Theta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	thetas := make([]models.Theta, 0, len(m.thetas))
	for _, theta := range m.thetas {
		thetas = append(thetas, theta)
	}
	return thetas
}

func (m *Manager) logAllocations() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.logger.Printf("Portfolio settled: %d securities, %d composites, %d linked legs",
		len(m.securities), len(m.thetas), len(m.links))
	for _, theta := range m.thetas {
		m.logger.Printf("  %s", theta)
	}
}

func absQuantity(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
