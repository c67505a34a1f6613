package execution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// ErrMarketClosed marks an execution skipped outside trading hours. The order
// is not queued; the caller must re-decide on a later tick.
var ErrMarketClosed = errors.New("market closed")

// OrderRouter is the order slice of the brokerage connection.
type OrderRouter interface {
	SubmitOrder(order *models.ExecutableOrder) (<-chan models.OrderStatus, error)
	ModifyOrder(order *models.ExecutableOrder) error
	CancelOrder(brokerID int) error
}

// Recorder persists terminal order outcomes.
type Recorder interface {
	RecordFill(status models.OrderStatus) error
}

// workingOrder is one active-table entry. done closes once the order's
// tracking finishes; err then holds the terminal outcome.
type workingOrder struct {
	status models.OrderStatus
	done   chan struct{}
	err    error
}

// Manager tracks every working order in an active table keyed by the
// engine-side order id. Submissions for an id already in the table become
// modifications of the working broker order and share its outcome.
type Manager struct {
	mu     sync.Mutex
	active map[uuid.UUID]*workingOrder

	router   OrderRouter
	recorder Recorder
	hours    *market.Hours
	logger   *log.Logger
	now      func() time.Time
}

// NewManager creates an execution manager routing orders through router.
// recorder may be nil when fills need no journaling.
func NewManager(router OrderRouter, recorder Recorder, hours *market.Hours, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "execution: ", log.LstdFlags)
	}
	if hours == nil {
		hours = market.NewYorkHours()
	}
	return &Manager{
		active:   make(map[uuid.UUID]*workingOrder),
		router:   router,
		recorder: recorder,
		hours:    hours,
		logger:   logger,
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (m *Manager) SetNowFunc(now func() time.Time) { m.now = now }

// ReverseTrade submits the order that closes and inverts the stock position,
// blocking until the order reaches a terminal state.
func (m *Manager) ReverseTrade(ctx context.Context, stock models.Stock, execType models.ExecutionType, limitPrice float64, hasLimit bool) error {
	order := NewReversalOrder(stock, execType, limitPrice, hasLimit)
	m.logger.Printf("Reversing position %s with %s", stock, order)
	return m.Execute(ctx, order)
}

// Execute routes an order to the broker and tracks it until terminal. Outside
// market hours the order is skipped with ErrMarketClosed; the next session's
// ticks re-trigger it. A resubmission for a working id becomes a modification
// and blocks until the original submission terminates, so success here always
// means the order actually completed.
func (m *Manager) Execute(ctx context.Context, order *models.ExecutableOrder) error {
	if !m.hours.IsOpen(m.now()) {
		m.logger.Printf("Market closed, not executing %s", order)
		return ErrMarketClosed
	}

	m.mu.Lock()
	if existing, isWorking := m.active[order.ID()]; isWorking {
		err := m.modifyLocked(existing, order)
		m.mu.Unlock()
		if err != nil {
			return err
		}
		select {
		case <-existing.done:
			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	working := &workingOrder{
		status: models.OrderStatus{Order: order, State: models.StatePending, Remaining: order.Quantity()},
		done:   make(chan struct{}),
	}
	m.active[order.ID()] = working
	m.mu.Unlock()

	statuses, err := m.router.SubmitOrder(order)
	if err != nil {
		m.abort(order)
		err = fmt.Errorf("submitting %s: %w", order, err)
		working.err = err
		close(working.done)
		return err
	}
	working.err = m.track(ctx, order, statuses)
	close(working.done)
	return working.err
}

// modifyLocked applies a changed order to the working broker order. A filled
// or unacknowledged working order cannot be modified; both cases log and fall
// through to joining the original submission's outcome.
func (m *Manager) modifyLocked(existing *workingOrder, order *models.ExecutableOrder) error {
	if existing.status.State == models.StateFilled {
		m.logger.Printf("Order already filled, ignoring modification: %s", order)
		return nil
	}
	if !ordersDiffer(existing.status.Order, order) {
		m.logger.Printf("Unmodified order, ignoring: %s", order)
		return nil
	}
	brokerID, ok := existing.status.Order.BrokerID()
	if !ok {
		m.logger.Printf("Working order has no broker id yet, cannot modify: %s", existing.status.Order)
		return nil
	}
	order.SetBrokerID(brokerID)
	if err := m.router.ModifyOrder(order); err != nil {
		return fmt.Errorf("modifying order %d: %w", brokerID, err)
	}
	existing.status = models.OrderStatus{
		Order:     order,
		State:     existing.status.State,
		Filled:    existing.status.Filled,
		Remaining: order.Quantity() - existing.status.Filled,
	}
	m.logger.Printf("Modified working order %d to %s", brokerID, order)
	return nil
}

// ordersDiffer reports whether a resubmission changes anything the broker
// cares about.
func ordersDiffer(working, next *models.ExecutableOrder) bool {
	if working.Quantity() != next.Quantity() || working.ExecutionType() != next.ExecutionType() {
		return true
	}
	workingLimit, _ := working.LimitPrice()
	nextLimit, _ := next.LimitPrice()
	return workingLimit != nextLimit
}

// track consumes the status stream, mirroring each update into the active
// table, until the order terminates or ctx is cancelled. Only a fill is
// success; a cancellation or a stream closed mid-flight leaves the position
// unreversed and reports an error so the caller keeps watching it.
func (m *Manager) track(ctx context.Context, order *models.ExecutableOrder, statuses <-chan models.OrderStatus) error {
	for {
		select {
		case <-ctx.Done():
			m.abort(order)
			return ctx.Err()
		case status, ok := <-statuses:
			if !ok {
				m.purge(order.ID())
				return fmt.Errorf("status stream closed before %s terminated", order)
			}
			m.logger.Printf("Order update: %s", status)
			m.mu.Lock()
			if working, isWorking := m.active[order.ID()]; isWorking {
				working.status = status
			}
			m.mu.Unlock()
			if !status.State.Terminal() {
				continue
			}
			m.purge(order.ID())
			if status.State != models.StateFilled {
				return fmt.Errorf("%s terminated %s without filling", order, status.State)
			}
			if m.recorder != nil {
				if err := m.recorder.RecordFill(status); err != nil {
					m.logger.Printf("Recording fill failed: %v", err)
				}
			}
			return nil
		}
	}
}

// ConvertToMarketOrderIfExists flips the ticker's working limit order to a
// market order. No-op when nothing is working or the order is already market.
func (m *Manager) ConvertToMarketOrderIfExists(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, working := range m.active {
		order := working.status.Order
		if order.Ticker() != ticker || order.ExecutionType() != models.Limit || working.status.State.Terminal() {
			continue
		}
		brokerID, ok := order.BrokerID()
		if !ok {
			continue
		}
		converted := models.NewOrder(order.ID(), order.Ticker(), order.Quantity(), order.Action())
		converted.SetBrokerID(brokerID)
		if err := m.router.ModifyOrder(converted); err != nil {
			m.logger.Printf("Converting %s to market failed: %v", order, err)
			continue
		}
		m.logger.Printf("Converted working order to market: %s", converted)
		working.status = models.OrderStatus{
			Order:     converted,
			State:     working.status.State,
			Filled:    working.status.Filled,
			Remaining: working.status.Remaining,
		}
	}
}

// abort cancels whatever the broker knows about the order and drops it from
// the active table.
func (m *Manager) abort(order *models.ExecutableOrder) {
	if brokerID, ok := order.BrokerID(); ok {
		if err := m.router.CancelOrder(brokerID); err != nil {
			m.logger.Printf("Cancelling order %d failed: %v", brokerID, err)
		}
	}
	m.purge(order.ID())
}

func (m *Manager) purge(id uuid.UUID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// ActiveOrders returns a snapshot of the working order table.
func (m *Manager) ActiveOrders() []models.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OrderStatus, 0, len(m.active))
	for _, working := range m.active {
		out = append(out, working.status)
	}
	return out
}

// Shutdown drops local bookkeeping. Working broker orders are left alone so
// a restart can resume managing them from the position feed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.active) > 0 {
		m.logger.Printf("Shutting down with %d working order(s)", len(m.active))
	}
	m.active = make(map[uuid.UUID]*workingOrder)
}
