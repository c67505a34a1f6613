package broker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/jhalpert/covered_straddle/internal/models"
)

// SimBroker is an in-process Broker for paper trading and tests. It replays a
// scripted position snapshot, accepts pushed ticks and positions, and fills
// orders either automatically after a delay or under manual test control.
type SimBroker struct {
	mu     sync.Mutex
	logger *log.Logger

	connected   bool
	snapshot    []models.Security
	positions   chan models.Security
	positionEnd chan struct{}

	tickStreams map[string]chan models.Tick
	lastTrade   map[string]float64

	orders       map[int]*simOrder
	nextBrokerID int

	autoFill  bool
	fillDelay time.Duration
	submitErr map[string]error
}

type simOrder struct {
	order    *models.ExecutableOrder
	statuses chan models.OrderStatus
	done     bool
}

// Ensure SimBroker implements Broker at compile time.
var _ Broker = (*SimBroker)(nil)

// NewSimBroker creates a SimBroker that auto-fills orders after fillDelay.
// A zero fillDelay fills synchronously with submission.
func NewSimBroker(logger *log.Logger, fillDelay time.Duration) *SimBroker {
	if logger == nil {
		logger = log.New(os.Stderr, "sim: ", log.LstdFlags)
	}
	return &SimBroker{
		logger:       logger,
		positionEnd:  make(chan struct{}),
		tickStreams:  make(map[string]chan models.Tick),
		lastTrade:    make(map[string]float64),
		orders:       make(map[int]*simOrder),
		nextBrokerID: 1000,
		autoFill:     true,
		fillDelay:    fillDelay,
		submitErr:    make(map[string]error),
	}
}

// NewManualSimBroker creates a SimBroker whose orders sit in SUBMITTED until
// FillOrder or CancelOrder is called. Intended for tests.
func NewManualSimBroker(logger *log.Logger) *SimBroker {
	b := NewSimBroker(logger, 0)
	b.autoFill = false
	return b
}

// Seed sets the initial position snapshot replayed by RequestPositions.
func (s *SimBroker) Seed(securities ...models.Security) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = append(s.snapshot, securities...)
}

// FailSubmit forces SubmitOrder for the ticker to return err.
func (s *SimBroker) FailSubmit(ticker string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr[ticker] = err
}

// Connect marks the session established.
func (s *SimBroker) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// RequestPositions replays the seeded snapshot, signals position-end, then
// leaves the feed open for PushPosition.
func (s *SimBroker) RequestPositions() (<-chan models.Security, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("sim broker not connected")
	}
	if s.positions != nil {
		return s.positions, nil
	}

	s.positions = make(chan models.Security, 64)
	snapshot := make([]models.Security, len(s.snapshot))
	copy(snapshot, s.snapshot)
	feed := s.positions

	go func() {
		for _, security := range snapshot {
			feed <- security
		}
		close(s.positionEnd)
	}()

	return s.positions, nil
}

// AwaitPositionEnd blocks until the snapshot replay finishes or ctx expires.
func (s *SimBroker) AwaitPositionEnd(ctx context.Context) error {
	select {
	case <-s.positionEnd:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for position end: %w", ctx.Err())
	}
}

// PushPosition delivers a live position update on the feed.
func (s *SimBroker) PushPosition(security models.Security) {
	s.mu.Lock()
	feed := s.positions
	s.mu.Unlock()
	if feed == nil {
		return
	}
	feed <- security
}

// SubscribeTicks opens (or returns the existing) quote stream for ticker.
func (s *SimBroker) SubscribeTicks(ticker string) (<-chan models.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.tickStreams[ticker]; ok {
		return stream, nil
	}
	stream := make(chan models.Tick, 1)
	s.tickStreams[ticker] = stream
	return stream, nil
}

// UnsubscribeTicks closes the ticker's quote stream.
func (s *SimBroker) UnsubscribeTicks(ticker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream, ok := s.tickStreams[ticker]; ok {
		close(stream)
		delete(s.tickStreams, ticker)
	}
}

// PushTick delivers a quote on the ticker's stream with keep-latest
// backpressure: a full buffer drops the stale tick, never the new one.
func (s *SimBroker) PushTick(tick models.Tick) {
	s.mu.Lock()
	stream, ok := s.tickStreams[tick.Ticker]
	if tick.Last > 0 {
		s.lastTrade[tick.Ticker] = tick.Last
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case stream <- tick:
	default:
		select {
		case <-stream:
		default:
		}
		stream <- tick
	}
}

// SubmitOrder accepts the order, assigns a broker id and emits SUBMITTED.
// Auto-fill mode fills after the configured delay.
func (s *SimBroker) SubmitOrder(order *models.ExecutableOrder) (<-chan models.OrderStatus, error) {
	s.mu.Lock()
	if err := s.submitErr[order.Ticker()]; err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.nextBrokerID++
	brokerID := s.nextBrokerID
	order.SetBrokerID(brokerID)

	entry := &simOrder{
		order:    order,
		statuses: make(chan models.OrderStatus, 16),
	}
	s.orders[brokerID] = entry
	entry.statuses <- models.OrderStatus{
		Order:     order,
		State:     models.StateSubmitted,
		Remaining: order.Quantity(),
	}
	autoFill := s.autoFill
	delay := s.fillDelay
	s.mu.Unlock()

	s.logger.Printf("Submitted order %s", order)

	if autoFill {
		if delay <= 0 {
			s.fill(brokerID)
		} else {
			time.AfterFunc(delay, func() { s.fill(brokerID) })
		}
	}

	return entry.statuses, nil
}

// ModifyOrder amends a working order; the original status stream continues.
func (s *SimBroker) ModifyOrder(order *models.ExecutableOrder) error {
	brokerID, ok := order.BrokerID()
	if !ok {
		return fmt.Errorf("modify without broker id: %s", order)
	}

	s.mu.Lock()
	entry, found := s.orders[brokerID]
	if !found || entry.done {
		s.mu.Unlock()
		return fmt.Errorf("no working order with broker id %d", brokerID)
	}
	entry.order = order
	entry.statuses <- models.OrderStatus{
		Order:     order,
		State:     models.StateSubmitted,
		Remaining: order.Quantity(),
	}
	autoFill := s.autoFill
	s.mu.Unlock()

	s.logger.Printf("Modified order %s", order)

	if autoFill {
		s.fill(brokerID)
	}
	return nil
}

// CancelOrder cancels a working order and terminates its status stream.
func (s *SimBroker) CancelOrder(brokerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.orders[brokerID]
	if !found || entry.done {
		return fmt.Errorf("no working order with broker id %d", brokerID)
	}
	entry.done = true
	entry.statuses <- models.OrderStatus{
		Order:     entry.order,
		State:     models.StateCancelled,
		Remaining: entry.order.Quantity(),
	}
	close(entry.statuses)
	return nil
}

// FillOrder completes a working order. Intended for manual-mode tests.
func (s *SimBroker) FillOrder(brokerID int) error {
	s.mu.Lock()
	entry, found := s.orders[brokerID]
	if !found || entry.done {
		s.mu.Unlock()
		return fmt.Errorf("no working order with broker id %d", brokerID)
	}
	s.mu.Unlock()
	s.fill(brokerID)
	return nil
}

func (s *SimBroker) fill(brokerID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.orders[brokerID]
	if !found || entry.done {
		return
	}
	entry.done = true

	fillPrice, hasLimit := entry.order.LimitPrice()
	if !hasLimit {
		fillPrice = s.lastTrade[entry.order.Ticker()]
	}
	entry.statuses <- models.OrderStatus{
		Order:        entry.order,
		State:        models.StateFilled,
		Filled:       entry.order.Quantity(),
		Remaining:    0,
		AvgFillPrice: fillPrice,
		Commission:   1.0,
	}
	close(entry.statuses)
}

// Close tears down all open streams.
func (s *SimBroker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticker, stream := range s.tickStreams {
		close(stream)
		delete(s.tickStreams, ticker)
	}
	if s.positions != nil {
		close(s.positions)
		s.positions = nil
	}
	s.connected = false
	return nil
}
