package tick

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/execution"
	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// MonitorConfig tunes the monitor's timing behavior.
type MonitorConfig struct {
	// UnsubscribeDelay is how long a ticker stays subscribed after its last
	// composite is retracted. Retract-then-restore churn from a position
	// update must not bounce the market data subscription.
	UnsubscribeDelay time.Duration

	// StaleTick is the tick age past which a staleness warning is logged.
	StaleTick time.Duration
}

// DefaultMonitorConfig is used when NewMonitor gets no override.
var DefaultMonitorConfig = MonitorConfig{
	UnsubscribeDelay: 1 * time.Second,
	StaleTick:        2 * time.Second,
}

// Executor places reversal trades for triggered composites.
type Executor interface {
	// ReverseTrade closes out the stock side of a composite and blocks until
	// the order reaches a terminal state or fails.
	ReverseTrade(ctx context.Context, stock models.Stock, execType models.ExecutionType, limitPrice float64, hasLimit bool) error
	// ConvertToMarketOrderIfExists flips any working limit order on the
	// ticker to a market order.
	ConvertToMarketOrderIfExists(ticker string)
}

// TickSubscriber is the market data slice of the brokerage connection.
type TickSubscriber interface {
	SubscribeTicks(ticker string) (<-chan models.Tick, error)
	UnsubscribeTicks(ticker string)
}

// Monitor watches price levels for allocated composites. All tickers feed one
// intake channel, so updates for the same ticker are processed in order and
// the crossing check never races the retire bookkeeping.
type Monitor struct {
	mu         sync.Mutex
	monitored  map[uuid.UUID]models.Theta
	watchCount map[string]int
	subscribed map[string]bool
	unsubTimer map[string]*time.Timer

	intake     chan models.Tick
	done       chan struct{}
	doneOnce   sync.Once
	subscriber TickSubscriber
	processor  Processor
	executor   Executor
	hours      *market.Hours
	logger     *log.Logger
	now        func() time.Time
	config     MonitorConfig

	wg sync.WaitGroup
}

// NewMonitor creates a tick monitor using processor as the crossing strategy.
func NewMonitor(subscriber TickSubscriber, processor Processor, executor Executor, hours *market.Hours, logger *log.Logger, config ...MonitorConfig) *Monitor {
	if logger == nil {
		logger = log.New(os.Stderr, "tick: ", log.LstdFlags)
	}
	if hours == nil {
		hours = market.NewYorkHours()
	}
	cfg := DefaultMonitorConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.UnsubscribeDelay <= 0 {
		cfg.UnsubscribeDelay = DefaultMonitorConfig.UnsubscribeDelay
	}
	if cfg.StaleTick <= 0 {
		cfg.StaleTick = DefaultMonitorConfig.StaleTick
	}
	return &Monitor{
		monitored:  make(map[uuid.UUID]models.Theta),
		watchCount: make(map[string]int),
		subscribed: make(map[string]bool),
		unsubTimer: make(map[string]*time.Timer),
		intake:     make(chan models.Tick, 16),
		done:       make(chan struct{}),
		subscriber: subscriber,
		processor:  processor,
		executor:   executor,
		hours:      hours,
		logger:     logger,
		now:        time.Now,
		config:     cfg,
	}
}

// SetNowFunc overrides the clock for tests.
func (m *Monitor) SetNowFunc(now func() time.Time) { m.now = now }

// AddMonitor starts watching the composite's price level, subscribing to the
// ticker on first use. A pending delayed unsubscribe for the ticker is
// cancelled.
func (m *Monitor) AddMonitor(theta models.Theta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.monitored[theta.ID()]; ok {
		return
	}
	m.monitored[theta.ID()] = theta

	ticker := theta.Ticker()
	if timer, ok := m.unsubTimer[ticker]; ok {
		timer.Stop()
		delete(m.unsubTimer, ticker)
	}
	m.watchCount[ticker]++
	if m.subscribed[ticker] {
		return
	}

	stream, err := m.subscriber.SubscribeTicks(ticker)
	if err != nil {
		m.logger.Printf("Tick subscription for %s failed: %v", ticker, err)
		delete(m.monitored, theta.ID())
		m.watchCount[ticker]--
		if m.watchCount[ticker] <= 0 {
			delete(m.watchCount, ticker)
		}
		return
	}
	m.subscribed[ticker] = true
	m.logger.Printf("Subscribed to ticks for %s at %s", ticker, models.PriceLevelOf(theta))
	m.wg.Add(1)
	go m.pump(stream)
}

// RemoveMonitor stops watching the composite. The ticker subscription is torn
// down only after a quiet period with no composites on it.
func (m *Monitor) RemoveMonitor(theta models.Theta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(theta)
}

func (m *Monitor) removeLocked(theta models.Theta) {
	if _, ok := m.monitored[theta.ID()]; !ok {
		return
	}
	delete(m.monitored, theta.ID())

	ticker := theta.Ticker()
	m.watchCount[ticker]--
	if m.watchCount[ticker] > 0 {
		return
	}
	delete(m.watchCount, ticker)

	if timer, ok := m.unsubTimer[ticker]; ok {
		timer.Stop()
	}
	m.unsubTimer[ticker] = time.AfterFunc(m.config.UnsubscribeDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchCount[ticker]; ok {
			return
		}
		delete(m.unsubTimer, ticker)
		delete(m.subscribed, ticker)
		m.logger.Printf("Unsubscribing from ticks for %s", ticker)
		m.subscriber.UnsubscribeTicks(ticker)
	})
}

// pump forwards one ticker's stream into the shared intake channel. It exits
// when the brokerage closes the stream on unsubscribe or when Run stops, even
// if the stream stays open.
func (m *Monitor) pump(stream <-chan models.Tick) {
	defer m.wg.Done()
	for {
		select {
		case tick, ok := <-stream:
			if !ok {
				return
			}
			select {
			case m.intake <- tick:
			case <-m.done:
				return
			}
		case <-m.done:
			return
		}
	}
}

// Run processes incoming ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.doneOnce.Do(func() { close(m.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick := <-m.intake:
			m.processTick(ctx, tick)
		}
	}
}

func (m *Monitor) processTick(ctx context.Context, tick models.Tick) {
	if !m.hours.IsOpen(m.now()) {
		m.logger.Printf("Market closed, dropping %s", tick)
		return
	}
	if age := m.now().Sub(tick.Timestamp); age > m.config.StaleTick {
		m.logger.Printf("Stale tick, age %s: %s", age, tick)
	}
	if !m.processor.Applicable(tick.Kind) {
		return
	}

	m.mu.Lock()
	var matched []models.Theta
	for _, theta := range m.monitored {
		if theta.Ticker() != tick.Ticker {
			continue
		}
		if m.processor.Process(tick, models.PriceLevelOf(theta)) {
			matched = append(matched, theta)
		}
	}
	m.mu.Unlock()

	if len(matched) == 0 {
		m.executor.ConvertToMarketOrderIfExists(tick.Ticker)
		return
	}

	m.logger.Printf("Reversal triggered for %d composite(s) on %s by %s", len(matched), tick.Ticker, tick)
	for _, group := range consolidateStocks(matched) {
		execType, limitPrice, hasLimit := m.processor.CandidateOrder(group.stock)
		m.wg.Add(1)
		go func(group reversalGroup) {
			defer m.wg.Done()
			if err := m.executor.ReverseTrade(ctx, group.stock, execType, limitPrice, hasLimit); err != nil {
				if errors.Is(err, execution.ErrMarketClosed) {
					m.logger.Printf("Market closed, reversal for %s left for a later tick", group.stock.Ticker())
				} else {
					m.logger.Printf("Reversal for %s failed, composites stay monitored: %v", group.stock.Ticker(), err)
				}
				return
			}
			m.retire(group.thetas)
		}(group)
	}
}

// retire drops the reversed composites from monitoring. A composite replaced
// by a fresher allocation since the trigger is left alone.
func (m *Monitor) retire(matched []models.Theta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, theta := range matched {
		current, ok := m.monitored[theta.ID()]
		if !ok || current.Quantity() != theta.Quantity() {
			continue
		}
		m.removeLocked(theta)
	}
}

// Wait blocks until all pumps and in-flight reversals have finished.
func (m *Monitor) Wait() { m.wg.Wait() }

// Monitored returns a snapshot of the watched composites.
func (m *Monitor) Monitored() []models.Theta {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Theta, 0, len(m.monitored))
	for _, theta := range m.monitored {
		out = append(out, theta)
	}
	return out
}

// reversalGroup pairs one netted stock order with the composites it closes.
type reversalGroup struct {
	stock  models.Stock
	thetas []models.Theta
}

// consolidateStocks nets the stock legs of triggered composites into one order
// per distinct stock position. Legs sharing a position identifier sum their
// quantities; the reference price is the plain average of the merged legs.
func consolidateStocks(thetas []models.Theta) []reversalGroup {
	var ids []uuid.UUID
	grouped := make(map[uuid.UUID][]models.Theta)
	for _, theta := range thetas {
		id := theta.Stock().ID()
		if _, ok := grouped[id]; !ok {
			ids = append(ids, id)
		}
		grouped[id] = append(grouped[id], theta)
	}

	groups := make([]reversalGroup, 0, len(ids))
	for _, id := range ids {
		members := grouped[id]
		stock := members[0].Stock()
		if len(members) > 1 {
			var quantity int64
			var total float64
			for _, theta := range members {
				leg := theta.Stock()
				quantity += leg.Quantity()
				total += leg.Price()
			}
			stock = models.NewStock(id, stock.Ticker(), quantity, total/float64(len(members)))
		}
		groups = append(groups, reversalGroup{stock: stock, thetas: members})
	}
	return groups
}
