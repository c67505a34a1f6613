package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// openClock is a weekday mid-session instant.
var openClock = time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)

type mockSubscriber struct {
	mu           sync.Mutex
	streams      map[string]chan models.Tick
	subscribed   []string
	unsubscribed []string
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{streams: make(map[string]chan models.Tick)}
}

func (m *mockSubscriber) SubscribeTicks(ticker string) (<-chan models.Tick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stream := make(chan models.Tick, 8)
	m.streams[ticker] = stream
	m.subscribed = append(m.subscribed, ticker)
	return stream, nil
}

func (m *mockSubscriber) UnsubscribeTicks(ticker string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stream, ok := m.streams[ticker]; ok {
		close(stream)
		delete(m.streams, ticker)
	}
	m.unsubscribed = append(m.unsubscribed, ticker)
}

func (m *mockSubscriber) push(tick models.Tick) {
	m.mu.Lock()
	stream := m.streams[tick.Ticker]
	m.mu.Unlock()
	if stream != nil {
		stream <- tick
	}
}

func (m *mockSubscriber) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribed), len(m.unsubscribed)
}

type mockExecutor struct {
	mu         sync.Mutex
	reversals  []models.Stock
	converted  []string
	reverseErr error
	reversed   chan struct{}
	convert    chan struct{}
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		reversed: make(chan struct{}, 8),
		convert:  make(chan struct{}, 8),
	}
}

func (m *mockExecutor) ReverseTrade(_ context.Context, stock models.Stock, _ models.ExecutionType, _ float64, _ bool) error {
	m.mu.Lock()
	m.reversals = append(m.reversals, stock)
	err := m.reverseErr
	m.mu.Unlock()
	m.reversed <- struct{}{}
	return err
}

func (m *mockExecutor) ConvertToMarketOrderIfExists(ticker string) {
	m.mu.Lock()
	m.converted = append(m.converted, ticker)
	m.mu.Unlock()
	m.convert <- struct{}{}
}

func testTheta(t *testing.T, ticker string, shares int64, strike float64) models.Theta {
	t.Helper()
	return testThetaWithStock(t, models.NewStock(uuid.New(), ticker, shares, strike+0.1), strike)
}

func testThetaWithStock(t *testing.T, stock models.Stock, strike float64) models.Theta {
	t.Helper()
	expiration := time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC)
	contracts := stock.Quantity() / models.SharesPerContract
	if contracts < 0 {
		contracts = -contracts
	}
	call, err := models.NewOption(uuid.New(), models.KindCall, stock.Ticker(), -contracts, strike, expiration, 1.50)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	put, err := models.NewOption(uuid.New(), models.KindPut, stock.Ticker(), -contracts, strike, expiration, 1.40)
	if err != nil {
		t.Fatalf("NewOption: %v", err)
	}
	straddle, err := models.NewShortStraddle(call, put)
	if err != nil {
		t.Fatalf("NewShortStraddle: %v", err)
	}
	theta, err := models.NewTheta(stock, straddle)
	if err != nil {
		t.Fatalf("NewTheta: %v", err)
	}
	return theta
}

func startMonitor(t *testing.T, subscriber TickSubscriber, executor Executor) (*Monitor, context.CancelFunc) {
	t.Helper()
	hours := market.NewYorkHours()
	hours.SetNowFunc(func() time.Time { return openClock })
	monitor := NewMonitor(subscriber, NewLastProcessor(testLogger()), executor, hours, testLogger(),
		MonitorConfig{UnsubscribeDelay: 50 * time.Millisecond, StaleTick: 2 * time.Second})
	monitor.SetNowFunc(func() time.Time { return openClock })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = monitor.Run(ctx) }()
	return monitor, cancel
}

func waitFor(t *testing.T, signal <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-signal:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestMonitorReversesAndRetiresOnCrossing(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	monitor.AddMonitor(testTheta(t, "CHIL", 100, 15.0))

	subscriber.push(models.Tick{
		Ticker: "CHIL", Kind: models.TickLast, Last: 14.95, Timestamp: openClock,
	})
	waitFor(t, executor.reversed, "reversal")

	executor.mu.Lock()
	if len(executor.reversals) != 1 || executor.reversals[0].Quantity() != 100 {
		t.Errorf("reversals = %v, want one 100-share stock", executor.reversals)
	}
	executor.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for len(monitor.Monitored()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("composite was not retired after successful reversal")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMonitorKeepsCompositeWhenReversalFails(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	executor.reverseErr = errors.New("broker rejected order")
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	monitor.AddMonitor(testTheta(t, "CHIL", 100, 15.0))

	subscriber.push(models.Tick{
		Ticker: "CHIL", Kind: models.TickLast, Last: 14.95, Timestamp: openClock,
	})
	waitFor(t, executor.reversed, "reversal")

	time.Sleep(50 * time.Millisecond)
	if len(monitor.Monitored()) != 1 {
		t.Error("failed reversal should leave the composite monitored")
	}
}

func TestMonitorConvertsToMarketOnNoMatch(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	monitor.AddMonitor(testTheta(t, "CHIL", 100, 15.0))

	// Above the level with a long position: no crossing.
	subscriber.push(models.Tick{
		Ticker: "CHIL", Kind: models.TickLast, Last: 15.25, Timestamp: openClock,
	})
	waitFor(t, executor.convert, "market conversion")

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.converted) != 1 || executor.converted[0] != "CHIL" {
		t.Errorf("converted = %v, want [CHIL]", executor.converted)
	}
	if len(executor.reversals) != 0 {
		t.Errorf("reversals = %v, want none", executor.reversals)
	}
}

func TestMonitorReversesEachStockPositionSeparately(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	// Two composites on distinct stock positions of the same ticker.
	monitor.AddMonitor(testTheta(t, "CHIL", 100, 15.0))
	monitor.AddMonitor(testTheta(t, "CHIL", 200, 15.5))

	// Below both levels: one reversal order per stock position, keyed by its
	// own identifier, never one merged order across unrelated lots.
	subscriber.push(models.Tick{
		Ticker: "CHIL", Kind: models.TickLast, Last: 14.50, Timestamp: openClock,
	})
	waitFor(t, executor.reversed, "first reversal")
	waitFor(t, executor.reversed, "second reversal")

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.reversals) != 2 {
		t.Fatalf("reversals = %d, want one per stock position", len(executor.reversals))
	}
	quantities := map[int64]bool{}
	for _, stock := range executor.reversals {
		quantities[stock.Quantity()] = true
	}
	if !quantities[100] || !quantities[200] {
		t.Errorf("reversal quantities = %v, want 100 and 200", executor.reversals)
	}
}

func TestMonitorConsolidatesCompositesSharingAStockPosition(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	// One brokerage stock position split across two composites.
	stockID := uuid.New()
	monitor.AddMonitor(testThetaWithStock(t, models.NewStock(stockID, "CHIL", 100, 15.1), 15.0))
	monitor.AddMonitor(testThetaWithStock(t, models.NewStock(stockID, "CHIL", 200, 15.6), 15.5))

	subscriber.push(models.Tick{
		Ticker: "CHIL", Kind: models.TickLast, Last: 14.50, Timestamp: openClock,
	})
	waitFor(t, executor.reversed, "reversal")

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.reversals) != 1 {
		t.Fatalf("reversals = %d, want 1 netted order for the shared position", len(executor.reversals))
	}
	merged := executor.reversals[0]
	if merged.ID() != stockID {
		t.Errorf("merged order id = %s, want the shared stock id %s", merged.ID(), stockID)
	}
	if merged.Quantity() != 300 {
		t.Errorf("merged quantity = %d, want 300", merged.Quantity())
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(monitor.Monitored()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("both composites should retire after the shared reversal fills")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMonitorSharesOneSubscriptionPerTicker(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	first := testTheta(t, "CHIL", 100, 15.0)
	second := testTheta(t, "CHIL", 100, 15.5)
	monitor.AddMonitor(first)
	monitor.AddMonitor(second)

	if subs, _ := subscriber.counts(); subs != 1 {
		t.Errorf("subscriptions = %d, want 1 shared", subs)
	}

	monitor.RemoveMonitor(first)
	if _, unsubs := subscriber.counts(); unsubs != 0 {
		t.Error("ticker with remaining composites should stay subscribed")
	}

	monitor.RemoveMonitor(second)
	time.Sleep(250 * time.Millisecond)
	if _, unsubs := subscriber.counts(); unsubs != 1 {
		t.Error("empty ticker should unsubscribe after the quiet period")
	}
}

func TestMonitorDebounceCancelsOnReAdd(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)
	defer cancel()

	theta := testTheta(t, "CHIL", 100, 15.0)
	monitor.AddMonitor(theta)
	monitor.RemoveMonitor(theta)
	monitor.AddMonitor(theta)

	time.Sleep(250 * time.Millisecond)
	if _, unsubs := subscriber.counts(); unsubs != 0 {
		t.Error("re-adding within the quiet period should keep the subscription")
	}
}

func TestConsolidateStocksGroupsByPositionID(t *testing.T) {
	shared := uuid.New()
	a := testThetaWithStock(t, models.NewStock(shared, "CHIL", 100, 15.0), 15.0)
	b := testThetaWithStock(t, models.NewStock(shared, "CHIL", 300, 15.6), 15.5)
	c := testTheta(t, "CHIL", 200, 16.0)

	groups := consolidateStocks([]models.Theta{a, b, c})
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2 distinct stock positions", len(groups))
	}

	byID := map[uuid.UUID]reversalGroup{}
	for _, group := range groups {
		byID[group.stock.ID()] = group
	}

	merged, ok := byID[shared]
	if !ok {
		t.Fatal("shared stock position missing from consolidation")
	}
	if merged.stock.Quantity() != 400 {
		t.Errorf("merged quantity = %d, want 400", merged.stock.Quantity())
	}
	if want := (15.0 + 15.6) / 2; merged.stock.Price() != want {
		t.Errorf("merged price = %.4f, want plain average %.4f", merged.stock.Price(), want)
	}
	if len(merged.thetas) != 2 {
		t.Errorf("merged group has %d composites, want 2", len(merged.thetas))
	}

	single, ok := byID[c.Stock().ID()]
	if !ok {
		t.Fatal("standalone stock position missing from consolidation")
	}
	if single.stock != c.Stock() {
		t.Errorf("standalone leg = %s, want passed through unchanged", single.stock)
	}
}

func TestMonitorWaitReturnsWhileStreamsOpen(t *testing.T) {
	subscriber := newMockSubscriber()
	executor := newMockExecutor()
	monitor, cancel := startMonitor(t, subscriber, executor)

	// Subscribe a ticker whose stream stays open, then stop the run loop
	// without unsubscribing. Wait must still return.
	monitor.AddMonitor(testTheta(t, "CHIL", 100, 15.0))
	cancel()

	waited := make(chan struct{})
	go func() {
		monitor.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait hung on an open tick stream after shutdown")
	}
}
