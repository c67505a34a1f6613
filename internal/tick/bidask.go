package tick

import (
	"log"
	"os"
	"sync"

	"github.com/jhalpert/covered_straddle/internal/market"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// deviation is the fraction of the bid-ask spread the price must travel past
// the near side before a crossing counts. One standard deviation of a normal
// distribution.
const deviation = 0.68

// BidAskProcessor triggers on bid/ask quotes: the crossing test uses a
// deviation price inside the spread rather than the raw touch, and crossings
// propose LIMIT orders at the cached per-ticker limit price.
type BidAskProcessor struct {
	mu     sync.Mutex
	limits map[string]float64
	logger *log.Logger
}

// Ensure BidAskProcessor implements Processor at compile time.
var _ Processor = (*BidAskProcessor)(nil)

// NewBidAskProcessor creates a bid-ask spread strategy.
func NewBidAskProcessor(logger *log.Logger) *BidAskProcessor {
	if logger == nil {
		logger = log.New(os.Stderr, "tick: ", log.LstdFlags)
	}
	return &BidAskProcessor{
		limits: make(map[string]float64),
		logger: logger,
	}
}

// Applicable reports true for bid and ask ticks.
func (p *BidAskProcessor) Applicable(kind models.TickKind) bool {
	return kind == models.TickBid || kind == models.TickAsk
}

// Process reports whether the deviation price crossed the level. The limit
// price for a subsequent CandidateOrder call is cached per ticker: the level
// price normally, or the deviation price when the far touch already crossed
// (a gapped market that a level-priced limit would chase).
func (p *BidAskProcessor) Process(tick models.Tick, level models.PriceLevel) bool {
	if !p.Applicable(tick.Kind) || tick.Bid <= 0 || tick.Ask <= 0 || tick.Ticker != level.Ticker {
		return false
	}

	spread := tick.Ask - tick.Bid
	limitPrice := level.Price
	shouldReverse := false

	switch level.Direction {
	case models.FallsBelow:
		deviationPrice := tick.Bid + spread*deviation
		if deviationPrice < level.Price {
			shouldReverse = true
			if tick.Ask < level.Price {
				p.logger.Printf("Possible gap across %s, tick: %s", level, tick)
				limitPrice = deviationPrice
			}
		}
	case models.RisesAbove:
		deviationPrice := tick.Ask - spread*deviation
		if deviationPrice > level.Price {
			shouldReverse = true
			if tick.Bid > level.Price {
				p.logger.Printf("Possible gap across %s, tick: %s", level, tick)
				limitPrice = deviationPrice
			}
		}
	default:
		p.logger.Printf("Invalid price level direction: %s", level.Direction)
		return false
	}

	limitPrice = market.RoundToCents(limitPrice)

	p.mu.Lock()
	previous, hadPrevious := p.limits[tick.Ticker]
	p.limits[tick.Ticker] = limitPrice
	p.mu.Unlock()

	if hadPrevious && previous != limitPrice {
		p.logger.Printf("Inconsistent limit prices for %s: %.2f then %.2f at %s",
			tick.Ticker, previous, limitPrice, level)
	}

	return shouldReverse
}

// CandidateOrder proposes a LIMIT order at the ticker's cached limit price,
// or MARKET when no limit has been cached yet.
func (p *BidAskProcessor) CandidateOrder(stock models.Stock) (models.ExecutionType, float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limitPrice, ok := p.limits[stock.Ticker()]; ok {
		return models.Limit, limitPrice, true
	}
	return models.Market, 0, false
}
