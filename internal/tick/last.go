package tick

import (
	"log"
	"os"

	"github.com/jhalpert/covered_straddle/internal/models"
)

// LastProcessor triggers on last-trade prices crossing the level and always
// proposes MARKET orders.
type LastProcessor struct {
	logger *log.Logger
}

// Ensure LastProcessor implements Processor at compile time.
var _ Processor = (*LastProcessor)(nil)

// NewLastProcessor creates a last-trade price strategy.
func NewLastProcessor(logger *log.Logger) *LastProcessor {
	if logger == nil {
		logger = log.New(os.Stderr, "tick: ", log.LstdFlags)
	}
	return &LastProcessor{logger: logger}
}

// Applicable reports true only for last-trade ticks.
func (p *LastProcessor) Applicable(kind models.TickKind) bool {
	return kind == models.TickLast
}

// Process reports whether the last-trade price crossed the level in its
// configured direction.
func (p *LastProcessor) Process(tick models.Tick, level models.PriceLevel) bool {
	if !p.Applicable(tick.Kind) || tick.Last <= 0 || tick.Ticker != level.Ticker {
		return false
	}

	switch level.Direction {
	case models.FallsBelow:
		return tick.Last < level.Price
	case models.RisesAbove:
		return tick.Last > level.Price
	default:
		p.logger.Printf("Invalid price level direction: %s", level.Direction)
		return false
	}
}

// CandidateOrder always proposes a MARKET order.
func (p *LastProcessor) CandidateOrder(stock models.Stock) (models.ExecutionType, float64, bool) {
	return models.Market, 0, false
}
