// Package tick monitors live quotes against composite-position price levels
// and decides when a position must be reversed.
package tick

import (
	"github.com/jhalpert/covered_straddle/internal/models"
)

// Processor is the reversal decision strategy. Process reports whether the
// tick crossed the level; CandidateOrder shapes the order a crossing should
// produce for the given stock leg.
type Processor interface {
	Applicable(kind models.TickKind) bool
	Process(tick models.Tick, level models.PriceLevel) bool
	CandidateOrder(stock models.Stock) (models.ExecutionType, float64, bool)
}
