// Package execution manages the brokerage lifecycle of reversal orders.
package execution

import (
	"github.com/jhalpert/covered_straddle/internal/models"
)

// NewReversalOrder builds the stock order that closes and inverts a covered
// position: twice the held share count, sold when long and bought when short.
// The order id is the stock leg's id so later triggers on the same position
// modify the working order instead of stacking a second one.
func NewReversalOrder(stock models.Stock, execType models.ExecutionType, limitPrice float64, hasLimit bool) *models.ExecutableOrder {
	quantity := 2 * stock.Quantity()
	action := models.Sell
	if quantity < 0 {
		quantity = -quantity
		action = models.Buy
	}
	if execType == models.Limit && hasLimit {
		return models.NewLimitOrder(stock.ID(), stock.Ticker(), quantity, action, limitPrice)
	}
	return models.NewOrder(stock.ID(), stock.Ticker(), quantity, action)
}
