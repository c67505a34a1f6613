package models

import (
	"fmt"
	"time"
)

// PriceLevelDirection is the side the underlying must cross for a reversal.
type PriceLevelDirection string

const (
	// FallsBelow triggers when price drops under the level.
	FallsBelow PriceLevelDirection = "falls_below"
	// RisesAbove triggers when price climbs over the level.
	RisesAbove PriceLevelDirection = "rises_above"
)

// PriceLevel is the strike and crossing direction watched for a composite
// position. Two PriceLevels are equal iff ticker, price and direction match,
// so the zero-allocation comparable struct is used as a map key.
type PriceLevel struct {
	Ticker    string
	Price     float64
	Direction PriceLevelDirection
}

// PriceLevelOf derives the watch level for a composite position: a long stock
// side reverses when price falls below the strike, a short side when it rises
// above.
func PriceLevelOf(theta Theta) PriceLevel {
	direction := RisesAbove
	if theta.Stock().Quantity() > 0 {
		direction = FallsBelow
	}
	return PriceLevel{
		Ticker:    theta.Ticker(),
		Price:     theta.Price(),
		Direction: direction,
	}
}

func (p PriceLevel) String() string {
	return fmt.Sprintf("PriceLevel[%s %.2f %s]", p.Ticker, p.Price, p.Direction)
}

// TickKind identifies which quote field a tick update is for.
type TickKind string

const (
	// TickBid is a bid price update.
	TickBid TickKind = "bid"
	// TickAsk is an ask price update.
	TickAsk TickKind = "ask"
	// TickLast is a last-trade price update.
	TickLast TickKind = "last"
)

// Tick is one quote update. It carries the most recently known value of all
// three prices, not just the field that changed.
type Tick struct {
	Ticker    string
	Kind      TickKind
	Last      float64
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

func (t Tick) String() string {
	return fmt.Sprintf("Tick[%s %s last=%.2f bid=%.2f ask=%.2f at=%s]",
		t.Ticker, t.Kind, t.Last, t.Bid, t.Ask, t.Timestamp.Format(time.RFC3339Nano))
}
