package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ExecutionAction is the order side.
type ExecutionAction string

const (
	// Buy buys shares.
	Buy ExecutionAction = "buy"
	// Sell sells shares.
	Sell ExecutionAction = "sell"
)

// ExecutionType is how the order is priced.
type ExecutionType string

const (
	// Market executes at the prevailing price.
	Market ExecutionType = "market"
	// Limit executes at the order's limit price or better.
	Limit ExecutionType = "limit"
)

// OrderState tracks the brokerage lifecycle of an order.
type OrderState string

const (
	// StatePending is accepted locally but not yet acknowledged by the broker.
	StatePending OrderState = "pending"
	// StateSubmitted is acknowledged and working at the broker.
	StateSubmitted OrderState = "submitted"
	// StateFilled is completely executed.
	StateFilled OrderState = "filled"
	// StateCancelled is cancelled before completion.
	StateCancelled OrderState = "cancelled"
)

// Terminal returns true for states that end an order's lifecycle.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCancelled
}

// ExecutableOrder is a stock order ready for broker submission. The ID is the
// engine's identifier, reused across modifications of the same logical order;
// BrokerID is assigned by the broker on first submission and immutable after.
type ExecutableOrder struct {
	id         uuid.UUID
	ticker     string
	quantity   int64
	action     ExecutionAction
	execType   ExecutionType
	limitPrice float64
	brokerID   int
	hasBroker  bool
}

// NewOrder creates a MARKET order.
func NewOrder(id uuid.UUID, ticker string, quantity int64, action ExecutionAction) *ExecutableOrder {
	return &ExecutableOrder{
		id:       id,
		ticker:   ticker,
		quantity: quantity,
		action:   action,
		execType: Market,
	}
}

// NewLimitOrder creates a LIMIT order at the given price.
func NewLimitOrder(id uuid.UUID, ticker string, quantity int64, action ExecutionAction,
	limitPrice float64) *ExecutableOrder {
	return &ExecutableOrder{
		id:         id,
		ticker:     ticker,
		quantity:   quantity,
		action:     action,
		execType:   Limit,
		limitPrice: limitPrice,
	}
}

// ID returns the engine-side order identifier.
func (o *ExecutableOrder) ID() uuid.UUID { return o.id }

// Ticker returns the underlying symbol.
func (o *ExecutableOrder) Ticker() string { return o.ticker }

// Quantity returns the unsigned share count to execute.
func (o *ExecutableOrder) Quantity() int64 { return o.quantity }

// Action returns the order side.
func (o *ExecutableOrder) Action() ExecutionAction { return o.action }

// ExecutionType returns how the order is priced.
func (o *ExecutableOrder) ExecutionType() ExecutionType { return o.execType }

// LimitPrice returns the limit price and whether one is set.
func (o *ExecutableOrder) LimitPrice() (float64, bool) {
	return o.limitPrice, o.execType == Limit
}

// BrokerID returns the broker-assigned order id and whether one is set.
func (o *ExecutableOrder) BrokerID() (int, bool) {
	return o.brokerID, o.hasBroker
}

// SetBrokerID records the broker-assigned id. It is a no-op once assigned.
func (o *ExecutableOrder) SetBrokerID(brokerID int) {
	if o.hasBroker {
		return
	}
	o.brokerID = brokerID
	o.hasBroker = true
}

func (o *ExecutableOrder) String() string {
	limit := ""
	if price, ok := o.LimitPrice(); ok {
		limit = fmt.Sprintf(" limit=%.2f", price)
	}
	broker := ""
	if id, ok := o.BrokerID(); ok {
		broker = fmt.Sprintf(" broker=%d", id)
	}
	return fmt.Sprintf("Order[%s %s %d %s%s%s id=%s]",
		o.ticker, o.action, o.quantity, o.execType, limit, broker, o.id)
}

// OrderStatus is one brokerage lifecycle update for an order.
type OrderStatus struct {
	Order        *ExecutableOrder
	State        OrderState
	Commission   float64
	Filled       int64
	Remaining    int64
	AvgFillPrice float64
}

func (s OrderStatus) String() string {
	return fmt.Sprintf("OrderStatus[%s filled=%d remaining=%d avg=%.2f commission=%.2f %s]",
		s.State, s.Filled, s.Remaining, s.AvgFillPrice, s.Commission, s.Order)
}
