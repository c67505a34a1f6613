// Package broker defines the brokerage adapter surface used by the engine.
package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jhalpert/covered_straddle/internal/models"
	"github.com/sony/gobreaker"
)

// Broker is the asynchronous brokerage adapter. Position, tick and
// order-status events are delivered on channels; no method blocks waiting on
// the broker beyond the initial call.
//
// Delivery guarantees implementations must honor: updates for one security
// identifier arrive in brokerage order; each order's status stream is
// independent of every other order's; an error on one ticker's tick stream
// must not end another ticker's stream.
type Broker interface {
	// Connect establishes the brokerage session.
	Connect(ctx context.Context) error

	// RequestPositions starts the position feed. The channel stays open for
	// live updates after the initial snapshot; the snapshot's completion is
	// signalled through AwaitPositionEnd.
	RequestPositions() (<-chan models.Security, error)

	// AwaitPositionEnd blocks until the broker signals the end of the initial
	// position snapshot, or ctx expires.
	AwaitPositionEnd(ctx context.Context) error

	// SubscribeTicks opens a quote stream for the ticker. Repeated calls for
	// the same ticker return the same stream.
	SubscribeTicks(ticker string) (<-chan models.Tick, error)

	// UnsubscribeTicks tears down the ticker's quote stream and closes its
	// channel.
	UnsubscribeTicks(ticker string)

	// SubmitOrder sends a new order. The returned stream carries its status
	// updates and is closed after a terminal state.
	SubmitOrder(order *models.ExecutableOrder) (<-chan models.OrderStatus, error)

	// ModifyOrder amends a working order in place. Status updates keep
	// arriving on the stream returned by the original SubmitOrder.
	ModifyOrder(order *models.ExecutableOrder) error

	// CancelOrder cancels a working order by its broker id.
	CancelOrder(brokerID int) error

	// Close tears down the session and all open streams.
	Close() error
}

// CircuitBreakerBroker wraps a Broker with circuit breaker protection on
// every outbound call. Event channels pass through untouched.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	b Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Connect wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Connect(ctx context.Context) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Connect(ctx)
	})
	return err
}

// RequestPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) RequestPositions() (<-chan models.Security, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (<-chan models.Security, error) {
		return b.RequestPositions()
	})
}

// AwaitPositionEnd delegates to the underlying broker. The wait is bounded by
// ctx, not by the breaker.
func (c *CircuitBreakerBroker) AwaitPositionEnd(ctx context.Context) error {
	return c.broker.AwaitPositionEnd(ctx)
}

// SubscribeTicks wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubscribeTicks(ticker string) (<-chan models.Tick, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (<-chan models.Tick, error) {
		return b.SubscribeTicks(ticker)
	})
}

// UnsubscribeTicks delegates to the underlying broker.
func (c *CircuitBreakerBroker) UnsubscribeTicks(ticker string) {
	c.broker.UnsubscribeTicks(ticker)
}

// SubmitOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SubmitOrder(order *models.ExecutableOrder) (<-chan models.OrderStatus, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (<-chan models.OrderStatus, error) {
		return b.SubmitOrder(order)
	})
}

// ModifyOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ModifyOrder(order *models.ExecutableOrder) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.ModifyOrder(order)
	})
	return err
}

// CancelOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CancelOrder(brokerID int) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.CancelOrder(brokerID)
	})
	return err
}

// Close delegates to the underlying broker.
func (c *CircuitBreakerBroker) Close() error {
	return c.broker.Close()
}
