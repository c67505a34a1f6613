// Package models defines the security and order domain types for the engine.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SharesPerContract is the number of shares one option contract covers.
const SharesPerContract = 100

// SecurityKind discriminates the security variants.
type SecurityKind string

const (
	// KindStock identifies an equity position.
	KindStock SecurityKind = "stock"
	// KindCall identifies a call option position.
	KindCall SecurityKind = "call"
	// KindPut identifies a put option position.
	KindPut SecurityKind = "put"
	// KindStraddle identifies a matched short call + short put.
	KindStraddle SecurityKind = "short_straddle"
	// KindTheta identifies a covered-straddle composite position.
	KindTheta SecurityKind = "theta"
)

// Valid returns true if the SecurityKind is one of the defined constants.
func (k SecurityKind) Valid() bool {
	switch k {
	case KindStock, KindCall, KindPut, KindStraddle, KindTheta:
		return true
	default:
		return false
	}
}

// Security is the common surface of every security variant. Quantity sign
// encodes long/short. Switch on Kind() at matching and logging sites.
type Security interface {
	ID() uuid.UUID
	Ticker() string
	Quantity() int64
	Price() float64
	Kind() SecurityKind
}

// Stock is a single equity lot. The id is the brokerage's stable position
// identifier, reused across quantity updates to the same lot.
type Stock struct {
	id       uuid.UUID
	ticker   string
	quantity int64
	avgPrice float64
}

// NewStock creates a Stock position.
func NewStock(id uuid.UUID, ticker string, quantity int64, avgPrice float64) Stock {
	return Stock{id: id, ticker: ticker, quantity: quantity, avgPrice: avgPrice}
}

// ID returns the brokerage-stable position identifier.
func (s Stock) ID() uuid.UUID { return s.id }

// Ticker returns the underlying symbol.
func (s Stock) Ticker() string { return s.ticker }

// Quantity returns the signed share count.
func (s Stock) Quantity() int64 { return s.quantity }

// Price returns the average trade price.
func (s Stock) Price() float64 { return s.avgPrice }

// Kind returns KindStock.
func (s Stock) Kind() SecurityKind { return KindStock }

// WithQuantity returns a copy of the stock carrying the given signed quantity.
func (s Stock) WithQuantity(quantity int64) Stock {
	adjusted := s
	adjusted.quantity = quantity
	return adjusted
}

func (s Stock) String() string {
	return fmt.Sprintf("Stock[%s qty=%d avg=%.2f id=%s]", s.ticker, s.quantity, s.avgPrice, s.id)
}

// Option is a single option position, either a call or a put.
type Option struct {
	id         uuid.UUID
	kind       SecurityKind
	ticker     string
	quantity   int64
	strike     float64
	expiration time.Time
	avgPrice   float64
}

// NewOption creates an Option position. kind must be KindCall or KindPut.
func NewOption(id uuid.UUID, kind SecurityKind, ticker string, quantity int64,
	strike float64, expiration time.Time, avgPrice float64) (Option, error) {
	if kind != KindCall && kind != KindPut {
		return Option{}, fmt.Errorf("option kind must be call or put, got %q", kind)
	}
	return Option{
		id:         id,
		kind:       kind,
		ticker:     ticker,
		quantity:   quantity,
		strike:     strike,
		expiration: expiration,
		avgPrice:   avgPrice,
	}, nil
}

// ID returns the brokerage-stable position identifier.
func (o Option) ID() uuid.UUID { return o.id }

// Ticker returns the underlying symbol.
func (o Option) Ticker() string { return o.ticker }

// Quantity returns the signed contract count.
func (o Option) Quantity() int64 { return o.quantity }

// Price returns the average trade price.
func (o Option) Price() float64 { return o.avgPrice }

// Kind returns KindCall or KindPut.
func (o Option) Kind() SecurityKind { return o.kind }

// Strike returns the strike price.
func (o Option) Strike() float64 { return o.strike }

// Expiration returns the expiration date.
func (o Option) Expiration() time.Time { return o.expiration }

// WithQuantity returns a copy of the option carrying the given signed quantity.
func (o Option) WithQuantity(quantity int64) Option {
	adjusted := o
	adjusted.quantity = quantity
	return adjusted
}

func (o Option) String() string {
	return fmt.Sprintf("Option[%s %s qty=%d strike=%.2f exp=%s id=%s]",
		o.ticker, o.kind, o.quantity, o.strike, o.expiration.Format("2006-01-02"), o.id)
}

// ShortStraddle is a matched short call and short put at a common strike and
// expiration with equal magnitude quantities.
type ShortStraddle struct {
	id   uuid.UUID
	call Option
	put  Option
}

// NewShortStraddle builds a ShortStraddle, rejecting any leg combination that
// violates the straddle invariants.
func NewShortStraddle(call, put Option) (ShortStraddle, error) {
	if call.Kind() != KindCall {
		return ShortStraddle{}, fmt.Errorf("straddle call leg has kind %q: %s", call.Kind(), call)
	}
	if put.Kind() != KindPut {
		return ShortStraddle{}, fmt.Errorf("straddle put leg has kind %q: %s", put.Kind(), put)
	}
	if call.Ticker() != put.Ticker() {
		return ShortStraddle{}, fmt.Errorf("straddle tickers do not match: %s vs %s", call, put)
	}
	if call.Quantity() >= 0 || put.Quantity() >= 0 {
		return ShortStraddle{}, fmt.Errorf("straddle legs must both be short: %s, %s", call, put)
	}
	if call.Quantity() != put.Quantity() {
		return ShortStraddle{}, fmt.Errorf("straddle leg quantities do not match: %s, %s", call, put)
	}
	if call.Strike() != put.Strike() {
		return ShortStraddle{}, fmt.Errorf("straddle strikes do not match: %s, %s", call, put)
	}
	if !call.Expiration().Equal(put.Expiration()) {
		return ShortStraddle{}, fmt.Errorf("straddle expirations do not match: %s, %s", call, put)
	}
	return ShortStraddle{id: uuid.New(), call: call, put: put}, nil
}

// ID returns the straddle's identifier.
func (s ShortStraddle) ID() uuid.UUID { return s.id }

// Ticker returns the underlying symbol.
func (s ShortStraddle) Ticker() string { return s.call.Ticker() }

// Quantity returns the signed (negative) contract count of each leg.
func (s ShortStraddle) Quantity() int64 { return s.call.Quantity() }

// Price returns the strike price shared by both legs.
func (s ShortStraddle) Price() float64 { return s.call.Strike() }

// Kind returns KindStraddle.
func (s ShortStraddle) Kind() SecurityKind { return KindStraddle }

// Call returns the call leg.
func (s ShortStraddle) Call() Option { return s.call }

// Put returns the put leg.
func (s ShortStraddle) Put() Option { return s.put }

// Expiration returns the expiration date shared by both legs.
func (s ShortStraddle) Expiration() time.Time { return s.call.Expiration() }

func (s ShortStraddle) String() string {
	return fmt.Sprintf("ShortStraddle[%s qty=%d strike=%.2f exp=%s]",
		s.Ticker(), s.Quantity(), s.Price(), s.Expiration().Format("2006-01-02"))
}

// Theta is a covered-straddle composite: one stock lot covering one short
// straddle at SharesPerContract shares per contract.
type Theta struct {
	id       uuid.UUID
	stock    Stock
	straddle ShortStraddle
}

// NewTheta builds a composite position, rejecting inputs that violate the
// coverage invariants.
func NewTheta(stock Stock, straddle ShortStraddle) (Theta, error) {
	if stock.Ticker() != straddle.Ticker() {
		return Theta{}, fmt.Errorf("stock and straddle tickers do not match: %s, %s", stock, straddle)
	}
	if abs64(stock.Quantity()) != abs64(straddle.Quantity())*SharesPerContract {
		return Theta{}, fmt.Errorf("stock quantity %d is not %d times straddle quantity %d",
			stock.Quantity(), SharesPerContract, straddle.Quantity())
	}
	return Theta{id: uuid.New(), stock: stock, straddle: straddle}, nil
}

// ID returns the composite's identifier.
func (t Theta) ID() uuid.UUID { return t.id }

// Ticker returns the underlying symbol.
func (t Theta) Ticker() string { return t.stock.Ticker() }

// Quantity returns the number of covered "contracts", signed by the stock
// side: positive when the stock is long, negative when short.
func (t Theta) Quantity() int64 {
	return sign64(t.stock.Quantity()) * abs64(t.straddle.Quantity())
}

// Price returns the straddle strike.
func (t Theta) Price() float64 { return t.straddle.Price() }

// Kind returns KindTheta.
func (t Theta) Kind() SecurityKind { return KindTheta }

// Stock returns the equity leg.
func (t Theta) Stock() Stock { return t.stock }

// Straddle returns the option legs.
func (t Theta) Straddle() ShortStraddle { return t.straddle }

// Call returns the call leg.
func (t Theta) Call() Option { return t.straddle.Call() }

// Put returns the put leg.
func (t Theta) Put() Option { return t.straddle.Put() }

// LegOfKind returns the leg matching the given kind, or nil for kinds this
// composite has no leg for.
func (t Theta) LegOfKind(kind SecurityKind) Security {
	switch kind {
	case KindStock:
		return t.stock
	case KindCall:
		return t.Call()
	case KindPut:
		return t.Put()
	default:
		return nil
	}
}

func (t Theta) String() string {
	return fmt.Sprintf("Theta[%s qty=%d strike=%.2f id=%s]", t.Ticker(), t.Quantity(), t.Price(), t.id)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign64(v int64) int64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
