package tick

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/models"
)

func quote(ticker string, bid, ask float64) models.Tick {
	return models.Tick{Ticker: ticker, Kind: models.TickBid, Bid: bid, Ask: ask, Timestamp: time.Now()}
}

func TestBidAskProcessorApplicable(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())
	if !processor.Applicable(models.TickBid) || !processor.Applicable(models.TickAsk) {
		t.Error("bid and ask ticks should be applicable")
	}
	if processor.Applicable(models.TickLast) {
		t.Error("last ticks should not be applicable")
	}
}

func TestBidAskProcessorDeviationCrossing(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())
	level := models.PriceLevel{Ticker: "CHIL", Price: 1.0, Direction: models.FallsBelow}

	// Deviation price 0.3 + 1.0*0.68 = 0.98, below the level; the ask still
	// straddles it so the limit stays at the level price.
	if !processor.Process(quote("CHIL", 0.3, 1.3), level) {
		t.Fatal("deviation price below level should trigger")
	}

	execType, limit, hasLimit := processor.CandidateOrder(models.NewStock(uuid.New(), "CHIL", 100, 1.1))
	if execType != models.Limit || !hasLimit {
		t.Fatalf("CandidateOrder() = %s, hasLimit=%v; want limit order", execType, hasLimit)
	}
	if limit != 1.0 {
		t.Errorf("limit = %.4f, want level price 1.00", limit)
	}
}

func TestBidAskProcessorGapUsesDeviationPrice(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())
	level := models.PriceLevel{Ticker: "CHIL", Price: 1.0, Direction: models.FallsBelow}

	// The whole spread is under the level: deviation 0.3 + 0.6*0.68 = 0.708.
	if !processor.Process(quote("CHIL", 0.3, 0.9), level) {
		t.Fatal("gapped spread should trigger")
	}

	_, limit, hasLimit := processor.CandidateOrder(models.NewStock(uuid.New(), "CHIL", 100, 1.1))
	if !hasLimit {
		t.Fatal("expected cached limit after gap")
	}
	if math.Abs(limit-0.71) > 1e-9 {
		t.Errorf("limit = %.4f, want deviation price rounded to 0.71", limit)
	}
}

func TestBidAskProcessorRisesAboveMirrors(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())
	level := models.PriceLevel{Ticker: "CHIL", Price: 1.0, Direction: models.RisesAbove}

	// Deviation price 1.7 - 1.0*0.68 = 1.02 above the level.
	if !processor.Process(quote("CHIL", 0.7, 1.7), level) {
		t.Error("deviation price above level should trigger")
	}

	// Bid under the level keeps the limit at the level price.
	_, limit, _ := processor.CandidateOrder(models.NewStock(uuid.New(), "CHIL", -100, 1.1))
	if limit != 1.0 {
		t.Errorf("limit = %.4f, want level price 1.00", limit)
	}

	// Whole spread above the level: deviation 1.6 - 0.4*0.68 = 1.328.
	if !processor.Process(quote("CHIL", 1.2, 1.6), level) {
		t.Error("gapped spread should trigger")
	}
	_, limit, _ = processor.CandidateOrder(models.NewStock(uuid.New(), "CHIL", -100, 1.1))
	if math.Abs(limit-1.33) > 1e-9 {
		t.Errorf("limit = %.4f, want deviation price rounded to 1.33", limit)
	}
}

func TestBidAskProcessorNoTriggerStillNoLimit(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())

	execType, _, hasLimit := processor.CandidateOrder(models.NewStock(uuid.New(), "CHIL", 100, 1.1))
	if execType != models.Market || hasLimit {
		t.Errorf("CandidateOrder() without prior ticks = %s, hasLimit=%v; want market fallback",
			execType, hasLimit)
	}
}

func TestBidAskProcessorIgnoresOneSidedQuotes(t *testing.T) {
	processor := NewBidAskProcessor(testLogger())
	level := models.PriceLevel{Ticker: "CHIL", Price: 1.0, Direction: models.FallsBelow}

	if processor.Process(quote("CHIL", 0, 0.9), level) {
		t.Error("missing bid should not trigger")
	}
	if processor.Process(quote("CHIL", 0.3, 0), level) {
		t.Error("missing ask should not trigger")
	}
}
