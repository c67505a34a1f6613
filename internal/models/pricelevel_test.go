package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestPriceLevelOfDirection(t *testing.T) {
	long, err := NewTheta(NewStock(uuid.New(), "CHIL", 100, 15.1), mustStraddle(t, "CHIL", -1, 15.0))
	if err != nil {
		t.Fatalf("NewTheta: %v", err)
	}
	level := PriceLevelOf(long)
	if level.Direction != FallsBelow {
		t.Errorf("long stock direction = %s, want %s", level.Direction, FallsBelow)
	}
	if level.Ticker != "CHIL" || level.Price != 15.0 {
		t.Errorf("level = %+v, want CHIL at 15.0", level)
	}

	short, err := NewTheta(NewStock(uuid.New(), "CHIL", -100, 15.1), mustStraddle(t, "CHIL", -1, 15.0))
	if err != nil {
		t.Fatalf("NewTheta: %v", err)
	}
	if got := PriceLevelOf(short).Direction; got != RisesAbove {
		t.Errorf("short stock direction = %s, want %s", got, RisesAbove)
	}
}

func TestPriceLevelUsableAsMapKey(t *testing.T) {
	seen := map[PriceLevel]int{}
	a := PriceLevel{Ticker: "CHIL", Price: 15.0, Direction: FallsBelow}
	b := PriceLevel{Ticker: "CHIL", Price: 15.0, Direction: FallsBelow}
	seen[a]++
	seen[b]++
	if seen[a] != 2 {
		t.Errorf("equal levels should collide as map keys, count = %d", seen[a])
	}
}
