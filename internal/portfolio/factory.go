package portfolio

import (
	"log"
	"math"
	"sort"
	"strings"

	"github.com/jhalpert/covered_straddle/internal/models"
)

// withUnallocatedQuantity returns the security carrying only its unallocated
// remainder, preserving the original quantity sign. A zero remainder drops
// the security; a remainder exceeding the position is an accounting error and
// also drops it.
func withUnallocatedQuantity(security models.Security, remainder int64, logger *log.Logger) (models.Security, bool) {
	held := absQuantity(security.Quantity())

	switch {
	case remainder == held:
		return security, true
	case remainder == 0:
		return nil, false
	case remainder < held:
		signed := remainder
		if security.Quantity() < 0 {
			signed = -remainder
		}
		switch s := security.(type) {
		case models.Stock:
			return s.WithQuantity(signed), true
		case models.Option:
			return s.WithQuantity(signed), true
		default:
			logger.Printf("Cannot subdivide security of kind %s: %s", security.Kind(), security)
			return nil, false
		}
	default:
		logger.Printf("Skipping security: calculated %d unallocated (more than held) for %s",
			remainder, security)
		return nil, false
	}
}

// FormThetas pairs unallocated calls and puts into short straddles and covers
// each straddle with unallocated stock, truncating stock claims to whole
// contract multiples. Inputs are remainders only; the caller guarantees
// nothing here is already claimed.
//
// The pass is deterministic: calls are tried nearest-to-stock-price first,
// then earliest expiration, then lowest id; candidate puts and stocks are
// scanned in id order.
func FormThetas(stocks []models.Stock, calls, puts []models.Option, logger *log.Logger) []models.Theta {
	if len(stocks) == 0 || len(calls) == 0 || len(puts) == 0 {
		return nil
	}

	sort.Slice(stocks, func(i, j int) bool {
		return strings.Compare(stocks[i].ID().String(), stocks[j].ID().String()) < 0
	})
	refPrice := stocks[0].Price()

	sort.Slice(calls, func(i, j int) bool {
		di, dj := math.Abs(calls[i].Strike()-refPrice), math.Abs(calls[j].Strike()-refPrice)
		if di != dj {
			return di < dj
		}
		if !calls[i].Expiration().Equal(calls[j].Expiration()) {
			return calls[i].Expiration().Before(calls[j].Expiration())
		}
		return strings.Compare(calls[i].ID().String(), calls[j].ID().String()) < 0
	})
	sort.Slice(puts, func(i, j int) bool {
		return strings.Compare(puts[i].ID().String(), puts[j].ID().String()) < 0
	})

	// Remaining unallocated shares per stock lot, consumed as straddles are
	// covered within this pass.
	remaining := make(map[string]int64, len(stocks))
	for _, stock := range stocks {
		remaining[stock.ID().String()] = absQuantity(stock.Quantity())
	}
	usedPuts := make(map[string]bool, len(puts))

	var thetas []models.Theta
	for _, call := range calls {
		straddle, ok := pairStraddle(call, puts, usedPuts, logger)
		if !ok {
			continue
		}

		theta, covered := coverStraddle(stocks, remaining, straddle, logger)
		if !covered {
			logger.Printf("No coverable stock for straddle %s", straddle)
			continue
		}
		thetas = append(thetas, theta)
	}

	if len(thetas) == 0 {
		logger.Printf("No composites formed from %d stocks, %d calls, %d puts",
			len(stocks), len(calls), len(puts))
	}

	return thetas
}

// pairStraddle finds an unused put matching the call's strike and expiration
// with an equal-magnitude short quantity.
func pairStraddle(call models.Option, puts []models.Option, usedPuts map[string]bool,
	logger *log.Logger) (models.ShortStraddle, bool) {

	var matches []models.Option
	for _, put := range puts {
		if usedPuts[put.ID().String()] {
			continue
		}
		if put.Strike() == call.Strike() && put.Expiration().Equal(call.Expiration()) {
			matches = append(matches, put)
		}
	}
	if len(matches) == 0 {
		return models.ShortStraddle{}, false
	}
	if len(matches) > 1 {
		logger.Printf("Multiple puts match single call %s; using %s", call, matches[0])
	}

	straddle, err := models.NewShortStraddle(call, matches[0])
	if err != nil {
		logger.Printf("Rejected straddle candidate: %v", err)
		return models.ShortStraddle{}, false
	}

	usedPuts[matches[0].ID().String()] = true
	return straddle, true
}

// coverStraddle claims stock for the straddle from the first lot (in id
// order) whose remaining shares cover it fully, trimming the claim to exactly
// contracts x 100 shares. Partially covering lots are skipped; their shares
// stay unallocated for a later pass.
func coverStraddle(stocks []models.Stock, remaining map[string]int64,
	straddle models.ShortStraddle, logger *log.Logger) (models.Theta, bool) {

	needed := absQuantity(straddle.Quantity()) * models.SharesPerContract

	for _, stock := range stocks {
		left := remaining[stock.ID().String()]
		if left < needed {
			continue
		}

		signed := needed
		if stock.Quantity() < 0 {
			signed = -needed
		}
		theta, err := models.NewTheta(stock.WithQuantity(signed), straddle)
		if err != nil {
			logger.Printf("Composite could not be built from %s and %s: %v", stock, straddle, err)
			continue
		}

		remaining[stock.ID().String()] = left - needed
		return theta, true
	}

	return models.Theta{}, false
}
