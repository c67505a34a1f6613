// Package journal persists reversal outcomes across engine restarts.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jhalpert/covered_straddle/internal/models"
)

// Interface defines the contract for reversal persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe.
type Interface interface {
	RecordFill(status models.OrderStatus) error
	GetHistory() []ReversalRecord
	GetStatistics() Statistics
	Save() error
	Load() error
}

// ReversalRecord is one completed reversal fill.
type ReversalRecord struct {
	OrderID       uuid.UUID              `json:"order_id"`
	Ticker        string                 `json:"ticker"`
	Action        models.ExecutionAction `json:"action"`
	Quantity      int64                  `json:"quantity"`
	ExecutionType models.ExecutionType   `json:"execution_type"`
	LimitPrice    float64                `json:"limit_price,omitempty"`
	AvgFillPrice  float64                `json:"avg_fill_price"`
	Commission    float64                `json:"commission"`
	FilledAt      time.Time              `json:"filled_at"`
}

// Statistics summarizes journaled reversals.
type Statistics struct {
	TotalReversals  int     `json:"total_reversals"`
	BuyReversals    int     `json:"buy_reversals"`
	SellReversals   int     `json:"sell_reversals"`
	TotalShares     int64   `json:"total_shares"`
	TotalNotional   float64 `json:"total_notional"`
	TotalCommission float64 `json:"total_commission"`
}

type journalData struct {
	History     []ReversalRecord `json:"history"`
	Statistics  Statistics       `json:"statistics"`
	LastUpdated time.Time        `json:"last_updated"`
}

// JSONJournal stores reversal records in a single JSON file, rewritten
// atomically on every fill.
type JSONJournal struct {
	mu       sync.RWMutex
	filepath string
	data     journalData
	now      func() time.Time
}

var _ Interface = (*JSONJournal)(nil)

// NewJournal opens the journal at filepath, loading prior records if the file
// exists.
func NewJournal(filepath string) (*JSONJournal, error) {
	j := &JSONJournal{
		filepath: filepath,
		now:      time.Now,
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := j.Load(); err != nil {
			return nil, fmt.Errorf("loading journal: %w", err)
		}
	}

	return j, nil
}

// RecordFill appends the filled order to the journal and persists it.
func (j *JSONJournal) RecordFill(status models.OrderStatus) error {
	if status.State != models.StateFilled {
		return fmt.Errorf("journaling non-filled order: %s", status)
	}
	order := status.Order

	j.mu.Lock()
	record := ReversalRecord{
		OrderID:       order.ID(),
		Ticker:        order.Ticker(),
		Action:        order.Action(),
		Quantity:      order.Quantity(),
		ExecutionType: order.ExecutionType(),
		AvgFillPrice:  status.AvgFillPrice,
		Commission:    status.Commission,
		FilledAt:      j.now(),
	}
	if limit, ok := order.LimitPrice(); ok {
		record.LimitPrice = limit
	}
	j.data.History = append(j.data.History, record)

	stats := &j.data.Statistics
	stats.TotalReversals++
	if order.Action() == models.Buy {
		stats.BuyReversals++
	} else {
		stats.SellReversals++
	}
	stats.TotalShares += order.Quantity()
	stats.TotalNotional += status.AvgFillPrice * float64(order.Quantity())
	stats.TotalCommission += status.Commission
	j.mu.Unlock()

	return j.Save()
}

// GetHistory returns a copy of the journaled reversals.
func (j *JSONJournal) GetHistory() []ReversalRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ReversalRecord, len(j.data.History))
	copy(out, j.data.History)
	return out
}

// GetStatistics returns the running totals.
func (j *JSONJournal) GetStatistics() Statistics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.data.Statistics
}

// Load replaces in-memory state with the file's contents.
func (j *JSONJournal) Load() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := os.ReadFile(j.filepath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &j.data)
}

// Save writes the journal to disk via a temp file and atomic rename.
func (j *JSONJournal) Save() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data.LastUpdated = j.now()

	data, err := json.MarshalIndent(j.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := j.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, j.filepath)
}
