package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Watch pairs a ticker with its alert levels.
type Watch struct {
	Ticker        string            `json:"ticker"`
	Levels        []decimal.Decimal `json:"levels"`
	Enabled       bool              `json:"enabled"`
	LastAlertHash *string           `json:"last_alert_hash"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID          int64           `json:"id"`
	Ticker      string          `json:"ticker"`
	Level       decimal.Decimal `json:"level"`
	Price       decimal.Decimal `json:"price"`
	Direction   string          `json:"direction"`
	Fingerprint string          `json:"fingerprint"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ErrInvalidWatch marks configuration errors rejected at write time.
var ErrInvalidWatch = errors.New("storage: invalid watch")

// Normalize validates the watch and canonicalises its levels
// (uppercase ticker, deduplicated ascending levels).
func (w *Watch) Normalize() error {
	w.Ticker = strings.ToUpper(strings.TrimSpace(w.Ticker))
	if w.Ticker == "" {
		return fmt.Errorf("%w: ticker is required", ErrInvalidWatch)
	}

	seen := make(map[string]struct{}, len(w.Levels))
	levels := make([]decimal.Decimal, 0, len(w.Levels))
	for _, level := range w.Levels {
		if level.Sign() <= 0 {
			return fmt.Errorf("%w: level %s must be positive", ErrInvalidWatch, level.String())
		}
		key := level.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].LessThan(levels[j]) })
	w.Levels = levels

	return nil
}
