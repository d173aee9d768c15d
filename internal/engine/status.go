package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the derived per-ticker view published after each cycle. Only the
// latest instance per ticker is retained.
type Status struct {
	Ticker         string           `json:"ticker"`
	Price          *decimal.Decimal `json:"price"`
	Currency       string           `json:"currency"`
	NearestLevel   *decimal.Decimal `json:"nearest_level"`
	DistancePct    *decimal.Decimal `json:"distance_pct"`
	Near           bool             `json:"near"`
	OpenPrice      *decimal.Decimal `json:"open_price,omitempty"`
	PriceChangePct *decimal.Decimal `json:"price_change_pct,omitempty"`
	Enabled        bool             `json:"enabled"`
	Stale          bool             `json:"stale,omitempty"`
}

// AlertEvent is one fired alert occurrence.
type AlertEvent struct {
	Ticker      string          `json:"ticker"`
	Level       decimal.Decimal `json:"level"`
	Price       decimal.Decimal `json:"price"`
	Direction   string          `json:"direction"`
	At          time.Time       `json:"at"`
	Fingerprint string          `json:"fingerprint"`
}
