package market

import (
	"sync/atomic"
	"time"
)

// Info is the process-wide market snapshot refreshed each cycle.
type Info struct {
	LastUpdate           *time.Time        `json:"last_update"`
	NextUpdate           *time.Time        `json:"next_update"`
	CheckIntervalMinutes int               `json:"check_interval_minutes"`
	MarketStatus         string            `json:"market_status"`
	Markets              map[string]string `json:"markets"`
	StaleTickers         []string          `json:"stale_tickers,omitempty"`
}

// InfoHolder owns the current Info snapshot. The whole value is swapped on
// each cycle so readers never observe a torn update.
type InfoHolder struct {
	current atomic.Pointer[Info]
}

// NewInfoHolder seeds the holder with a closed-market placeholder.
func NewInfoHolder(checkInterval time.Duration) *InfoHolder {
	h := &InfoHolder{}
	h.current.Store(&Info{
		CheckIntervalMinutes: int(checkInterval.Minutes()),
		MarketStatus:         string(StatusClosed),
		Markets:              map[string]string{},
	})
	return h
}

// Load returns the current snapshot.
func (h *InfoHolder) Load() Info {
	return *h.current.Load()
}

// Store replaces the snapshot.
func (h *InfoHolder) Store(info Info) {
	h.current.Store(&info)
}
