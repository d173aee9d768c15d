package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process WatchStore/AlertStore used when no database
// is configured, and by tests. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	watches map[string]Watch
	alerts  []AlertRecord
	nextID  int64
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{watches: make(map[string]Watch)}
}

// UpsertWatch stores a watch, preserving an existing fingerprint.
func (m *MemoryStore) UpsertWatch(ctx context.Context, watch Watch) (Watch, error) {
	if err := watch.Normalize(); err != nil {
		return Watch{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.watches[watch.Ticker]; ok {
		watch.LastAlertHash = prev.LastAlertHash
	}
	watch.UpdatedAt = time.Now().UTC()
	m.watches[watch.Ticker] = watch
	return watch, nil
}

// ListWatches lists all watches ordered by ticker.
func (m *MemoryStore) ListWatches(ctx context.Context) ([]Watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Watch, 0, len(m.watches))
	for _, watch := range m.watches {
		out = append(out, watch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

// GetWatch fetches a single watch by ticker.
func (m *MemoryStore) GetWatch(ctx context.Context, ticker string) (Watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.watches[strings.ToUpper(ticker)]
	if !ok {
		return Watch{}, ErrWatchNotFound
	}
	return watch, nil
}

// DeleteWatch removes a watch by ticker.
func (m *MemoryStore) DeleteWatch(ctx context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToUpper(ticker)
	if _, ok := m.watches[key]; !ok {
		return ErrWatchNotFound
	}
	delete(m.watches, key)
	return nil
}

// UpdateLastAlert replaces the dedup fingerprint of a watch.
func (m *MemoryStore) UpdateLastAlert(ctx context.Context, ticker string, hash *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToUpper(ticker)
	watch, ok := m.watches[key]
	if !ok {
		return ErrWatchNotFound
	}
	watch.LastAlertHash = hash
	watch.UpdatedAt = time.Now().UTC()
	m.watches[key] = watch
	return nil
}

// InsertAlert records an alert emission.
func (m *MemoryStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.Fingerprint == alert.Fingerprint {
			return existing, nil
		}
	}

	m.nextID++
	alert.ID = m.nextID
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (m *MemoryStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AlertRecord, len(m.alerts))
	copy(out, m.alerts)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (m *MemoryStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	for _, alert := range m.alerts {
		if !alert.CreatedAt.Before(olderThan) {
			kept = append(kept, alert)
		}
	}
	m.alerts = kept
	return nil
}

var _ WatchStore = (*MemoryStore)(nil)
var _ AlertStore = (*MemoryStore)(nil)
