package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrWatchNotFound indicates the requested watch does not exist.
	ErrWatchNotFound = errors.New("storage: watch not found")
)

const (
	upsertWatchSQL = `INSERT INTO watches (
        ticker,
        levels,
        enabled,
        updated_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (ticker) DO UPDATE
    SET
        levels     = EXCLUDED.levels,
        enabled    = EXCLUDED.enabled,
        updated_at = EXCLUDED.updated_at
    RETURNING ticker, levels, enabled, last_alert_hash, updated_at;`

	listWatchesSQL = `SELECT ticker, levels, enabled, last_alert_hash, updated_at
    FROM watches
    ORDER BY ticker;`

	getWatchSQL = `SELECT ticker, levels, enabled, last_alert_hash, updated_at
    FROM watches
    WHERE ticker = $1;`

	deleteWatchSQL = `DELETE FROM watches WHERE ticker = $1;`

	updateLastAlertSQL = `UPDATE watches
    SET last_alert_hash = $2, updated_at = $3
    WHERE ticker = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        ticker,
        level,
        price,
        direction,
        fingerprint
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (fingerprint) DO UPDATE
    SET price = EXCLUDED.price
    RETURNING id, ticker, level, price, direction, fingerprint, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        ticker,
        level,
        price,
        direction,
        fingerprint,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// WatchStore defines watch configuration persistence.
type WatchStore interface {
	UpsertWatch(ctx context.Context, watch Watch) (Watch, error)
	ListWatches(ctx context.Context) ([]Watch, error)
	GetWatch(ctx context.Context, ticker string) (Watch, error)
	DeleteWatch(ctx context.Context, ticker string) error
	UpdateLastAlert(ctx context.Context, ticker string, hash *string) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to watches and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertWatch persists a watch; the alert fingerprint of an existing watch is preserved.
func (s *Store) UpsertWatch(ctx context.Context, watch Watch) (Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return Watch{}, err
	}
	if err := watch.Normalize(); err != nil {
		return Watch{}, err
	}

	row := pool.QueryRow(ctx, upsertWatchSQL,
		watch.Ticker,
		levelsToStrings(watch.Levels),
		watch.Enabled,
		time.Now().UTC(),
	)
	return scanWatch(row)
}

// ListWatches lists all watches ordered by ticker.
func (s *Store) ListWatches(ctx context.Context) ([]Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWatchesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list watches: %w", queryErr)
	}
	defer rows.Close()

	watches := make([]Watch, 0)
	for rows.Next() {
		watch, scanErr := scanWatch(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		watches = append(watches, watch)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return watches, nil
}

// GetWatch fetches a single watch by ticker.
func (s *Store) GetWatch(ctx context.Context, ticker string) (Watch, error) {
	pool, err := s.getPool()
	if err != nil {
		return Watch{}, err
	}

	watch, scanErr := scanWatch(pool.QueryRow(ctx, getWatchSQL, strings.ToUpper(ticker)))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Watch{}, ErrWatchNotFound
		}
		return Watch{}, scanErr
	}
	return watch, nil
}

// DeleteWatch removes a watch by ticker.
func (s *Store) DeleteWatch(ctx context.Context, ticker string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteWatchSQL, strings.ToUpper(ticker))
	if execErr != nil {
		return fmt.Errorf("delete watch: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWatchNotFound
	}
	return nil
}

// UpdateLastAlert atomically replaces the dedup fingerprint of a watch.
func (s *Store) UpdateLastAlert(ctx context.Context, ticker string, hash *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateLastAlertSQL, strings.ToUpper(ticker), hash, time.Now().UTC())
	if execErr != nil {
		return fmt.Errorf("update last alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWatchNotFound
	}
	return nil
}

// InsertAlert persists an alert emission. Re-inserting the same fingerprint is a no-op update.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Ticker,
		alert.Level.String(),
		alert.Price.String(),
		alert.Direction,
		alert.Fingerprint,
	)
	return scanAlert(row)
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatch(row rowScanner) (Watch, error) {
	var (
		watch     Watch
		levelsRaw []string
	)
	if err := row.Scan(
		&watch.Ticker,
		&levelsRaw,
		&watch.Enabled,
		&watch.LastAlertHash,
		&watch.UpdatedAt,
	); err != nil {
		return Watch{}, err
	}

	levels, err := levelsFromStrings(levelsRaw)
	if err != nil {
		return Watch{}, err
	}
	watch.Levels = levels
	return watch, nil
}

func scanAlert(row rowScanner) (AlertRecord, error) {
	var (
		rec      AlertRecord
		levelStr string
		priceStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Ticker,
		&levelStr,
		&priceStr,
		&rec.Direction,
		&rec.Fingerprint,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, fmt.Errorf("scan alert: %w", err)
	}

	var convErr error
	rec.Level, convErr = decimal.NewFromString(levelStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse level: %w", convErr)
	}
	rec.Price, convErr = decimal.NewFromString(priceStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", convErr)
	}

	return rec, nil
}

func levelsToStrings(levels []decimal.Decimal) []string {
	out := make([]string, len(levels))
	for i, level := range levels {
		out[i] = level.String()
	}
	return out
}

func levelsFromStrings(raw []string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, s := range raw {
		level, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse stored level: %w", err)
		}
		out[i] = level
	}
	return out, nil
}

var _ WatchStore = (*Store)(nil)
var _ AlertStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
