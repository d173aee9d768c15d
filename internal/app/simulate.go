package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stocks-watcher/internal/engine"
	"stocks-watcher/internal/market"
	"stocks-watcher/internal/provider"
	"stocks-watcher/internal/storage"
)

// staticQuotes serves a fixed price for every ticker; simulation only.
type staticQuotes struct {
	price decimal.Decimal
}

func (s staticQuotes) GetQuote(ctx context.Context, ticker string) (provider.PriceSample, error) {
	return provider.PriceSample{
		Ticker:      ticker,
		Price:       s.price,
		Currency:    "USD",
		Exchange:    "NMS",
		Timezone:    "America/New_York",
		MarketState: "REGULAR",
		AsOf:        time.Now().UTC(),
	}, nil
}

func (s staticQuotes) GetHistory(ctx context.Context, ticker, period, interval string) ([]provider.Bar, error) {
	return nil, nil
}

func (s staticQuotes) GetDetails(ctx context.Context, ticker string) (provider.StockDetails, error) {
	return provider.StockDetails{}, provider.ErrNotFound
}

func (s staticQuotes) Validate(ctx context.Context, ticker string) error {
	return nil
}

type discardSink struct{}

func (discardSink) Publish([]engine.Status) {}

// SimulateAlert pushes a synthetic price through the full pipeline so the
// configured channels can be verified end to end without waiting for the
// market to reach a real level.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled in configuration; nothing to simulate")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no notification channel configured")
	}

	ticker := strings.ToUpper(strings.TrimSpace(opts.Ticker))
	if ticker == "" {
		ticker = "SIM"
	}
	if opts.Level.Sign() <= 0 {
		return fmt.Errorf("level must be positive, got %s", opts.Level)
	}
	if opts.Price.Sign() <= 0 {
		opts.Price = opts.Level
	}

	store := storage.NewMemoryStore()
	if _, err := store.UpsertWatch(ctx, storage.Watch{
		Ticker:  ticker,
		Levels:  []decimal.Decimal{opts.Level},
		Enabled: true,
	}); err != nil {
		return err
	}

	eopts := a.engineOptions()
	eopts.Weekends = true
	eopts.AlertsEnabled = true

	eng := engine.New(
		staticQuotes{price: opts.Price},
		store, store, notifier, discardSink{},
		market.NewInfoHolder(a.Config.Scheduler.CheckInterval),
		eopts, a.Logger,
	)

	a.Logger.Info().
		Str("ticker", ticker).
		Str("price", opts.Price.String()).
		Str("level", opts.Level.String()).
		Msg("simulating alert")

	// The debounce path needs consecutive near observations before it fires,
	// so run one cycle more than the configured count.
	cycles := eopts.DebounceCount + 1
	if cycles < 2 {
		cycles = 2
	}
	now := time.Now().UTC()
	for i := 0; i < cycles; i++ {
		if err := eng.RunCycle(ctx, now.Add(time.Duration(i)*time.Second)); err != nil {
			return err
		}
	}

	alerts, err := store.ListRecentAlerts(ctx, 1)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return errors.New("simulation produced no alert; check near_threshold_pct against the chosen price and level")
	}

	a.Logger.Info().Str("fingerprint", alerts[0].Fingerprint).Msg("simulated alert delivered")
	return nil
}
