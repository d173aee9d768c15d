package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stocks-watcher/internal/alerting"
	"stocks-watcher/internal/config"
	"stocks-watcher/internal/engine"
	"stocks-watcher/internal/hub"
	"stocks-watcher/internal/market"
	"stocks-watcher/internal/provider"
	"stocks-watcher/internal/scheduler"
	"stocks-watcher/internal/server"
	"stocks-watcher/internal/service"
	"stocks-watcher/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProvider() provider.MarketData {
	return provider.NewYahoo(provider.YahooOptions{
		BaseURL:   a.Config.Provider.BaseURL,
		Timeout:   a.Config.Provider.RequestTimeout,
		UserAgent: a.Config.Provider.UserAgent,
		TickerMap: a.Config.Provider.TickerMap,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		Workers:            a.Config.Engine.Workers,
		FetchTimeout:       a.Config.Engine.FetchTimeout,
		StaleAfterFailures: a.Config.Engine.StaleAfterFailures,
		NearThresholdPct:   a.Config.Engine.NearThresholdPct,
		HysteresisPct:      a.Config.Engine.HysteresisPct,
		DebounceCount:      a.Config.Engine.DebounceCount,
		CheckInterval:      a.Config.Scheduler.CheckInterval,
		OffHoursInterval:   a.Config.Scheduler.OffHoursInterval,
		Weekends:           a.Config.Scheduler.Weekends,
		Channels:           a.Config.Alerting.Channels,
		AlertsEnabled:      a.Config.Alerting.Enabled,
		AlertRetention:     a.Config.Alerting.Retention,
	}
}

// Run executes the long-running watch service and API server.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var watchStore storage.WatchStore
	var alertStore storage.AlertStore
	var locker storage.AdvisoryLocker
	if store != nil {
		watchStore = store
		alertStore = store
		locker = store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; watches are held in memory only")
		mem := storage.NewMemoryStore()
		watchStore = mem
		alertStore = mem
	}

	md := a.newProvider()
	notifier := a.newNotifier()
	infoHolder := market.NewInfoHolder(a.Config.Scheduler.CheckInterval)
	statusHub := hub.New(a.Logger)

	eng := engine.New(md, watchStore, alertStore, notifier, statusHub, infoHolder, a.engineOptions(), a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.CheckInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		NextInterval: eng.NextInterval,
	}, a.Logger)

	svc := service.New(sched, eng, locker, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
	srv := server.New(a.Config.Server, watchStore, md, eng, infoHolder, statusHub, a.Logger)

	a.Logger.Info().Msg("starting watch service")

	errCh := make(chan error, 2)
	go func() { errCh <- svc.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx) }()

	err = <-errCh
	cancel()
	if second := <-errCh; err == nil {
		err = second
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical prices.
type ExportOptions struct {
	Ticker    string
	Period    string
	Interval  string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate-alert command.
type SimulateOptions struct {
	Ticker string
	Price  decimal.Decimal
	Level  decimal.Decimal
}
