package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"stocks-watcher/internal/alerting"
	"stocks-watcher/internal/market"
	"stocks-watcher/internal/provider"
	"stocks-watcher/internal/storage"
)

// StatusSink receives the full status snapshot after each cycle.
type StatusSink interface {
	Publish(statuses []Status)
}

// Options tune engine behaviour.
type Options struct {
	Workers            int
	FetchTimeout       time.Duration
	StaleAfterFailures int
	NearThresholdPct   float64
	HysteresisPct      float64
	DebounceCount      int
	CheckInterval      time.Duration
	OffHoursInterval   time.Duration
	Weekends           bool
	Channels           []string
	AlertsEnabled      bool
	AlertRetention     time.Duration
}

// Engine evaluates all watches once per cycle: fetch, proximity, dedup,
// persist fingerprint, publish.
type Engine struct {
	provider provider.MarketData
	watches  storage.WatchStore
	alerts   storage.AlertStore
	notifier alerting.Notifier
	sink     StatusSink
	deduper  *Deduper
	info     *market.InfoHolder
	logger   zerolog.Logger
	opts     Options

	// inFlight is guarded by mu; failures, tickerMarkets and the deduper
	// are touched only by the evaluation step of a single cycle. statuses
	// is also read by Snapshot from request goroutines, so it carries its
	// own lock.
	mu            sync.Mutex
	inFlight      map[string]struct{}
	statusMu      sync.RWMutex
	statuses      map[string]Status
	failures      map[string]int
	tickerMarkets map[string]market.TickerMarket
}

// New constructs an engine. alerts, notifier, and sink may be nil.
func New(md provider.MarketData, watches storage.WatchStore, alerts storage.AlertStore, notifier alerting.Notifier, sink StatusSink, info *market.InfoHolder, opts Options, logger zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.StaleAfterFailures <= 0 {
		opts.StaleAfterFailures = 3
	}
	if opts.OffHoursInterval < opts.CheckInterval {
		opts.OffHoursInterval = opts.CheckInterval
	}

	return &Engine{
		provider:      md,
		watches:       watches,
		alerts:        alerts,
		notifier:      notifier,
		sink:          sink,
		deduper:       NewDeduper(opts.NearThresholdPct, opts.HysteresisPct, opts.DebounceCount),
		info:          info,
		logger:        logger.With().Str("component", "engine").Logger(),
		opts:          opts,
		inFlight:      make(map[string]struct{}),
		statuses:      make(map[string]Status),
		failures:      make(map[string]int),
		tickerMarkets: make(map[string]market.TickerMarket),
	}
}

type fetchResult struct {
	watch  storage.Watch
	sample provider.PriceSample
	err    error
}

// RunCycle evaluates every watch once. Per-ticker failures are isolated; a
// ticker still in flight from a previous cycle is skipped.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) error {
	if !e.opts.Weekends {
		if wd := now.UTC().Weekday(); wd == time.Saturday || wd == time.Sunday {
			e.logger.Info().Msg("skipping cycle on weekend")
			return nil
		}
	}

	watches, err := e.watches.ListWatches(ctx)
	if err != nil {
		return err
	}

	active := make(map[string]struct{}, len(watches))
	for _, w := range watches {
		active[w.Ticker] = struct{}{}
	}
	e.prune(active)
	e.deduper.Prune(active)

	scheduled := make([]storage.Watch, 0, len(watches))
	for _, w := range watches {
		if e.tryAcquire(w.Ticker) {
			scheduled = append(scheduled, w)
		} else {
			e.logger.Warn().Str("ticker", w.Ticker).Msg("previous fetch still in flight; skipping ticker this cycle")
		}
	}
	e.logger.Info().Int("watches", len(watches)).Int("scheduled", len(scheduled)).Msg("cycle started")

	jobs := make(chan storage.Watch)
	results := make(chan fetchResult)

	workers := e.opts.Workers
	if workers > len(scheduled) && len(scheduled) > 0 {
		workers = len(scheduled)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
				sample, fetchErr := e.provider.GetQuote(fetchCtx, w.Ticker)
				cancel()
				results <- fetchResult{watch: w, sample: sample, err: fetchErr}
			}
		}()
	}

	go func() {
		for _, w := range scheduled {
			jobs <- w
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	// Evaluation is deliberately single-threaded: the armed/fired state map
	// and the fingerprint write are only ever touched here.
	for res := range results {
		e.consume(ctx, res, now)
		e.release(res.watch.Ticker)
	}

	snapshot := e.Snapshot()
	e.publishInfo(now, watches)
	if e.sink != nil {
		e.sink.Publish(snapshot)
	}

	if e.alerts != nil && e.opts.AlertRetention > 0 {
		if err := e.alerts.DeleteAlertsBefore(ctx, now.Add(-e.opts.AlertRetention)); err != nil {
			e.logger.Warn().Err(err).Msg("failed to prune old alerts")
		}
	}

	e.logger.Info().Int("statuses", len(snapshot)).Msg("cycle completed")
	return ctx.Err()
}

func (e *Engine) consume(ctx context.Context, res fetchResult, now time.Time) {
	ticker := res.watch.Ticker

	if res.err != nil {
		e.failures[ticker]++
		count := e.failures[ticker]
		e.logger.Error().Err(res.err).Str("ticker", ticker).Int("consecutive_failures", count).Msg("fetch failed")
		if count >= e.opts.StaleAfterFailures {
			e.statusMu.Lock()
			prev, had := e.statuses[ticker]
			stale := Status{Ticker: ticker, Enabled: res.watch.Enabled, Stale: true}
			if had {
				stale.Currency = prev.Currency
			}
			e.statuses[ticker] = stale
			e.statusMu.Unlock()
		}
		// Below the stale threshold the previous status is carried as-is.
		return
	}

	e.failures[ticker] = 0

	sample := res.sample
	eval := EvaluateLevels(sample.Price, sample.OpenPrice, res.watch.Levels, e.deduper.Threshold())

	price := sample.Price
	e.statusMu.Lock()
	e.statuses[ticker] = Status{
		Ticker:         ticker,
		Price:          &price,
		Currency:       sample.Currency,
		NearestLevel:   eval.NearestLevel,
		DistancePct:    eval.DistancePct,
		Near:           eval.Near,
		OpenPrice:      sample.OpenPrice,
		PriceChangePct: eval.PriceChangePct,
		Enabled:        res.watch.Enabled,
	}
	e.statusMu.Unlock()
	e.tickerMarkets[ticker] = market.TickerMarket{
		Timezone: sample.Timezone,
		Exchange: sample.Exchange,
		State:    sample.MarketState,
	}

	// Disabled watches stay visible in the feed but never reach the deduper.
	if !res.watch.Enabled || !e.opts.AlertsEnabled {
		return
	}

	for _, event := range e.deduper.Observe(res.watch, sample.Price, now) {
		e.fire(ctx, event, eval)
	}
}

// fire persists the fingerprint before any notification or broadcast, so a
// crash can at worst delay delivery, never duplicate it.
func (e *Engine) fire(ctx context.Context, event AlertEvent, eval Evaluation) {
	if err := e.watches.UpdateLastAlert(ctx, event.Ticker, &event.Fingerprint); err != nil {
		e.logger.Error().Err(err).Str("ticker", event.Ticker).Msg("failed to persist alert fingerprint; alert withheld")
		return
	}

	if e.alerts != nil {
		record := storage.AlertRecord{
			Ticker:      event.Ticker,
			Level:       event.Level,
			Price:       event.Price,
			Direction:   event.Direction,
			Fingerprint: event.Fingerprint,
		}
		if _, err := e.alerts.InsertAlert(ctx, record); err != nil {
			e.logger.Error().Err(err).Str("ticker", event.Ticker).Msg("failed to persist alert record")
		}
	}

	if e.notifier != nil {
		distance := event.Price.Sub(event.Level).Abs().Div(event.Price).Mul(dec100)
		note := alerting.Notification{
			Ticker:      event.Ticker,
			Level:       event.Level,
			Price:       event.Price,
			DistancePct: distance,
			Direction:   event.Direction,
			At:          event.At,
			Channels:    e.opts.Channels,
		}
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Str("ticker", event.Ticker).Msg("failed to dispatch alert")
		}
	}

	e.logger.Info().
		Str("ticker", event.Ticker).
		Str("level", event.Level.String()).
		Str("direction", event.Direction).
		Msg("alert fired")
}

func (e *Engine) publishInfo(now time.Time, watches []storage.Watch) {
	if e.info == nil {
		return
	}

	data := make([]market.TickerMarket, 0, len(watches))
	var stale []string
	for _, w := range watches {
		if tm, ok := e.tickerMarkets[w.Ticker]; ok {
			data = append(data, tm)
		}
		if e.failures[w.Ticker] >= e.opts.StaleAfterFailures {
			stale = append(stale, w.Ticker)
		}
	}
	sort.Strings(stale)

	overall, markets := market.Aggregate(data, now)
	last := now
	next := now.Add(e.intervalFor(overall))
	e.info.Store(market.Info{
		LastUpdate:           &last,
		NextUpdate:           &next,
		CheckIntervalMinutes: int(e.opts.CheckInterval.Minutes()),
		MarketStatus:         string(overall),
		Markets:              markets,
		StaleTickers:         stale,
	})
}

// NextInterval reports the polling gap to the next cycle: the regular
// interval while any watched market is open, the off-hours interval otherwise.
func (e *Engine) NextInterval() time.Duration {
	if e.info == nil {
		return e.opts.CheckInterval
	}
	if market.Status(e.info.Load().MarketStatus) == market.StatusOpen {
		return e.opts.CheckInterval
	}
	return e.opts.OffHoursInterval
}

// Snapshot returns the current per-ticker statuses ordered by ticker.
func (e *Engine) Snapshot() []Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	out := make([]Status, 0, len(e.statuses))
	for _, st := range e.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (e *Engine) tryAcquire(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[ticker]; busy {
		return false
	}
	e.inFlight[ticker] = struct{}{}
	return true
}

func (e *Engine) release(ticker string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, ticker)
}

func (e *Engine) prune(active map[string]struct{}) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	for ticker := range e.statuses {
		if _, ok := active[ticker]; !ok {
			delete(e.statuses, ticker)
			delete(e.failures, ticker)
			delete(e.tickerMarkets, ticker)
		}
	}
}
