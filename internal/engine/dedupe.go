package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"stocks-watcher/internal/storage"
)

type phase int

const (
	phaseQuiet phase = iota
	phaseArmed
	phaseFired
)

type levelKey struct {
	ticker string
	level  string
}

// levelState is in-memory only; a restart loses armed/fired progress but the
// persisted fingerprint still suppresses duplicate alerts for the same
// crossing occurrence.
type levelState struct {
	phase      phase
	prevSign   int
	prevNear   bool
	nearStreak int
}

// Deduper runs the quiet/armed/fired transition table per (ticker, level)
// and decides whether a candidate alert is a new occurrence.
type Deduper struct {
	threshold  decimal.Decimal
	hysteresis decimal.Decimal
	debounce   int
	states     map[levelKey]*levelState
}

// NewDeduper constructs a deduper. Threshold and hysteresis are percentages;
// debounce is the number of consecutive near polls that fires without a
// crossing.
func NewDeduper(nearThresholdPct, hysteresisPct float64, debounce int) *Deduper {
	if debounce <= 0 {
		debounce = 3
	}
	return &Deduper{
		threshold:  decimal.NewFromFloat(nearThresholdPct),
		hysteresis: decimal.NewFromFloat(hysteresisPct),
		debounce:   debounce,
		states:     make(map[levelKey]*levelState),
	}
}

// Threshold exposes the configured near band percentage.
func (d *Deduper) Threshold() decimal.Decimal {
	return d.threshold
}

// Observe advances each level's state machine with a new price sample and
// returns the alerts that fire. Suppressed occurrences (fingerprint equal to
// the watch's last one) still transition to fired but emit nothing. Not
// goroutine safe; owned by the cycle's evaluation step.
func (d *Deduper) Observe(watch storage.Watch, price decimal.Decimal, at time.Time) []AlertEvent {
	if price.Sign() <= 0 {
		return nil
	}

	var events []AlertEvent
	for _, level := range watch.Levels {
		key := levelKey{ticker: watch.Ticker, level: level.String()}
		st, ok := d.states[key]
		if !ok {
			st = &levelState{}
			d.states[key] = st
		}

		dist := price.Sub(level).Abs().Div(price).Mul(dec100)
		near := dist.LessThanOrEqual(d.threshold)
		sign := price.Sub(level).Sign()
		crossed := st.prevSign != 0 && sign != 0 && sign != st.prevSign

		switch st.phase {
		case phaseQuiet:
			if near && !st.prevNear {
				st.phase = phaseArmed
				st.nearStreak = 1
				// A single poll can both enter the band and cross the level;
				// arming must not delay that alert by one cycle.
				if crossed {
					if ev, ok := d.fire(watch, level, price, sign, st, at); ok {
						events = append(events, ev)
					}
				}
			}

		case phaseArmed:
			if near {
				st.nearStreak++
			} else {
				st.nearStreak = 0
			}

			if crossed || st.nearStreak >= d.debounce {
				if ev, ok := d.fire(watch, level, price, sign, st, at); ok {
					events = append(events, ev)
				}
			} else if !near {
				// Retreated out of the band without crossing; disarm so a
				// fresh approach re-arms.
				st.phase = phaseQuiet
			}

		case phaseFired:
			if dist.GreaterThan(d.threshold.Add(d.hysteresis)) {
				st.phase = phaseQuiet
				st.nearStreak = 0
			}
		}

		if sign != 0 {
			st.prevSign = sign
		}
		st.prevNear = near
	}

	return events
}

// fire transitions a level's state to fired and reports the alert unless the
// watch's persisted fingerprint already covers this occurrence.
func (d *Deduper) fire(watch storage.Watch, level, price decimal.Decimal, sign int, st *levelState, at time.Time) (AlertEvent, bool) {
	st.phase = phaseFired
	st.nearStreak = 0

	direction := directionOf(sign, st.prevSign)
	fp := Fingerprint(watch.Ticker, level, direction, at)
	if watch.LastAlertHash != nil && *watch.LastAlertHash == fp {
		return AlertEvent{}, false
	}

	return AlertEvent{
		Ticker:      watch.Ticker,
		Level:       level,
		Price:       price,
		Direction:   direction,
		At:          at,
		Fingerprint: fp,
	}, true
}

// Prune drops state for tickers no longer watched.
func (d *Deduper) Prune(active map[string]struct{}) {
	for key := range d.states {
		if _, ok := active[key.ticker]; !ok {
			delete(d.states, key)
		}
	}
}

func directionOf(sign, prevSign int) string {
	switch {
	case sign > 0:
		return "up"
	case sign < 0:
		return "down"
	case prevSign < 0:
		return "up"
	default:
		return "down"
	}
}

// Fingerprint identifies one alert occurrence: same ticker, level, crossing
// direction, and UTC calendar day hash identically, so a repeated firing for
// the same occurrence is suppressed even across restarts.
func Fingerprint(ticker string, level decimal.Decimal, direction string, at time.Time) string {
	day := at.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", ticker, level.String(), direction, day)))
	return hex.EncodeToString(sum[:])
}
