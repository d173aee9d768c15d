package market

import (
	"strings"
	"time"
)

// Status is the trading state of a market.
type Status string

const (
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
	StatusPreMarket  Status = "pre-market"
	StatusAfterHours Status = "after-hours"
	StatusUnknown    Status = "unknown"
)

// session is a trading window in minutes since local midnight, [start, end).
type session struct {
	start int
	end   int
}

func mins(h, m int) int { return h*60 + m }

type exchangeInfo struct {
	timezone   string
	name       string
	preMarket  *session
	regular    session
	afterHours *session
}

// Session tables per exchange code. Holidays are not accounted for.
var exchanges = map[string]exchangeInfo{
	"NMS": {
		timezone:   "America/New_York",
		name:       "NASDAQ",
		preMarket:  &session{mins(4, 0), mins(9, 30)},
		regular:    session{mins(9, 30), mins(16, 0)},
		afterHours: &session{mins(16, 0), mins(20, 0)},
	},
	"NYQ": {
		timezone:   "America/New_York",
		name:       "NYSE",
		preMarket:  &session{mins(4, 0), mins(9, 30)},
		regular:    session{mins(9, 30), mins(16, 0)},
		afterHours: &session{mins(16, 0), mins(20, 0)},
	},
	"MIL": {
		timezone:   "Europe/Rome",
		name:       "Borsa Italiana",
		preMarket:  &session{mins(8, 0), mins(9, 0)},
		regular:    session{mins(9, 0), mins(17, 30)},
		afterHours: &session{mins(17, 30), mins(17, 35)},
	},
	"LSE": {
		timezone:   "Europe/London",
		name:       "London Stock Exchange",
		preMarket:  &session{mins(5, 5), mins(8, 0)},
		regular:    session{mins(8, 0), mins(16, 30)},
		afterHours: &session{mins(16, 30), mins(16, 35)},
	},
	"PAR": {
		timezone:   "Europe/Paris",
		name:       "Euronext Paris",
		preMarket:  &session{mins(7, 15), mins(9, 0)},
		regular:    session{mins(9, 0), mins(17, 30)},
		afterHours: &session{mins(17, 30), mins(17, 35)},
	},
	"FRA": {
		timezone:   "Europe/Berlin",
		name:       "Frankfurt Stock Exchange",
		preMarket:  &session{mins(8, 0), mins(9, 0)},
		regular:    session{mins(9, 0), mins(17, 30)},
		afterHours: &session{mins(17, 30), mins(20, 0)},
	},
	"HKG": {
		timezone:  "Asia/Hong_Kong",
		name:      "Hong Kong Stock Exchange",
		preMarket: &session{mins(9, 0), mins(9, 30)},
		regular:   session{mins(9, 30), mins(16, 0)},
	},
	"JPX": {
		timezone: "Asia/Tokyo",
		name:     "Tokyo Stock Exchange",
		regular:  session{mins(9, 0), mins(15, 0)},
	},
}

// NormalizeState converts a Yahoo marketState into our status vocabulary.
// Yahoo states: REGULAR, PRE, POST, CLOSED, PREPRE, POSTPOST.
func NormalizeState(yahooState string) Status {
	switch strings.ToUpper(yahooState) {
	case "":
		return StatusUnknown
	case "REGULAR":
		return StatusOpen
	case "PRE", "PREPRE":
		return StatusPreMarket
	case "POST", "POSTPOST":
		return StatusAfterHours
	case "CLOSED":
		return StatusClosed
	default:
		return StatusUnknown
	}
}

// TickerMarket is the market identity attached to one fetched sample.
type TickerMarket struct {
	Timezone string
	Exchange string
	State    string
}

// StatusFor resolves the trading status for one ticker's market. The
// provider-reported state wins when present; otherwise the session tables
// for the exchange timezone are consulted.
func StatusFor(tm TickerMarket, now time.Time) (Status, string) {
	displayName := tm.Exchange
	info, known := exchanges[tm.Exchange]
	if known {
		displayName = info.name
	}

	if st := NormalizeState(tm.State); st != StatusUnknown {
		return st, displayName
	}

	tzName := tm.Timezone
	if tzName == "" && known {
		tzName = info.timezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc, _ = time.LoadLocation("America/New_York")
	}
	local := now.In(loc)

	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return StatusClosed, displayName
	}

	if !known {
		// Fall back to the NASDAQ session shape in the ticker's own timezone.
		info = exchanges["NMS"]
	}

	minute := mins(local.Hour(), local.Minute())
	switch {
	case info.regular.contains(minute):
		return StatusOpen, displayName
	case info.preMarket.contains(minute):
		return StatusPreMarket, displayName
	case info.afterHours.contains(minute):
		return StatusAfterHours, displayName
	default:
		return StatusClosed, displayName
	}
}

func (s *session) contains(minute int) bool {
	if s == nil {
		return false
	}
	return minute >= s.start && minute < s.end
}

// Aggregate resolves a per-exchange status map and the overall status for a
// set of watched tickers. Priority: open > pre-market > after-hours > closed.
func Aggregate(data []TickerMarket, now time.Time) (Status, map[string]string) {
	markets := make(map[string]string, len(data))

	for _, tm := range data {
		status, name := StatusFor(tm, now)
		current, seen := markets[name]
		if !seen || rank(status) > rank(Status(current)) {
			markets[name] = string(status)
		}
	}

	overall := StatusClosed
	for _, v := range markets {
		if rank(Status(v)) > rank(overall) {
			overall = Status(v)
		}
	}
	return overall, markets
}

func rank(s Status) int {
	switch s {
	case StatusOpen:
		return 3
	case StatusPreMarket:
		return 2
	case StatusAfterHours:
		return 1
	default:
		return 0
	}
}
