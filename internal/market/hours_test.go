package market

import (
	"testing"
	"time"
)

func TestNormalizeState(t *testing.T) {
	cases := map[string]Status{
		"REGULAR":  StatusOpen,
		"regular":  StatusOpen,
		"PRE":      StatusPreMarket,
		"PREPRE":   StatusPreMarket,
		"POST":     StatusAfterHours,
		"POSTPOST": StatusAfterHours,
		"CLOSED":   StatusClosed,
		"":         StatusUnknown,
		"GARBAGE":  StatusUnknown,
	}
	for in, want := range cases {
		if got := NormalizeState(in); got != want {
			t.Errorf("NormalizeState(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestStatusForProviderStateWins(t *testing.T) {
	// 3am New York on a weekday; the session table would say closed.
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tm := TickerMarket{Exchange: "NMS", Timezone: "America/New_York", State: "REGULAR"}

	status, name := StatusFor(tm, now)
	if status != StatusOpen {
		t.Fatalf("provider state must win, got %s", status)
	}
	if name != "NASDAQ" {
		t.Fatalf("expected display name NASDAQ, got %s", name)
	}
}

func TestStatusForSessionTables(t *testing.T) {
	tm := TickerMarket{Exchange: "NMS", Timezone: "America/New_York"}

	cases := []struct {
		utc  time.Time
		want Status
	}{
		// Monday 2026-03-02, New York is UTC-5.
		{time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), StatusOpen},       // 10:00 local
		{time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), StatusPreMarket},  // 08:00 local
		{time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), StatusAfterHours}, // 17:00 local
		{time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), StatusClosed},      // 22:00 local Mon
		{time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC), StatusClosed},     // Saturday
	}
	for _, c := range cases {
		if got, _ := StatusFor(tm, c.utc); got != c.want {
			t.Errorf("StatusFor at %s = %s, want %s", c.utc, got, c.want)
		}
	}
}

func TestStatusForUnknownExchangeFallsBack(t *testing.T) {
	// Unknown exchange with its own timezone borrows the NASDAQ session shape.
	tm := TickerMarket{Exchange: "XXX", Timezone: "Europe/Rome"}
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // 11:00 in Rome

	status, name := StatusFor(tm, now)
	if status != StatusOpen {
		t.Fatalf("expected open at 11:00 local, got %s", status)
	}
	if name != "XXX" {
		t.Fatalf("unknown exchange keeps its code as display name, got %s", name)
	}
}

func TestAggregatePriority(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	data := []TickerMarket{
		{Exchange: "NMS", State: "REGULAR"},
		{Exchange: "MIL", State: "POST"},
		{Exchange: "JPX", State: "CLOSED"},
	}

	overall, markets := Aggregate(data, now)
	if overall != StatusOpen {
		t.Fatalf("open must dominate, got %s", overall)
	}
	if markets["NASDAQ"] != "open" || markets["Borsa Italiana"] != "after-hours" || markets["Tokyo Stock Exchange"] != "closed" {
		t.Fatalf("unexpected per-market statuses: %v", markets)
	}
}

func TestAggregateEmpty(t *testing.T) {
	overall, markets := Aggregate(nil, time.Now())
	if overall != StatusClosed {
		t.Fatalf("no data should aggregate to closed, got %s", overall)
	}
	if len(markets) != 0 {
		t.Fatalf("expected empty market map, got %v", markets)
	}
}
