package engine

import (
	"testing"
	"time"

	"stocks-watcher/internal/storage"
)

func testWatch(levels ...string) storage.Watch {
	w := storage.Watch{Ticker: "AAPL", Enabled: true}
	for _, l := range levels {
		w.Levels = append(w.Levels, dec(l))
	}
	return w
}

func TestDeduperScenario(t *testing.T) {
	d := NewDeduper(1.0, 0, 3)
	w := testWatch("100", "110")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	steps := []struct {
		price string
		want  []string // fired levels
	}{
		{"95", nil},
		{"99.5", nil},                // enters band for 100, arms
		{"100.2", []string{"100"}},   // crosses 100
		{"99", nil},                  // exits band, back to quiet
		{"111", []string{"110"}},     // enters band and crosses 110 in one poll
	}

	for i, step := range steps {
		events := d.Observe(w, dec(step.price), at.Add(time.Duration(i)*time.Minute))
		if len(events) != len(step.want) {
			t.Fatalf("step %d price %s: got %d events, want %d (%v)", i, step.price, len(events), len(step.want), events)
		}
		for j, lvl := range step.want {
			if !events[j].Level.Equal(dec(lvl)) {
				t.Fatalf("step %d: fired level %s, want %s", i, events[j].Level, lvl)
			}
			if events[j].Direction != "up" {
				t.Fatalf("step %d: direction %s, want up", i, events[j].Direction)
			}
		}
	}
}

func TestDeduperIdempotentOnUnchangedPrice(t *testing.T) {
	d := NewDeduper(1.0, 0.5, 5)
	w := testWatch("100")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if events := d.Observe(w, dec("99.8"), at.Add(time.Duration(i)*time.Minute)); len(events) != 0 {
			t.Fatalf("poll %d with unchanged price produced events: %v", i, events)
		}
	}
}

func TestDeduperDebounceFires(t *testing.T) {
	d := NewDeduper(1.0, 0.5, 3)
	w := testWatch("100")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	var fired []AlertEvent
	for i := 0; i < 5; i++ {
		fired = append(fired, d.Observe(w, dec("99.8"), at.Add(time.Duration(i)*time.Minute))...)
	}
	if len(fired) != 1 {
		t.Fatalf("debounce should fire exactly once, got %d events", len(fired))
	}
	if fired[0].Direction != "down" {
		t.Fatalf("price below level should report direction down, got %s", fired[0].Direction)
	}
}

func TestDeduperSuppressesSameFingerprint(t *testing.T) {
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	// The watch already carries the fingerprint this crossing will compute,
	// as after a restart mid-occurrence. The crossing must stay silent.
	fp := Fingerprint("AAPL", dec("100"), "up", at)
	w := testWatch("100")
	w.LastAlertHash = &fp

	d := NewDeduper(1.0, 0, 3)
	for i, price := range []string{"95", "99.5", "100.2"} {
		if events := d.Observe(w, dec(price), at.Add(time.Duration(i)*time.Minute)); len(events) != 0 {
			t.Fatalf("same (ticker, level, direction, day) must be suppressed, got %v", events)
		}
	}
	if d.states[levelKey{ticker: "AAPL", level: "100"}].phase != phaseFired {
		t.Fatal("suppressed crossing should still transition to fired")
	}

	// The same crossing on the next day is a new occurrence.
	nextDay := at.Add(24 * time.Hour)
	d = NewDeduper(1.0, 0, 3)
	var fired []AlertEvent
	for i, price := range []string{"95", "99.5", "100.2"} {
		fired = append(fired, d.Observe(w, dec(price), nextDay.Add(time.Duration(i)*time.Minute))...)
	}
	if len(fired) != 1 {
		t.Fatalf("a later day should produce a new event, got %d", len(fired))
	}
}

func TestDeduperOppositeDirectionNewEvent(t *testing.T) {
	d := NewDeduper(1.0, 0, 3)
	w := testWatch("100")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	d.Observe(w, dec("95"), at)
	d.Observe(w, dec("99.5"), at.Add(time.Minute))
	events := d.Observe(w, dec("100.2"), at.Add(2*time.Minute))
	if len(events) != 1 || events[0].Direction != "up" {
		t.Fatalf("expected one up crossing, got %v", events)
	}
	fp := events[0].Fingerprint
	w.LastAlertHash = &fp

	d.Observe(w, dec("103"), at.Add(3*time.Minute))
	d.Observe(w, dec("100.5"), at.Add(4*time.Minute))
	events = d.Observe(w, dec("99.7"), at.Add(5*time.Minute))
	if len(events) != 1 || events[0].Direction != "down" {
		t.Fatalf("downward crossing should fire despite same-day up fingerprint, got %v", events)
	}
}

func TestDeduperHysteresis(t *testing.T) {
	d := NewDeduper(1.0, 0.5, 3)
	w := testWatch("100")
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	d.Observe(w, dec("95"), at)
	d.Observe(w, dec("99.5"), at.Add(time.Minute))
	events := d.Observe(w, dec("100.2"), at.Add(2*time.Minute))
	if len(events) != 1 {
		t.Fatalf("expected crossing event, got %v", events)
	}

	// 99: |99-100|/99 ≈ 1.01%, inside threshold+hysteresis (1.5%), stays fired.
	if events := d.Observe(w, dec("99"), at.Add(3*time.Minute)); len(events) != 0 {
		t.Fatalf("within hysteresis margin must not re-alert, got %v", events)
	}
	// Crossing back up while still fired stays silent.
	if events := d.Observe(w, dec("100.3"), at.Add(4*time.Minute)); len(events) != 0 {
		t.Fatalf("oscillation at the threshold must not re-alert, got %v", events)
	}

	key := levelKey{ticker: "AAPL", level: "100"}
	if d.states[key].phase != phaseFired {
		t.Fatal("state should remain fired inside the hysteresis band")
	}

	// 102: |102-100|/102 ≈ 1.96% > 1.5%, returns to quiet.
	d.Observe(w, dec("102"), at.Add(5*time.Minute))
	if d.states[key].phase != phaseQuiet {
		t.Fatal("beyond threshold+hysteresis the state should return to quiet")
	}
}

func TestDeduperPrune(t *testing.T) {
	d := NewDeduper(1.0, 0, 3)
	at := time.Now().UTC()
	d.Observe(testWatch("100"), dec("99.5"), at)

	d.Prune(map[string]struct{}{"MSFT": {}})
	if len(d.states) != 0 {
		t.Fatalf("state for unwatched tickers should be dropped, have %d entries", len(d.states))
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	a := Fingerprint("AAPL", dec("100"), "up", at)
	b := Fingerprint("AAPL", dec("100"), "up", at.Add(-time.Hour))
	if a != b {
		t.Fatal("same ticker/level/direction/day must hash identically")
	}
	if a == Fingerprint("AAPL", dec("100"), "down", at) {
		t.Fatal("direction must change the fingerprint")
	}
	if a == Fingerprint("AAPL", dec("100"), "up", at.Add(time.Minute)) {
		t.Fatal("a new UTC day must change the fingerprint")
	}
}
