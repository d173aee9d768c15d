package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stocks-watcher/internal/config"
	"stocks-watcher/internal/engine"
	"stocks-watcher/internal/hub"
	"stocks-watcher/internal/market"
	"stocks-watcher/internal/provider"
	"stocks-watcher/internal/storage"
)

// fakeMarketData validates every ticker except UNKNOWN and serves one bar.
// FLAKY simulates an upstream outage.
type fakeMarketData struct{}

var errUpstream = errors.New("upstream timeout")

func (fakeMarketData) GetQuote(ctx context.Context, ticker string) (provider.PriceSample, error) {
	return provider.PriceSample{Ticker: ticker, Price: decimal.NewFromInt(100), Currency: "USD"}, nil
}

func (fakeMarketData) GetHistory(ctx context.Context, ticker, period, interval string) ([]provider.Bar, error) {
	if ticker == "UNKNOWN" {
		return nil, provider.ErrNotFound
	}
	if ticker == "FLAKY" {
		return nil, errUpstream
	}
	return []provider.Bar{{
		Date:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Open:   decimal.NewFromInt(99),
		High:   decimal.NewFromInt(101),
		Low:    decimal.NewFromInt(98),
		Close:  decimal.NewFromInt(100),
		Volume: 1000,
	}}, nil
}

func (fakeMarketData) GetDetails(ctx context.Context, ticker string) (provider.StockDetails, error) {
	if ticker == "UNKNOWN" {
		return provider.StockDetails{}, provider.ErrNotFound
	}
	if ticker == "FLAKY" {
		return provider.StockDetails{}, errUpstream
	}
	return provider.StockDetails{Ticker: ticker, Currency: "USD"}, nil
}

func (fakeMarketData) Validate(ctx context.Context, ticker string) error {
	if ticker == "UNKNOWN" || strings.TrimSpace(ticker) == "" {
		return provider.ErrNotFound
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	md := fakeMarketData{}
	info := market.NewInfoHolder(5 * time.Minute)
	h := hub.New(zerolog.Nop())
	eng := engine.New(md, store, store, nil, h, info, engine.Options{NearThresholdPct: 1.0}, zerolog.Nop())

	cfg := config.ServerConfig{
		ListenAddr:      "127.0.0.1:0",
		AllowedOrigins:  []string{"http://localhost:3000"},
		ShutdownTimeout: time.Second,
	}
	return New(cfg, store, md, eng, info, h, zerolog.Nop()), store
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateWatch(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doRequest(t, handler, http.MethodPost, "/watches", `{"ticker":"aapl","levels":[150,140]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var watch storage.Watch
	if err := json.Unmarshal(rec.Body.Bytes(), &watch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if watch.Ticker != "AAPL" || !watch.Enabled {
		t.Fatalf("watch should be normalized and enabled by default, got %+v", watch)
	}
	if len(watch.Levels) != 2 || !watch.Levels[0].Equal(decimal.NewFromInt(140)) {
		t.Fatalf("levels should be ascending, got %v", watch.Levels)
	}
}

func TestCreateWatchUnknownTicker(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/watches", `{"ticker":"UNKNOWN","levels":[10]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if !strings.Contains(body["detail"], "UNKNOWN") {
		t.Fatalf("detail should name the ticker, got %q", body["detail"])
	}
}

func TestCreateWatchInvalidLevels(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/watches", `{"ticker":"AAPL","levels":[-5]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative levels should be rejected, got %d", rec.Code)
	}
}

func TestListWatches(t *testing.T) {
	srv, store := newTestServer(t)
	if _, err := store.UpsertWatch(context.Background(), storage.Watch{Ticker: "AAPL", Levels: []decimal.Decimal{decimal.NewFromInt(150)}, Enabled: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/watches", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var watches []storage.Watch
	if err := json.Unmarshal(rec.Body.Bytes(), &watches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(watches) != 1 || watches[0].Ticker != "AAPL" {
		t.Fatalf("unexpected list: %+v", watches)
	}
}

func TestDeleteWatch(t *testing.T) {
	srv, store := newTestServer(t)
	if _, err := store.UpsertWatch(context.Background(), storage.Watch{Ticker: "AAPL", Levels: []decimal.Decimal{decimal.NewFromInt(150)}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv.Handler(), http.MethodDelete, "/watches/AAPL", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if !strings.Contains(body["message"], "deleted successfully") {
		t.Fatalf("unexpected message: %q", body["message"])
	}

	rec = doRequest(t, srv.Handler(), http.MethodDelete, "/watches/AAPL", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete should 404, got %d", rec.Code)
	}
}

func TestStatusAndInfo(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var statuses []engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/info", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var info market.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.CheckIntervalMinutes != 5 {
		t.Fatalf("expected check interval 5, got %d", info.CheckIntervalMinutes)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/stocks/AAPL/history?period=1mo&interval=1d", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bars []provider.Bar
	if err := json.Unmarshal(rec.Body.Bytes(), &bars); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(bars) != 1 || !bars[0].Close.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected bars: %+v", bars)
	}

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/stocks/UNKNOWN/history", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ticker history should 404, got %d", rec.Code)
	}

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/stocks/UNKNOWN/details", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ticker details should 404, got %d", rec.Code)
	}
}

func TestProviderOutageIsNotNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/stocks/FLAKY/history", "/stocks/FLAKY/details"} {
		rec := doRequest(t, srv.Handler(), http.MethodGet, path, "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("%s: transient provider failure should 502, got %d", path, rec.Code)
		}
		var body map[string]string
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body["detail"] != "market data unavailable" {
			t.Fatalf("%s: unexpected detail %q", path, body["detail"])
		}
	}
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allowed origin should be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not be allowed")
	}

	req = httptest.NewRequest(http.MethodOptions, "/watches", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight should return 204, got %d", rec.Code)
	}
}
