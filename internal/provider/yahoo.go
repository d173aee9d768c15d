package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	chartPath   = "/v8/finance/chart/"
	summaryPath = "/v10/finance/quoteSummary/"

	summaryModules = "price,summaryDetail,financialData,defaultKeyStatistics"
)

// YahooOptions parameterise the Yahoo Finance client.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// TickerMap rewrites dashboard tickers to upstream symbols, e.g. STM -> STMMI.MI.
	TickerMap map[string]string
}

// Yahoo fetches quotes, history, and fundamentals from the Yahoo Finance API.
type Yahoo struct {
	opts    YahooOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewYahoo constructs a market data client.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}

	return &Yahoo{
		opts:    opts,
		logger:  logger.With().Str("component", "yahoo_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (y *Yahoo) symbol(ticker string) string {
	if mapped, ok := y.opts.TickerMap[ticker]; ok {
		return mapped
	}
	return ticker
}

// GetQuote retrieves the current price sample for a ticker.
func (y *Yahoo) GetQuote(ctx context.Context, ticker string) (PriceSample, error) {
	res, err := y.fetchChart(ctx, ticker, "1d", "1m")
	if err != nil {
		return PriceSample{}, err
	}

	meta := res.Meta
	price := meta.RegularMarketPrice
	if price == 0 {
		if last := lastClose(res); last != nil {
			price = *last
		}
	}
	if price == 0 {
		return PriceSample{}, fmt.Errorf("no price data for %s", ticker)
	}

	sample := PriceSample{
		Ticker:      ticker,
		Price:       decimal.NewFromFloat(price),
		Currency:    orDefault(meta.Currency, "USD"),
		Exchange:    orDefault(meta.ExchangeName, "Unknown"),
		Timezone:    orDefault(meta.ExchangeTimezoneName, "America/New_York"),
		MarketState: meta.MarketState,
		AsOf:        time.Unix(meta.RegularMarketTime, 0).UTC(),
	}
	if open := sessionOpen(res); open != nil {
		d := decimal.NewFromFloat(*open)
		sample.OpenPrice = &d
	}

	return sample, nil
}

// GetHistory retrieves chronological OHLCV bars for the given period/interval.
func (y *Yahoo) GetHistory(ctx context.Context, ticker, period, interval string) ([]Bar, error) {
	if period == "" {
		period = "1y"
	}
	if interval == "" {
		interval = "1d"
	}

	res, err := y.fetchChart(ctx, ticker, period, interval)
	if err != nil {
		return nil, err
	}
	if len(res.Indicators.Quote) == 0 {
		return []Bar{}, nil
	}

	quote := res.Indicators.Quote[0]
	bars := make([]Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		bar := Bar{
			Date:  time.Unix(ts, 0).UTC(),
			Close: decimal.NewFromFloat(*quote.Close[i]),
		}
		if i < len(quote.Open) && quote.Open[i] != nil {
			bar.Open = decimal.NewFromFloat(*quote.Open[i])
		}
		if i < len(quote.High) && quote.High[i] != nil {
			bar.High = decimal.NewFromFloat(*quote.High[i])
		}
		if i < len(quote.Low) && quote.Low[i] != nil {
			bar.Low = decimal.NewFromFloat(*quote.Low[i])
		}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			bar.Volume = *quote.Volume[i]
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// GetDetails retrieves fundamentals via the quoteSummary endpoint.
func (y *Yahoo) GetDetails(ctx context.Context, ticker string) (StockDetails, error) {
	endpoint := y.baseURL + summaryPath + url.PathEscape(y.symbol(ticker))
	query := url.Values{"modules": {summaryModules}}

	payload, err := y.get(ctx, endpoint+"?"+query.Encode())
	if err != nil {
		return StockDetails{}, err
	}

	var parsed summaryResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return StockDetails{}, fmt.Errorf("parse quote summary: %w", err)
	}
	if parsed.QuoteSummary.Error != nil {
		return StockDetails{}, fmt.Errorf("yahoo api error: %s", parsed.QuoteSummary.Error.Description)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return StockDetails{}, ErrNotFound
	}

	r := parsed.QuoteSummary.Result[0]
	details := StockDetails{
		Ticker:       ticker,
		Name:         r.Price.LongName,
		Currency:     orDefault(r.Price.Currency, "USD"),
		CurrentPrice: r.Price.RegularMarketPrice.Raw,

		MarketCap:        r.Price.MarketCap.Raw,
		Volume:           r.SummaryDetail.Volume.Int(),
		AvgVolume:        r.SummaryDetail.AverageVolume.Int(),
		FiftyTwoWeekHigh: r.SummaryDetail.FiftyTwoWeekHigh.Raw,
		FiftyTwoWeekLow:  r.SummaryDetail.FiftyTwoWeekLow.Raw,
		Beta:             r.SummaryDetail.Beta.Raw,

		PERatio:      r.SummaryDetail.TrailingPE.Raw,
		ForwardPE:    r.SummaryDetail.ForwardPE.Raw,
		PriceToBook:  r.DefaultKeyStatistics.PriceToBook.Raw,
		PriceToSales: r.SummaryDetail.PriceToSales.Raw,

		ProfitMargin:    r.FinancialData.ProfitMargins.Raw,
		OperatingMargin: r.FinancialData.OperatingMargins.Raw,
		ROE:             r.FinancialData.ReturnOnEquity.Raw,
		ROA:             r.FinancialData.ReturnOnAssets.Raw,

		RevenueGrowth:  r.FinancialData.RevenueGrowth.Raw,
		EarningsGrowth: r.FinancialData.EarningsGrowth.Raw,

		DividendYield: r.SummaryDetail.DividendYield.Raw,
		PayoutRatio:   r.SummaryDetail.PayoutRatio.Raw,

		DebtToEquity: r.FinancialData.DebtToEquity.Raw,
		CurrentRatio: r.FinancialData.CurrentRatio.Raw,
		FreeCashflow: r.FinancialData.FreeCashflow.Raw,

		TargetMeanPrice:    r.FinancialData.TargetMeanPrice.Raw,
		TargetHighPrice:    r.FinancialData.TargetHighPrice.Raw,
		TargetLowPrice:     r.FinancialData.TargetLowPrice.Raw,
		RecommendationKey:  r.FinancialData.RecommendationKey,
		RecommendationMean: r.FinancialData.RecommendationMean.Raw,

		FiftyTwoWeekChange: r.DefaultKeyStatistics.FiftyTwoWeekChange.Raw,
	}

	return details, nil
}

// Validate checks that a ticker is known upstream.
func (y *Yahoo) Validate(ctx context.Context, ticker string) error {
	_, err := y.fetchChart(ctx, ticker, "1d", "1d")
	return err
}

func (y *Yahoo) fetchChart(ctx context.Context, ticker, period, interval string) (*chartResult, error) {
	endpoint := y.baseURL + chartPath + url.PathEscape(y.symbol(ticker))
	query := url.Values{
		"range":          {period},
		"interval":       {interval},
		"includePrePost": {"false"},
	}

	payload, err := y.get(ctx, endpoint+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var parsed chartResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse chart response: %w", err)
	}
	if parsed.Chart.Error != nil {
		if strings.EqualFold(parsed.Chart.Error.Code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
		}
		return nil, fmt.Errorf("yahoo api error: %s", parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ticker)
	}

	return &parsed.Chart.Result[0], nil
}

func (y *Yahoo) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(y.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stockswatcher/1.0")
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	return payload, nil
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *apiError     `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency             string  `json:"currency"`
		ExchangeName         string  `json:"exchangeName"`
		ExchangeTimezoneName string  `json:"exchangeTimezoneName"`
		MarketState          string  `json:"marketState"`
		RegularMarketPrice   float64 `json:"regularMarketPrice"`
		RegularMarketTime    int64   `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

type summaryResponse struct {
	QuoteSummary struct {
		Result []summaryResult `json:"result"`
		Error  *apiError       `json:"error"`
	} `json:"quoteSummary"`
}

type summaryResult struct {
	Price struct {
		LongName           *string  `json:"longName"`
		Currency           string   `json:"currency"`
		RegularMarketPrice rawValue `json:"regularMarketPrice"`
		MarketCap          rawValue `json:"marketCap"`
	} `json:"price"`
	SummaryDetail struct {
		Volume           rawValue `json:"volume"`
		AverageVolume    rawValue `json:"averageVolume"`
		FiftyTwoWeekHigh rawValue `json:"fiftyTwoWeekHigh"`
		FiftyTwoWeekLow  rawValue `json:"fiftyTwoWeekLow"`
		Beta             rawValue `json:"beta"`
		TrailingPE       rawValue `json:"trailingPE"`
		ForwardPE        rawValue `json:"forwardPE"`
		PriceToSales     rawValue `json:"priceToSalesTrailing12Months"`
		DividendYield    rawValue `json:"dividendYield"`
		PayoutRatio      rawValue `json:"payoutRatio"`
	} `json:"summaryDetail"`
	FinancialData struct {
		ProfitMargins      rawValue `json:"profitMargins"`
		OperatingMargins   rawValue `json:"operatingMargins"`
		ReturnOnEquity     rawValue `json:"returnOnEquity"`
		ReturnOnAssets     rawValue `json:"returnOnAssets"`
		RevenueGrowth      rawValue `json:"revenueGrowth"`
		EarningsGrowth     rawValue `json:"earningsGrowth"`
		DebtToEquity       rawValue `json:"debtToEquity"`
		CurrentRatio       rawValue `json:"currentRatio"`
		FreeCashflow       rawValue `json:"freeCashflow"`
		TargetMeanPrice    rawValue `json:"targetMeanPrice"`
		TargetHighPrice    rawValue `json:"targetHighPrice"`
		TargetLowPrice     rawValue `json:"targetLowPrice"`
		RecommendationKey  *string  `json:"recommendationKey"`
		RecommendationMean rawValue `json:"recommendationMean"`
	} `json:"financialData"`
	DefaultKeyStatistics struct {
		PriceToBook        rawValue `json:"priceToBook"`
		FiftyTwoWeekChange rawValue `json:"52WeekChange"`
	} `json:"defaultKeyStatistics"`
}

// rawValue matches Yahoo's {"raw": 1.23, "fmt": "1.23"} value objects.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

func (v rawValue) Int() *int64 {
	if v.Raw == nil {
		return nil
	}
	n := int64(*v.Raw)
	return &n
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var wrapper struct {
		Finance struct {
			Error *apiError `json:"error"`
		} `json:"finance"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && wrapper.Finance.Error != nil {
		if wrapper.Finance.Error.Description != "" {
			return fmt.Errorf("yahoo api error (%d): %s", status, wrapper.Finance.Error.Description)
		}
		if wrapper.Finance.Error.Code != "" {
			return fmt.Errorf("yahoo api error (%d): %s", status, wrapper.Finance.Error.Code)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("yahoo api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("yahoo api error (%d)", status)
}

func sessionOpen(res *chartResult) *float64 {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	for _, open := range res.Indicators.Quote[0].Open {
		if open != nil {
			return open
		}
	}
	return nil
}

func lastClose(res *chartResult) *float64 {
	if len(res.Indicators.Quote) == 0 {
		return nil
	}
	closes := res.Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil {
			return closes[i]
		}
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var _ MarketData = (*Yahoo)(nil)
