package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound indicates the ticker is unknown to the upstream provider.
var ErrNotFound = errors.New("provider: ticker not found")

// PriceSample is one observation of a ticker's current price.
type PriceSample struct {
	Ticker      string
	Price       decimal.Decimal
	Currency    string
	Exchange    string
	Timezone    string
	MarketState string
	OpenPrice   *decimal.Decimal
	AsOf        time.Time
}

// Bar is one OHLCV candle, chronological within a history response.
type Bar struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// StockDetails carries fundamentals for the details endpoint.
type StockDetails struct {
	Ticker       string   `json:"ticker"`
	Name         *string  `json:"name"`
	Currency     string   `json:"currency"`
	CurrentPrice *float64 `json:"current_price"`

	MarketCap          *float64 `json:"market_cap"`
	Volume             *int64   `json:"volume"`
	AvgVolume          *int64   `json:"avg_volume"`
	FiftyTwoWeekHigh   *float64 `json:"fifty_two_week_high"`
	FiftyTwoWeekLow    *float64 `json:"fifty_two_week_low"`
	FiftyTwoWeekChange *float64 `json:"fifty_two_week_change"`
	Beta               *float64 `json:"beta"`

	PERatio      *float64 `json:"pe_ratio"`
	ForwardPE    *float64 `json:"forward_pe"`
	PriceToBook  *float64 `json:"price_to_book"`
	PriceToSales *float64 `json:"price_to_sales"`

	ProfitMargin    *float64 `json:"profit_margin"`
	OperatingMargin *float64 `json:"operating_margin"`
	ROE             *float64 `json:"roe"`
	ROA             *float64 `json:"roa"`

	RevenueGrowth  *float64 `json:"revenue_growth"`
	EarningsGrowth *float64 `json:"earnings_growth"`

	DividendYield *float64 `json:"dividend_yield"`
	PayoutRatio   *float64 `json:"payout_ratio"`

	DebtToEquity *float64 `json:"debt_to_equity"`
	CurrentRatio *float64 `json:"current_ratio"`
	FreeCashflow *float64 `json:"free_cashflow"`

	TargetMeanPrice    *float64 `json:"target_mean_price"`
	TargetHighPrice    *float64 `json:"target_high_price"`
	TargetLowPrice     *float64 `json:"target_low_price"`
	RecommendationKey  *string  `json:"recommendation_key"`
	RecommendationMean *float64 `json:"recommendation_mean"`
}

// MarketData is the gateway contract consumed by the engine and the API.
type MarketData interface {
	GetQuote(ctx context.Context, ticker string) (PriceSample, error)
	GetHistory(ctx context.Context, ticker, period, interval string) ([]Bar, error)
	GetDetails(ctx context.Context, ticker string) (StockDetails, error)
	Validate(ctx context.Context, ticker string) error
}
