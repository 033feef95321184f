package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/models"
)

const (
	// DefaultTimeout bounds every upstream call
	DefaultTimeout   = 10 * time.Second
	fallbackInterval = "1h"
	maxSubHourLimit  = 1000
	maxLimit         = 500
)

// ErrInsufficientData is returned when fewer than two usable candles come back
var ErrInsufficientData = errors.New("insufficient data points")

// Kline is the part of an upstream candle the chart uses
type Kline struct {
	OpenTime int64
	Close    string
}

// CandleSource fetches raw candles for an instrument
type CandleSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// StatusError is an upstream HTTP failure
type StatusError struct {
	Status  int
	Code    int64
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d (code %d): %s", e.Status, e.Code, e.Message)
}

// UpstreamError is a price or quote service failure with a message fit for end users
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Message }

func (e *UpstreamError) Unwrap() error { return e.Err }

// CandleQuery selects a candle series
type CandleQuery struct {
	Base     string
	Quote    string
	Days     int
	Interval string
}

// Point is one chart point: the candle open time in milliseconds and its close price
type Point struct {
	Timestamp int64           `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// CandleSeries is a chronologically sorted price series
type CandleSeries struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Limit    int     `json:"limit"`
	Points   []Point `json:"points"`
}

// perDay is the number of candles per day for every supported interval below one hour
var perDay = map[string]int{
	"1s": 86400, "3s": 28800, "5s": 17280, "10s": 8640, "15s": 5760, "30s": 2880,
	"1m": 1440, "3m": 480, "5m": 288, "15m": 96, "30m": 48,
}

// hourly intervals: candles per day (or days per candle when negative) and minimum count
var hourly = map[string]struct{ factor, min int }{
	"1h": {24, 24}, "2h": {12, 12}, "4h": {6, 6}, "6h": {4, 4}, "8h": {3, 3}, "12h": {2, 2},
	"1d": {1, 7}, "3d": {-3, 7}, "1w": {-7, 7}, "1M": {-30, 7},
}

// ValidInterval reports whether interval is a supported Binance kline interval
func ValidInterval(interval string) bool {
	if _, ok := perDay[interval]; ok {
		return true
	}
	_, ok := hourly[interval]
	return ok
}

// DefaultInterval picks the candle width for a time window
func DefaultInterval(days int) string {
	switch {
	case days == 1:
		return "1h"
	case days <= 7:
		return "4h"
	default:
		return "1d"
	}
}

// CandleCount is the number of candles requested for days at interval, capped
// at 1000 below one hour and 500 otherwise.
func CandleCount(days int, interval string) int {
	if n, ok := perDay[interval]; ok {
		return min(days*n, maxSubHourLimit)
	}
	h, ok := hourly[interval]
	if !ok {
		return min(max(days*24, 24), maxLimit)
	}
	var n int
	if h.factor > 0 {
		n = days * h.factor
	} else {
		d := -h.factor
		n = (days + d - 1) / d
	}
	return min(max(n, h.min), maxLimit)
}

func fallbackLimit(days int) int {
	return min(max(days*24, 24), maxLimit)
}

// Candles serves chart series from a CandleSource
type Candles struct {
	Source  CandleSource
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewCandles creates a candle service with the default timeout
func NewCandles(source CandleSource) *Candles {
	return &Candles{Source: source, Timeout: DefaultTimeout, Logger: slog.Default()}
}

// Normalize fills in defaults and validates a query
func (q *CandleQuery) Normalize() error {
	q.Base = strings.TrimSpace(q.Base)
	q.Quote = strings.TrimSpace(q.Quote)
	if q.Base == "" {
		return models.Invalid("base", "is required")
	}
	if q.Quote == "" {
		q.Quote = "USDT"
	}
	if q.Days <= 0 {
		q.Days = 1
	}
	if q.Interval == "" {
		q.Interval = DefaultInterval(q.Days)
	} else if !ValidInterval(q.Interval) {
		return models.Invalid("interval", "unsupported interval "+q.Interval)
	}
	return nil
}

// Candles fetches the series for q. When the requested interval fails it
// retries once with hourly candles before reporting an UpstreamError.
func (c *Candles) Candles(ctx context.Context, q CandleQuery) (*CandleSeries, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	series := &CandleSeries{
		Symbol:   ResolveSymbol(q.Base, q.Quote),
		Interval: q.Interval,
		Limit:    CandleCount(q.Days, q.Interval),
	}

	klines, err := c.fetch(ctx, series.Symbol, series.Interval, series.Limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.Logger.WarnContext(ctx, "candle request failed, retrying with fallback interval",
			"symbol", series.Symbol, "interval", series.Interval, "error", err)

		series.Interval = fallbackInterval
		series.Limit = fallbackLimit(q.Days)
		klines, err = c.fetch(ctx, series.Symbol, series.Interval, series.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classify(err, displayPair(q.Base, q.Quote))
		}
	}

	series.Points = toPoints(klines)
	if len(series.Points) < 2 {
		return nil, fmt.Errorf("%w: got %d, need at least 2 (requested %d candles for %s interval)",
			ErrInsufficientData, len(series.Points), series.Limit, series.Interval)
	}
	return series, nil
}

// LatestPrice returns the close of the most recent one minute candle of an order pair
func (c *Candles) LatestPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	base, quote, ok := SplitPair(pair)
	if !ok {
		return decimal.Zero, fmt.Errorf("malformed pair %q", pair)
	}
	klines, err := c.fetch(ctx, ResolveSymbol(base, quote), "1m", 1)
	if err != nil {
		return decimal.Zero, classify(err, displayPair(base, quote))
	}
	points := toPoints(klines)
	if len(points) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", ErrInsufficientData, pair)
	}
	return points[len(points)-1].Price, nil
}

func (c *Candles) fetch(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	klines, err := c.Source.Klines(ctx, symbol, interval, limit)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordUpstream("binance", outcome, time.Since(start))
	return klines, err
}

// toPoints drops candles with a non-positive time or price and sorts by time
func toPoints(klines []Kline) []Point {
	points := make([]Point, 0, len(klines))
	for _, k := range klines {
		price, err := decimal.NewFromString(k.Close)
		if err != nil || !price.IsPositive() || k.OpenTime <= 0 {
			continue
		}
		points = append(points, Point{Timestamp: k.OpenTime, Price: price})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	return points
}

func displayPair(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}

// classify turns a transport or HTTP failure into the message shown to users
func classify(err error, pair string) *UpstreamError {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case 400:
			return &UpstreamError{Message: fmt.Sprintf("Trading pair %s not found on Binance.", pair), Err: err}
		case 429:
			return &UpstreamError{Message: "Rate limit exceeded. Please try again in a few minutes.", Err: err}
		case 418:
			return &UpstreamError{Message: "IP banned. Please try again later.", Err: err}
		default:
			return &UpstreamError{Message: fmt.Sprintf("Server error (%d). Please try again.", statusErr.Status), Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &UpstreamError{Message: "Request timeout. Please try again.", Err: err}
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		if netErr != nil && netErr.Timeout() {
			return &UpstreamError{Message: "Request timeout. Please try again.", Err: err}
		}
		return &UpstreamError{Message: "Network error. Please check your connection.", Err: err}
	}
	return &UpstreamError{Message: fmt.Sprintf("Failed to load %s price data", pair), Err: err}
}
