package market

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/unifi/internal/models"
)

type call struct {
	symbol   string
	interval string
	limit    int
}

// fakeSource answers from a per-interval table and records every call
type fakeSource struct {
	klines map[string][]Kline
	errs   map[string]error
	calls  []call
}

func (f *fakeSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	f.calls = append(f.calls, call{symbol, interval, limit})
	if err := f.errs[interval]; err != nil {
		return nil, err
	}
	return f.klines[interval], nil
}

func TestResolveSymbol(t *testing.T) {
	tests := []struct {
		base, quote string
		want        string
	}{
		{"eth", "usdt", "ETHUSDT"},
		{"ETH", "USDC", "ETHUSDC"},
		{"ethereum", "usdc", "ETHUSDC"},
		{"bitcoin", "usdt", "BTCUSDT"},
		{"sol", "usdc", "SOLUSDC"},
		{"near-protocol", "usdt", "NEARUSDT"},
		{"eth", "btc", "ETHUSDT"},
		{"pepe", "usdt", "PEPEUSDT"},
		{"arb", "eth", "ARBETH"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"-"+tt.quote, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveSymbol(tt.base, tt.quote))
		})
	}
}

func TestSplitPair(t *testing.T) {
	base, quote, ok := SplitPair("ETH/USDT")
	assert.True(t, ok)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "USDT", quote)

	base, quote, ok = SplitPair("btc-usdc")
	assert.True(t, ok)
	assert.Equal(t, "btc", base)
	assert.Equal(t, "usdc", quote)

	_, _, ok = SplitPair("ETHUSDT")
	assert.False(t, ok)
	_, _, ok = SplitPair("/USDT")
	assert.False(t, ok)
}

func TestDefaultInterval(t *testing.T) {
	assert.Equal(t, "1h", DefaultInterval(1))
	assert.Equal(t, "4h", DefaultInterval(2))
	assert.Equal(t, "4h", DefaultInterval(7))
	assert.Equal(t, "1d", DefaultInterval(8))
	assert.Equal(t, "1d", DefaultInterval(365))
}

func TestCandleCount(t *testing.T) {
	tests := []struct {
		days     int
		interval string
		want     int
	}{
		{1, "1s", 1000},
		{1, "30m", 48},
		{30, "30m", 1000},
		{1, "1m", 1000},
		{1, "15m", 96},
		{1, "1h", 24},
		{7, "1h", 168},
		{30, "1h", 500},
		{1, "2h", 12},
		{1, "4h", 6},
		{7, "4h", 42},
		{1, "6h", 4},
		{1, "8h", 3},
		{1, "12h", 2},
		{1, "1d", 7},
		{30, "1d", 30},
		{1000, "1d", 500},
		{30, "3d", 10},
		{7, "3d", 7},
		{365, "1w", 53},
		{365, "1M", 13},
		{3650, "1M", 122},
		{2, "unknown", 48},
	}
	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			assert.Equal(t, tt.want, CandleCount(tt.days, tt.interval), "days=%d", tt.days)
		})
	}
}

func TestParseCandleQuery(t *testing.T) {
	q, err := ParseCandleQuery(url.Values{"base": {"eth"}})
	require.NoError(t, err)
	assert.Equal(t, CandleQuery{Base: "eth", Quote: "USDT", Days: 1, Interval: "1h"}, q)

	q, err = ParseCandleQuery(url.Values{"base": {"btc"}, "quote": {"usdc"}, "days": {"30"}})
	require.NoError(t, err)
	assert.Equal(t, "1d", q.Interval)

	var verr *models.ValidationError
	_, err = ParseCandleQuery(url.Values{})
	assert.ErrorAs(t, err, &verr)
	_, err = ParseCandleQuery(url.Values{"base": {"eth"}, "days": {"abc"}})
	assert.ErrorAs(t, err, &verr)
	_, err = ParseCandleQuery(url.Values{"base": {"eth"}, "interval": {"7h"}})
	assert.ErrorAs(t, err, &verr)
}

func TestCandles_SortsAndFilters(t *testing.T) {
	src := &fakeSource{klines: map[string][]Kline{
		"4h": {
			{OpenTime: 3000, Close: "103.5"},
			{OpenTime: 1000, Close: "101"},
			{OpenTime: 0, Close: "99"},
			{OpenTime: 2000, Close: "0"},
			{OpenTime: 2500, Close: "garbage"},
			{OpenTime: 2000, Close: "102"},
		},
	}}
	svc := NewCandles(src)

	series, err := svc.Candles(context.Background(), CandleQuery{Base: "eth", Quote: "usdt", Days: 7})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", series.Symbol)
	assert.Equal(t, "4h", series.Interval)
	assert.Equal(t, 42, series.Limit)
	require.Len(t, series.Points, 3)
	assert.Equal(t, int64(1000), series.Points[0].Timestamp)
	assert.Equal(t, int64(3000), series.Points[2].Timestamp)
	assert.True(t, series.Points[2].Price.Equal(decimal.RequireFromString("103.5")))
	assert.Equal(t, []call{{"ETHUSDT", "4h", 42}}, src.calls)
}

func TestCandles_FallsBackToHourly(t *testing.T) {
	src := &fakeSource{
		errs:   map[string]error{"1w": &StatusError{Status: 400}},
		klines: map[string][]Kline{"1h": {{OpenTime: 1, Close: "1"}, {OpenTime: 2, Close: "2"}}},
	}
	svc := NewCandles(src)

	series, err := svc.Candles(context.Background(), CandleQuery{Base: "btc", Quote: "usdt", Days: 30, Interval: "1w"})
	require.NoError(t, err)
	assert.Equal(t, "1h", series.Interval)
	assert.Equal(t, []call{{"BTCUSDT", "1w", 7}, {"BTCUSDT", "1h", 500}}, src.calls)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestCandles_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"NotFound", &StatusError{Status: 400, Code: -1121}, "Trading pair FOO/BAR not found on Binance."},
		{"RateLimited", &StatusError{Status: 429}, "Rate limit exceeded. Please try again in a few minutes."},
		{"Banned", &StatusError{Status: 418}, "IP banned. Please try again later."},
		{"ServerError", &StatusError{Status: 503}, "Server error (503). Please try again."},
		{"Timeout", context.DeadlineExceeded, "Request timeout. Please try again."},
		{"NetTimeout", &url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}, "Request timeout. Please try again."},
		{"Network", &url.Error{Op: "Get", URL: "x", Err: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}, "Network error. Please check your connection."},
		{"Other", errors.New("weird"), "Failed to load FOO/BAR price data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{errs: map[string]error{"1h": tt.err, "4h": tt.err}}
			svc := NewCandles(src)

			_, err := svc.Candles(context.Background(), CandleQuery{Base: "foo", Quote: "bar", Days: 3})
			var upstream *UpstreamError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tt.want, upstream.Message)
			assert.Len(t, src.calls, 2, "exactly one retry")
		})
	}
}

func TestCandles_InsufficientData(t *testing.T) {
	src := &fakeSource{klines: map[string][]Kline{"1h": {{OpenTime: 1, Close: "5"}}}}
	_, err := NewCandles(src).Candles(context.Background(), CandleQuery{Base: "eth", Quote: "usdt", Days: 1})
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Len(t, src.calls, 1, "a short series is not retried")
}

type slowSource struct{}

func (slowSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCandles_Timeout(t *testing.T) {
	svc := NewCandles(slowSource{})
	svc.Timeout = 10 * time.Millisecond

	_, err := svc.Candles(context.Background(), CandleQuery{Base: "eth", Quote: "usdt", Days: 1})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "Request timeout. Please try again.", upstream.Message)
}

func TestCandles_CancelledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCandles(slowSource{}).Candles(ctx, CandleQuery{Base: "eth", Quote: "usdt", Days: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCandles_LatestPrice(t *testing.T) {
	src := &fakeSource{klines: map[string][]Kline{"1m": {{OpenTime: 10, Close: "3012.55"}}}}
	svc := NewCandles(src)

	price, err := svc.LatestPrice(context.Background(), "ETH/USDT")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("3012.55")))
	assert.Equal(t, []call{{"ETHUSDT", "1m", 1}}, src.calls)

	_, err = svc.LatestPrice(context.Background(), "ETHUSDT")
	assert.Error(t, err)

	_, err = NewCandles(&fakeSource{}).LatestPrice(context.Background(), "ETH/USDT")
	assert.ErrorIs(t, err, ErrInsufficientData)
}
