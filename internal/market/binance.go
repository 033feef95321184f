package market

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// BinanceSource reads spot klines from the public Binance REST API
type BinanceSource struct {
	client *binance.Client
}

type statusKey struct{}

// statusTransport records the HTTP status of a response into the request
// context, because the Binance client only surfaces the decoded error body.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

// NewBinanceSource creates a kline source. Klines are public, so no API keys are used.
func NewBinanceSource(baseURL string) *BinanceSource {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client.HTTPClient = &http.Client{Transport: &statusTransport{next: http.DefaultTransport}}
	return &BinanceSource{client: client}
}

// Klines implements CandleSource
func (s *BinanceSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	status := new(int)
	ctx = context.WithValue(ctx, statusKey{}, status)

	raw, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, statusError(err, *status)
	}

	klines := make([]Kline, 0, len(raw))
	for _, k := range raw {
		klines = append(klines, Kline{OpenTime: k.OpenTime, Close: k.Close})
	}
	return klines, nil
}

// statusError attaches the HTTP status to a Binance API error. When the status
// was not observed it is derived from the Binance error code.
func statusError(err error, status int) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		if status >= http.StatusBadRequest {
			return &StatusError{Status: status, Message: err.Error()}
		}
		return err
	}
	if status == 0 {
		status = statusFromCode(apiErr.Code, apiErr.Message)
	}
	return &StatusError{Status: status, Code: apiErr.Code, Message: apiErr.Message}
}

func statusFromCode(code int64, message string) int {
	switch {
	case code == -1003 && strings.Contains(strings.ToLower(message), "banned"):
		return http.StatusTeapot
	case code == -1003:
		return http.StatusTooManyRequests
	case code <= -1100 && code > -1200:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
