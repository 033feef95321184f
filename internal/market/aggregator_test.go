package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/unifi/internal/models"
)

const (
	weth  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	usdc  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	alice = "0x1111111111111111111111111111111111111111"
)

func TestAggregator_TokensWithoutKey(t *testing.T) {
	agg := NewAggregator("http://127.0.0.1:1", "", 0, time.Second)
	tokens, err := agg.Tokens(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CommonTokens, tokens)
}

func TestAggregator_Tokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v5.2/1/tokens", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"tokens":{
			"` + usdc + `":{"symbol":"USDC","name":"USD Coin","address":"` + usdc + `","decimals":6},
			"` + weth + `":{"symbol":"WETH","name":"Wrapped Ether","address":"` + weth + `","decimals":18}
		}}`))
	}))
	defer srv.Close()

	tokens, err := NewAggregator(srv.URL, "secret", 1, time.Second).Tokens(context.Background())
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "USDC", tokens[0].Symbol)
	assert.Equal(t, 18, tokens[1].Decimals)
}

func TestAggregator_TokensFallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"ServerError", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"Malformed", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
		{"Empty", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"tokens":{}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tokens, err := NewAggregator(srv.URL, "secret", 1, time.Second).Tokens(context.Background())
			require.NoError(t, err)
			assert.Equal(t, CommonTokens, tokens)
		})
	}
}

func TestAggregator_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v5.2/137/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, weth, q.Get("src"))
		assert.Equal(t, usdc, q.Get("dst"))
		assert.Equal(t, "1000000000000000000", q.Get("amount"))
		assert.Equal(t, "true", q.Get("includeGas"))
		w.Write([]byte(`{"dstAmount":"3012550000","gas":180000}`))
	}))
	defer srv.Close()

	agg := NewAggregator(srv.URL, "secret", 137, time.Second)
	body, err := agg.Quote(context.Background(), QuoteRequest{Src: weth, Dst: usdc, Amount: "1000000000000000000"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dstAmount":"3012550000","gas":180000}`, string(body))
}

func TestAggregator_Swap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v5.2/1/swap", r.URL.Path)
		assert.Equal(t, alice, r.URL.Query().Get("from"))
		assert.Equal(t, "1", r.URL.Query().Get("slippage"))
		w.Write([]byte(`{"tx":{"to":"0x1111111254eeb25477b68fb85ed929f73a960582","data":"0x12aa3caf","value":"0"}}`))
	}))
	defer srv.Close()

	agg := NewAggregator(srv.URL, "secret", 1, time.Second)
	body, err := agg.Swap(context.Background(), SwapRequest{
		QuoteRequest: QuoteRequest{Src: weth, Dst: usdc, Amount: "5"},
		From:         alice,
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Contains(t, payload, "tx")
}

func TestAggregator_UpstreamErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":400,"error":"Bad Request","description":"insufficient liquidity"}`))
	}))
	defer srv.Close()

	_, err := NewAggregator(srv.URL, "secret", 1, time.Second).
		Quote(context.Background(), QuoteRequest{Src: weth, Dst: usdc, Amount: "1"})
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "insufficient liquidity", upstream.Message)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}

func TestAggregator_NoKey(t *testing.T) {
	agg := NewAggregator("", "", 0, 0)
	assert.Equal(t, DefaultAggregatorURL, agg.BaseURL)
	assert.Equal(t, DefaultChainID, agg.ChainID)

	_, err := agg.Quote(context.Background(), QuoteRequest{Src: weth, Dst: usdc, Amount: "1"})
	assert.ErrorIs(t, err, ErrNoAPIKey)
	_, err = agg.Swap(context.Background(), SwapRequest{QuoteRequest: QuoteRequest{Src: weth, Dst: usdc, Amount: "1"}, From: alice})
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestSwapRequest_Validate(t *testing.T) {
	valid := func() SwapRequest {
		return SwapRequest{QuoteRequest: QuoteRequest{Src: weth, Dst: usdc, Amount: "100"}, From: alice}
	}
	tests := []struct {
		name  string
		edit  func(r *SwapRequest)
		field string
	}{
		{"BadSrc", func(r *SwapRequest) { r.Src = "eth" }, "src"},
		{"BadDst", func(r *SwapRequest) { r.Dst = "0x123" }, "dst"},
		{"DecimalAmount", func(r *SwapRequest) { r.Amount = "1.5" }, "amount"},
		{"ZeroAmount", func(r *SwapRequest) { r.Amount = "000" }, "amount"},
		{"BadFrom", func(r *SwapRequest) { r.From = "" }, "from"},
		{"NegativeSlippage", func(r *SwapRequest) { r.Slippage = decimal.NewFromInt(-1) }, "slippage"},
		{"HighSlippage", func(r *SwapRequest) { r.Slippage = decimal.NewFromInt(51) }, "slippage"},
		{"Valid", func(r *SwapRequest) {}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.edit(&req)
			err := req.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				assert.True(t, req.Slippage.Equal(decimal.NewFromInt(DefaultSlippage)))
				return
			}
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
