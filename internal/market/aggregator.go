package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/unifi/internal/metrics"
	"github.com/xtrntr/unifi/internal/models"
)

const (
	DefaultAggregatorURL = "https://api.1inch.dev"
	DefaultChainID       = 1
	DefaultSlippage      = 1
	maxSlippage          = 50
	maxUpstreamBody      = 4 << 20
)

// ErrNoAPIKey is returned for quote and swap calls when no aggregator key is configured
var ErrNoAPIKey = errors.New("swap aggregator API key not configured")

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	amountPattern  = regexp.MustCompile(`^[0-9]+$`)
)

// Token is a swappable ERC-20 token
type Token struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
	LogoURI  string `json:"logoURI"`
}

// CommonTokens is served when the aggregator token list is unavailable
var CommonTokens = []Token{
	{Symbol: "ETH", Name: "Ethereum", Address: "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", Decimals: 18,
		LogoURI: "https://assets.coingecko.com/coins/images/279/small/ethereum.png"},
	{Symbol: "USDC", Name: "USD Coin", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6,
		LogoURI: "https://assets.coingecko.com/coins/images/6319/small/USD_Coin_icon.png"},
	{Symbol: "USDT", Name: "Tether USD", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6,
		LogoURI: "https://assets.coingecko.com/coins/images/325/small/Tether.png"},
	{Symbol: "DAI", Name: "Dai Stablecoin", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18,
		LogoURI: "https://assets.coingecko.com/coins/images/9956/small/4943.png"},
	{Symbol: "WETH", Name: "Wrapped Ether", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Decimals: 18,
		LogoURI: "https://assets.coingecko.com/coins/images/2518/small/weth.png"},
}

// QuoteRequest asks for the output of swapping Amount (in the smallest unit) of Src into Dst
type QuoteRequest struct {
	Src    string
	Dst    string
	Amount string
}

// SwapRequest asks for a ready-to-sign swap transaction
type SwapRequest struct {
	QuoteRequest
	From     string
	Slippage decimal.Decimal
}

// Validate checks token addresses and the amount
func (r *QuoteRequest) Validate() error {
	if !addressPattern.MatchString(r.Src) {
		return models.Invalid("src", "must be a token address")
	}
	if !addressPattern.MatchString(r.Dst) {
		return models.Invalid("dst", "must be a token address")
	}
	if !amountPattern.MatchString(r.Amount) || strings.Trim(r.Amount, "0") == "" {
		return models.Invalid("amount", "must be a positive integer amount in the token's smallest unit")
	}
	return nil
}

// Validate checks the quote fields, the sender and the slippage percentage
func (r *SwapRequest) Validate() error {
	if err := r.QuoteRequest.Validate(); err != nil {
		return err
	}
	if !addressPattern.MatchString(r.From) {
		return models.Invalid("from", "must be a wallet address")
	}
	if r.Slippage.IsZero() {
		r.Slippage = decimal.NewFromInt(DefaultSlippage)
	}
	if r.Slippage.IsNegative() || r.Slippage.GreaterThan(decimal.NewFromInt(maxSlippage)) {
		return models.Invalid("slippage", "must be between 0 and 50")
	}
	return nil
}

// Aggregator proxies the 1inch swap API. Responses are passed through unchanged.
type Aggregator struct {
	BaseURL string
	APIKey  string
	ChainID int
	Client  *http.Client
	Logger  *slog.Logger
}

// NewAggregator creates a 1inch client with a bounded timeout
func NewAggregator(baseURL, apiKey string, chainID int, timeout time.Duration) *Aggregator {
	if baseURL == "" {
		baseURL = DefaultAggregatorURL
	}
	if chainID <= 0 {
		chainID = DefaultChainID
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Aggregator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		ChainID: chainID,
		Client:  &http.Client{Timeout: timeout},
		Logger:  slog.Default(),
	}
}

// Tokens lists swappable tokens, falling back to CommonTokens when no key is
// configured or the upstream call fails
func (a *Aggregator) Tokens(ctx context.Context) ([]Token, error) {
	if a.APIKey == "" {
		return CommonTokens, nil
	}

	body, err := a.get(ctx, "tokens", nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.Logger.WarnContext(ctx, "token list unavailable, serving common tokens", "error", err)
		return CommonTokens, nil
	}

	var payload struct {
		Tokens map[string]Token `json:"tokens"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Tokens) == 0 {
		a.Logger.WarnContext(ctx, "malformed token list, serving common tokens", "error", err)
		return CommonTokens, nil
	}

	tokens := make([]Token, 0, len(payload.Tokens))
	for _, t := range payload.Tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
	return tokens, nil
}

// Quote returns the upstream quote body verbatim
func (a *Aggregator) Quote(ctx context.Context, req QuoteRequest) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if a.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	params := url.Values{
		"src":               {req.Src},
		"dst":               {req.Dst},
		"amount":            {req.Amount},
		"includeTokensInfo": {"true"},
		"includeGas":        {"true"},
	}
	return a.get(ctx, "quote", params)
}

// Swap returns the upstream swap transaction body verbatim
func (a *Aggregator) Swap(ctx context.Context, req SwapRequest) (json.RawMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if a.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	params := url.Values{
		"src":               {req.Src},
		"dst":               {req.Dst},
		"amount":            {req.Amount},
		"from":              {req.From},
		"slippage":          {req.Slippage.String()},
		"includeTokensInfo": {"true"},
		"includeGas":        {"true"},
	}
	return a.get(ctx, "swap", params)
}

func (a *Aggregator) get(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/swap/v5.2/%s/%s", a.BaseURL, strconv.Itoa(a.ChainID), method)
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := a.Client.Do(req)
	if err != nil {
		metrics.RecordUpstream("1inch", "error", time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classify(err, method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		metrics.RecordUpstream("1inch", "error", time.Since(start))
		return nil, &UpstreamError{Message: "Network error. Please check your connection.", Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.RecordUpstream("1inch", "error", time.Since(start))
		return nil, &UpstreamError{
			Message: upstreamMessage(resp.StatusCode, body),
			Err:     &StatusError{Status: resp.StatusCode, Message: string(body)},
		}
	}
	metrics.RecordUpstream("1inch", "ok", time.Since(start))
	return json.RawMessage(body), nil
}

// upstreamMessage extracts the aggregator's own error description
func upstreamMessage(status int, body []byte) string {
	var payload struct {
		Description string `json:"description"`
		Error       string `json:"error"`
		Message     string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, msg := range []string{payload.Description, payload.Error, payload.Message} {
			if msg != "" {
				return msg
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 200 {
		return text
	}
	return fmt.Sprintf("Server error (%d). Please try again.", status)
}
