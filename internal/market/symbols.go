package market

import "strings"

// binanceSymbols maps currency names, tickers and <base>-<quote> keys to Binance instruments
var binanceSymbols = map[string]string{
	"ethereum":      "ETHUSDT",
	"eth":           "ETHUSDT",
	"ethereum-usdc": "ETHUSDC",
	"eth-usdc":      "ETHUSDC",

	"bitcoin":      "BTCUSDT",
	"btc":          "BTCUSDT",
	"bitcoin-usdc": "BTCUSDC",
	"btc-usdc":     "BTCUSDC",

	"solana":      "SOLUSDT",
	"sol":         "SOLUSDT",
	"solana-usdc": "SOLUSDC",
	"sol-usdc":    "SOLUSDC",

	"cardano":       "ADAUSDT",
	"ada":           "ADAUSDT",
	"polygon":       "MATICUSDT",
	"matic":         "MATICUSDT",
	"avalanche":     "AVAXUSDT",
	"avax":          "AVAXUSDT",
	"chainlink":     "LINKUSDT",
	"link":          "LINKUSDT",
	"uniswap":       "UNIUSDT",
	"uni":           "UNIUSDT",
	"binance-coin":  "BNBUSDT",
	"bnb":           "BNBUSDT",
	"ripple":        "XRPUSDT",
	"xrp":           "XRPUSDT",
	"litecoin":      "LTCUSDT",
	"ltc":           "LTCUSDT",
	"polkadot":      "DOTUSDT",
	"dot":           "DOTUSDT",
	"cosmos":        "ATOMUSDT",
	"atom":          "ATOMUSDT",
	"tezos":         "XTZUSDT",
	"xtz":           "XTZUSDT",
	"algorand":      "ALGOUSDT",
	"algo":          "ALGOUSDT",
	"near":          "NEARUSDT",
	"near-protocol": "NEARUSDT",
	"filecoin":      "FILUSDT",
	"fil":           "FILUSDT",
	"the-graph":     "GRTUSDT",
	"grt":           "GRTUSDT",
	"livepeer":      "LPTUSDT",
	"lpt":           "LPTUSDT",
	"audius":        "AUDIOUSDT",
	"audio":         "AUDIOUSDT",
	"helium":        "HNTUSDT",
	"hnt":           "HNTUSDT",
	"iotex":         "IOTXUSDT",
	"iotx":          "IOTXUSDT",
	"kusama":        "KSMUSDT",
	"ksm":           "KSMUSDT",
	"monero":        "XMRUSDT",
	"xmr":           "XMRUSDT",
	"bitcoin-cash":  "BCHUSDT",
	"bch":           "BCHUSDT",
	"stellar":       "XLMUSDT",
	"xlm":           "XLMUSDT",
	"tron":          "TRXUSDT",
	"trx":           "TRXUSDT",
	"eos":           "EOSUSDT",
	"binance-usd":   "BUSDUSDT",
	"busd":          "BUSDUSDT",
	"dai":           "DAIUSDT",
	"usd-coin":      "USDCUSDT",
	"usdc":          "USDCUSDT",
	"tether":        "USDTUSDT",
	"usdt":          "USDTUSDT",
}

// ResolveSymbol maps a currency pair to a Binance instrument. A <base>-<quote>
// entry wins over a base entry; unknown pairs are concatenated as BASEQUOTE.
// Base entries ignore the quote currency.
func ResolveSymbol(base, quote string) string {
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)

	if symbol, ok := binanceSymbols[strings.ToLower(base+"-"+quote)]; ok {
		return symbol
	}
	if symbol, ok := binanceSymbols[strings.ToLower(base)]; ok {
		return symbol
	}
	return strings.ToUpper(base) + strings.ToUpper(quote)
}

// SplitPair splits an order pair such as "ETH/USDT" or "eth-usdt" into base and quote
func SplitPair(pair string) (string, string, bool) {
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(pair, sep); ok && base != "" && quote != "" {
			return base, quote, true
		}
	}
	return "", "", false
}
