// Package coingecko values crypto holdings in euros using the free CoinGecko
// simple price API. No API key is required; responses are cached on disk with
// a daily key so repeated runs within a day never hit the network twice.
package coingecko

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/patrimoine"
)

const baseURL = "https://api.coingecko.com/api/v3"

// coinIDs maps the usual tickers to CoinGecko coin identifiers. Extend as
// holdings appear; an unmapped ticker makes ConvertToEUR fail, which the
// pipeline handles with the declared fallback value.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"LTC":   "litecoin",
	"LINK":  "chainlink",
	"AVAX":  "avalanche-2",
	"UNI":   "uniswap",
	"ATOM":  "cosmos",
	"VRO":   "veraone",
}

// Client fetches euro prices from CoinGecko. The zero value is not usable;
// call New.
type Client struct {
	http *http.Client
	base string
	memo map[string]patrimoine.Money // one price lookup per ticker per run
}

func New() *Client {
	return &Client{http: daily(), base: baseURL, memo: make(map[string]patrimoine.Money)}
}

// ConvertToEUR values a coin quantity in euros at the current price.
func (c *Client) ConvertToEUR(ticker string, qty patrimoine.Quantity) (patrimoine.Money, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "EUR" {
		// Euro balances held on the platform need no conversion.
		return patrimoine.EUR(1).Mul(qty), nil
	}

	price, err := c.priceEUR(ticker)
	if err != nil {
		return patrimoine.Money{}, err
	}
	return price.Mul(qty), nil
}

func (c *Client) priceEUR(ticker string) (patrimoine.Money, error) {
	if price, ok := c.memo[ticker]; ok {
		return price, nil
	}
	id, ok := coinIDs[ticker]
	if !ok {
		return patrimoine.Money{}, fmt.Errorf("unknown crypto ticker %q", ticker)
	}

	addr := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=eur", c.base, id)
	var jobj any
	if err := jwget(c.http, addr, &jobj); err != nil {
		return patrimoine.Money{}, fmt.Errorf("cannot fetch %s price: %w", ticker, err)
	}

	path := fmt.Sprintf("$.%s.eur", id)
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return patrimoine.Money{}, fmt.Errorf("no eur price for %s in response: %w", ticker, err)
	}
	// jsonpath sometimes wraps a single answer in a list.
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}
	val, ok := jval.(float64)
	if !ok {
		return patrimoine.Money{}, fmt.Errorf("eur price for %s is not a number: %v", ticker, jval)
	}

	price := patrimoine.EUR(val)
	c.memo[ticker] = price
	return price, nil
}

// requestTimeout bounds one price lookup; the pipeline must not hang on a
// slow external API.
const requestTimeout = 10 * time.Second
