package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultPrice is the documented fallback used by the signal path whenever
// the upstream value is missing or the request fails. The fallback change is
// always zero.
const DefaultPrice = 100000.0

// providerIDs maps UI symbol keys to provider-specific identifiers.
var providerIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XMR": "monero",
}

// Quote is a single price point with its 24h change in percent.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
}

// Client fetches spot quotes from a price provider. The provider origin is
// an explicit configuration value, never ambient process state.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// providerFields is the inner object of the nested provider shape:
// {"bitcoin": {"usd": 97123.5, "usd_24h_change": -1.2}}.
// Fields are pointers so absence is distinguishable from zero.
type providerFields struct {
	USD       *float64 `json:"usd"`
	Change24h *float64 `json:"usd_24h_change"`
}

// Raw fetches a quote and surfaces every failure: unknown symbol, transport,
// status, decode, and missing price are all explicit errors. This is the
// strict accessor; use Signal for the defaulting path.
func (c *Client) Raw(ctx context.Context, symbol string) (Quote, error) {
	id, ok := providerIDs[strings.ToUpper(symbol)]
	if !ok {
		return Quote{}, fmt.Errorf("unknown symbol %q", symbol)
	}

	reqURL := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true",
		c.baseURL, url.QueryEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("building quote request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("quote provider returned status %d for %s", resp.StatusCode, symbol)
	}

	var body map[string]providerFields
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decoding quote response for %s: %w", symbol, err)
	}

	fields, ok := body[id]
	if !ok || fields.USD == nil {
		return Quote{}, fmt.Errorf("quote response missing price for %s", symbol)
	}

	q := Quote{Symbol: strings.ToUpper(symbol), Price: *fields.USD}
	if fields.Change24h != nil {
		q.Change24h = *fields.Change24h
	}
	return q, nil
}

// Signal is the defaulting accessor used by the UI signal path: any failure
// (transport, decode, missing field, unknown symbol) is absorbed into
// DefaultPrice and zero change, never an error.
func (c *Client) Signal(ctx context.Context, symbol string) (price, change float64) {
	q, err := c.Raw(ctx, symbol)
	if err != nil {
		return DefaultPrice, 0
	}
	return q.Price, q.Change24h
}
