package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// DefaultQuoteURL is the CoinGecko-compatible simple price endpoint.
const DefaultQuoteURL = "https://api.coingecko.com/api/v3/simple/price"

// HTTPQuoter queries a CoinGecko-compatible simple price API.
// ids maps asset keys (or symbols) to the API's coin ids.
type HTTPQuoter struct {
	baseURL string
	apiKey  string
	ids     map[string]string
	client  *retryablehttp.Client
}

// NewHTTPQuoter creates a quoter against baseURL.
func NewHTTPQuoter(baseURL, apiKey string, ids map[string]string, client *retryablehttp.Client) *HTTPQuoter {
	if baseURL == "" {
		baseURL = DefaultQuoteURL
	}
	return &HTTPQuoter{baseURL: baseURL, apiKey: apiKey, ids: ids, client: client}
}

func (q *HTTPQuoter) coinID(asset domain.Asset) (string, bool) {
	if id, ok := q.ids[asset.Key()]; ok {
		return id, true
	}
	id, ok := q.ids[asset.Symbol]
	return id, ok
}

func (q *HTTPQuoter) PriceUSD(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	id, ok := q.coinID(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no coin id for %s", ErrUnavailable, asset.Key())
	}

	u := q.baseURL + "?" + url.Values{"ids": {id}, "vs_currencies": {"usd"}}.Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if q.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: price API returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var result map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to decode price response: %w", ErrUnavailable, err)
	}

	raw, ok := result[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no usd price for %s", ErrUnavailable, id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: invalid price %q for %s", ErrUnavailable, raw, id)
	}
	return price, nil
}
