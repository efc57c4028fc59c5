package valuation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/sweepwatch/internal/core/domain"
	"github.com/vietddude/sweepwatch/internal/infra/httpclient"
)

var (
	eth  = domain.Asset{Symbol: "ETH", Decimals: 18}
	usdt = domain.Asset{Symbol: "USDT", Contract: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6}
)

func TestStatic_KeyBeforeSymbol(t *testing.T) {
	q := Static{
		"USDT":      decimal.NewFromInt(2),
		usdt.Key():  decimal.NewFromInt(1),
		"SOMETHING": decimal.NewFromInt(3),
	}
	p, err := q.PriceUSD(context.Background(), usdt)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(1)))

	_, err = q.PriceUSD(context.Background(), domain.Asset{Symbol: "DOGE"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

type failingQuoter struct{ calls atomic.Int32 }

func (f *failingQuoter) PriceUSD(context.Context, domain.Asset) (decimal.Decimal, error) {
	f.calls.Add(1)
	return decimal.Zero, errors.New("boom")
}

func TestChain(t *testing.T) {
	first := &failingQuoter{}
	q := Chain{first, Static{"ETH": decimal.NewFromInt(3000)}}

	p, err := q.PriceUSD(context.Background(), eth)
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(3000)))
	assert.EqualValues(t, 1, first.calls.Load())

	_, err = Chain{first}.PriceUSD(context.Background(), eth)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Chain{}.PriceUSD(context.Background(), eth)
	assert.ErrorIs(t, err, ErrUnavailable)
}

type memCache struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	readErr error
}

func (c *memCache) GetPrice(_ context.Context, asset string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return decimal.Zero, false, c.readErr
	}
	p, ok := c.prices[asset]
	return p, ok, nil
}

func (c *memCache) SetPrice(_ context.Context, asset string, price decimal.Decimal, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = price
	return nil
}

type countingQuoter struct {
	calls atomic.Int32
	price decimal.Decimal
}

func (c *countingQuoter) PriceUSD(context.Context, domain.Asset) (decimal.Decimal, error) {
	c.calls.Add(1)
	return c.price, nil
}

func TestCached(t *testing.T) {
	next := &countingQuoter{price: decimal.NewFromInt(42)}
	cache := &memCache{prices: map[string]decimal.Decimal{}}
	q := NewCached(next, cache, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := q.PriceUSD(context.Background(), eth)
		require.NoError(t, err)
		assert.True(t, p.Equal(decimal.NewFromInt(42)))
	}
	assert.EqualValues(t, 1, next.calls.Load())

	cache.readErr = errors.New("redis down")
	_, err := q.PriceUSD(context.Background(), eth)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestHTTPQuoter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		switch r.URL.Query().Get("ids") {
		case "ethereum":
			_, _ = w.Write([]byte(`{"ethereum":{"usd":2512.123456789}}`))
		case "broken":
			w.WriteHeader(http.StatusBadRequest)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	client := httpclient.New(httpclient.WithRetryMax(0))
	q := NewHTTPQuoter(srv.URL, "", map[string]string{
		"ETH":      "ethereum",
		usdt.Key(): "tether",
		"BAD":      "broken",
	}, client)

	p, err := q.PriceUSD(context.Background(), eth)
	require.NoError(t, err)
	assert.Equal(t, "2512.123456789", p.String())

	_, err = q.PriceUSD(context.Background(), usdt)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = q.PriceUSD(context.Background(), domain.Asset{Symbol: "BAD"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = q.PriceUSD(context.Background(), domain.Asset{Symbol: "NOPE"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
