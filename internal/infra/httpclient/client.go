// Package httpclient builds the retrying HTTP client used for auxiliary
// services such as price quotes and remote signing.
package httpclient

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type config struct {
	timeout      time.Duration
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	retryMax     int
}

// Option configures the client.
type Option func(*config)

// New returns a retryablehttp.Client. Defaults: 5s timeout, 2 retries waiting 1s to 5s.
func New(opts ...Option) *retryablehttp.Client {
	cfg := config{
		timeout:      5 * time.Second,
		retryWaitMin: 1 * time.Second,
		retryWaitMax: 5 * time.Second,
		retryMax:     2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = cfg.timeout
	client.RetryWaitMin = cfg.retryWaitMin
	client.RetryWaitMax = cfg.retryWaitMax
	client.RetryMax = cfg.retryMax
	return client
}

func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

func WithRetryWait(min, max time.Duration) Option {
	return func(c *config) {
		c.retryWaitMin = min
		c.retryWaitMax = max
	}
}

func WithRetryMax(n int) Option {
	return func(c *config) { c.retryMax = n }
}
