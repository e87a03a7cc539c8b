// Package upstream wraps the HTTP client used to fetch resources from
// arbitrary third-party origins on behalf of the proxy.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/canfeed/backend/internal/resilience"
)

// Client wraps resty with a request timeout, rate limiting and a
// circuit breaker. Retries are deliberately disabled: replaying a
// request against an untrusted arbitrary URL is not safe to do
// implicitly.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// New creates an upstream client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	restyClient := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetDoNotParseResponse(false)

	breaker := resilience.New("upstream", resilience.Settings{
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			// Arbitrary targets vary wildly in reliability; trip only on
			// sustained failure so one broken site cannot starve others.
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(rate.Inf, 0),
		breaker: breaker,
	}
}

// SetRateLimit configures outbound requests per second (0 = unlimited).
func (c *Client) SetRateLimit(rps float64) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
}

// Fetch performs a single upstream request. Any HTTP status is
// captured and returned, never surfaced as a transport error; error
// pages must remain rewritable downstream.
func (c *Client) Fetch(ctx context.Context, method, url string, headers map[string]string, body []byte) (*resty.Response, error) {
	if c.breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	req := c.resty.R().SetContext(ctx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}
	if len(body) > 0 && method != http.MethodGet {
		req.SetBody(body)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return req.Execute(method, url)
	})
	if err == resilience.ErrCircuitOpen {
		return nil, fmt.Errorf("upstream unavailable: circuit breaker open")
	}
	if err != nil {
		return nil, err
	}

	return result.(*resty.Response), nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}
