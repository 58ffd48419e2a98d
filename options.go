package soilfetch

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"soilfetch/internal/coverage"
	"soilfetch/internal/writer"
)

// DestinationOptions control how the output raster is encoded. See the
// field docs on writer.Options.
type DestinationOptions = writer.Options

// RetryPolicy bounds the per-tile retry loop.
type RetryPolicy = coverage.RetryPolicy

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different coverage service
// endpoint, e.g. a local mirror.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a structured logger. The default discards logs.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithWorkers bounds concurrent tile fetches. The default is 4.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRetryPolicy overrides the per-tile retry behaviour.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithTimeout bounds each tile request. Shorthand for an HTTP client
// with that timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}
