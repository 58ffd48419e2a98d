package coverage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"soilfetch/internal/errs"
	"soilfetch/pkg/geotiff"
)

// RetryPolicy bounds the retry loop around one tile fetch.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first; <=0 means DefaultRetryPolicy's value
	BaseDelay   time.Duration // initial backoff interval
	MaxDelay    time.Duration // backoff ceiling
}

// DefaultRetryPolicy matches the behaviour services generally tolerate:
// a handful of attempts with short exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

// Client fetches coverage subsets over HTTP.
type Client struct {
	base   string
	http   *http.Client
	retry  RetryPolicy
	logger *zap.Logger
}

// NewClient builds a client for a service base URL. A nil httpClient or
// logger falls back to sensible defaults.
func NewClient(base string, httpClient *http.Client, retry RetryPolicy, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, http: httpClient, retry: retry.withDefaults(), logger: logger}
}

// Fetch retrieves one subset and decodes it, retrying transient
// failures per the client's policy. Malformed responses are not retried:
// a server that returns garbage once will return it again.
func (c *Client) Fetch(ctx context.Context, req Request) (*geotiff.Image, error) {
	u := req.URL(c.base)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.BaseDelay
	bo.MaxInterval = c.retry.MaxDelay
	bo.MaxElapsedTime = 0

	var img *geotiff.Image
	attempt := 0
	op := func() error {
		attempt++
		var err error
		img, err = c.fetchOnce(ctx, u, req)
		if err != nil {
			c.logger.Debug("coverage fetch attempt failed",
				zap.String("coverage", req.CoverageID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx))
	if err != nil {
		// Corrupt responses and client errors come back unretried and
		// already carry their category; only retryable failures get the
		// exhaustion wrapper.
		if errors.Is(err, errs.ErrCorruptResponse) || errors.Is(err, errs.ErrInvalidParameters) {
			return nil, err
		}
		if !errors.Is(err, errs.ErrNetworkFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %d attempts for %s: %v",
			errs.ErrNetworkFailure, attempt, req.CoverageID, err)
	}
	return img, nil
}

func (c *Client) fetchOnce(ctx context.Context, u string, req Request) (*geotiff.Image, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", errs.ErrInvalidParameters, err))
	}
	httpReq.Header.Set("Accept", "image/tiff")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: server returned %s", errs.ErrNetworkFailure, resp.Status)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: server returned %s", errs.ErrNetworkFailure, resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", errs.ErrNetworkFailure, err)
	}

	img, err := geotiff.Decode(body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", errs.ErrCorruptResponse, err))
	}
	if img.Width != req.Width || img.Height != req.Height {
		return nil, backoff.Permanent(fmt.Errorf("%w: got %dx%d raster, want %dx%d",
			errs.ErrCorruptResponse, img.Width, img.Height, req.Width, req.Height))
	}
	return img, nil
}
