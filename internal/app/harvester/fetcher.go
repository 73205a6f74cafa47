package harvester

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Fetcher performs source fetches with bounded retries and a shared rate
// limiter so concurrent workers cannot hammer lender endpoints. Each attempt
// gets its own timeout; a slow source can stall one worker, never the run.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

type FetcherConfig struct {
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	RatePerSec float64
	Burst      int
}

func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Fetcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		logger:  logger,
	}
}

// Get fetches the URL, retrying with exponential backoff up to the retry
// ceiling. It returns the body, the number of attempts made and the last
// error if all attempts failed.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, int, error) {
	var lastErr error

	for attempt := 1; attempt <= f.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(f.backoffFor(attempt)):
			case <-ctx.Done():
				return nil, attempt - 1, ctx.Err()
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, attempt - 1, err
		}

		body, err := f.getOnce(ctx, url)
		if err == nil {
			return body, attempt, nil
		}
		lastErr = err
		f.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, f.retries, lastErr
}

// maxBackoffShift caps the exponential backoff so a large retry ceiling
// cannot shift the wait into overflow.
const maxBackoffShift = 10

func (f *Fetcher) backoffFor(attempt int) time.Duration {
	shift := attempt - 2
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return f.backoff << shift
}

func (f *Fetcher) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
