package client

import (
	"context"
	"errors"

	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
)

// shouldRetry decides whether a failed call is attempted again within the
// same Resolve. Only rate limits qualify, and only while the configured
// retry allowance lasts. Server and network errors are never retried: the
// key is given up for the rest of the run.
func shouldRetry(errorClass ErrorClass, attempt, allowance int) bool {
	return errorClass == ErrorClassRateLimit && attempt < allowance
}

// resolveWithBackoff runs fetch until it succeeds or the policy gives up.
// On a 429 it always waits the extended backoff before returning or
// retrying, so the next key also starts after the pause.
func (f *Fetcher) resolveWithBackoff(ctx context.Context, key cache.FetchKey) (cache.FetchResult, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := f.spacer.Wait(ctx); err != nil {
			return cache.None(), err
		}

		f.calls++
		res, err := f.client.fetch(ctx, key)
		if err == nil {
			f.backoff.Reset()
			return res, nil
		}
		lastErr = err

		errClass := classOf(err)
		if errClass != ErrorClassRateLimit {
			return cache.None(), lastErr
		}

		var uerr *UpstreamError
		errors.As(err, &uerr)

		delay, waitErr := f.backoff.Apply(ctx, uerr.RetryAfter)
		upstreamBackoffSeconds.Observe(delay.Seconds())
		f.logger.Warn().
			Str("key", key.String()).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Upstream rate limited")
		if waitErr != nil {
			return cache.None(), waitErr
		}

		if !shouldRetry(errClass, attempt, f.client.config.RateLimitRetries) {
			return cache.None(), lastErr
		}
		upstreamRetriesTotal.Inc()
	}
}
