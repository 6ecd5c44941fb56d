package client

import (
	"context"

	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// Fetcher resolves fetch keys for one run. It is the only writer into its
// cache and issues upstream calls serially.
type Fetcher struct {
	client  *Client
	cache   *cache.Cache
	spacer  *ratelimit.Spacer
	backoff *ratelimit.Backoff
	logger  zerolog.Logger

	// failed holds keys given up on this run; they are not re-queried.
	failed map[string]struct{}
	calls  int
}

// NewFetcher creates a fetcher bound to runCache. The spacing clock starts
// fresh, so its first upstream call is not delayed.
func (c *Client) NewFetcher(runCache *cache.Cache) *Fetcher {
	return &Fetcher{
		client:  c,
		cache:   runCache,
		spacer:  ratelimit.NewSpacer(c.config.MinSpacing),
		backoff: ratelimit.NewBackoff(c.config.RateLimitBackoff, c.config.MaxBackoff),
		logger:  c.logger,
		failed:  make(map[string]struct{}),
	}
}

// Resolve returns the result for key. Cache hits return immediately. Misses
// cost one spaced upstream call; successful answers (including "none found")
// are cached, failures are logged and reported as None without caching.
func (f *Fetcher) Resolve(ctx context.Context, key cache.FetchKey) cache.FetchResult {
	if res, ok := f.cache.Get(key); ok {
		f.logger.Debug().Str("key", key.String()).Bool("found", res.Found).Msg("Cache hit")
		return res
	}

	k := key.String()
	if _, ok := f.failed[k]; ok {
		return cache.None()
	}

	res, err := f.resolveWithBackoff(ctx, key)
	if err != nil {
		f.failed[k] = struct{}{}
		f.logger.Warn().
			Err(err).
			Str("key", k).
			Str("error_class", string(classOf(err))).
			Msg("Upstream lookup failed, skipping key")
		return cache.None()
	}

	f.cache.Put(key, res)
	f.logger.Debug().
		Str("key", k).
		Bool("found", res.Found).
		Msg("Cached upstream result")
	return res
}

// Calls returns the number of upstream requests issued so far.
func (f *Fetcher) Calls() int {
	return f.calls
}

// RateLimitState returns the fetcher's rate-limit history.
func (f *Fetcher) RateLimitState() ratelimit.State {
	return f.backoff.State()
}
