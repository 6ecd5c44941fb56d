// Package aggregator turns per-recipient (offset, categories) requests into
// ordered record lists while asking the upstream at most once per distinct
// fetch key.
//
// A run proceeds in three passes: every pair is mapped to its FetchKey, the
// distinct keys are resolved one by one through the Resolver (cache hits cost
// nothing), and finally each recipient's list is reassembled from the cache in
// the order the pairs were requested. Keys that resolved to "none found" are
// left out. Records always carry the recipient's own offset, even when the
// underlying result was first fetched for someone else.
package aggregator

import (
	"context"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resolver resolves one fetch key, consulting and filling the run cache.
// *client.Fetcher implements it.
type Resolver interface {
	Resolve(ctx context.Context, key cache.FetchKey) cache.FetchResult
}

// CallCounter is implemented by resolvers that know how many upstream calls
// they made. Keys a resolver has already given up on cost no call.
type CallCounter interface {
	Calls() int
}

// Pair is one (years back, category set) request.
type Pair struct {
	Offset     int
	Categories []string
}

// RecipientRequest lists the pairs one recipient wants, in display order.
type RecipientRequest struct {
	RecipientID string
	Pairs       []Pair
}

// Record is one resolved paper for a recipient.
type Record struct {
	// Offset is the recipient's requested offset.
	Offset int            `json:"offset"`
	Paper  openalex.Paper `json:"paper"`
	Key    string         `json:"key"`
}

// RecipientRecords is the ordered result for one recipient.
type RecipientRecords struct {
	RecipientID string
	Records     []Record
}

// Stats describes one Aggregate call.
type Stats struct {
	Pairs        int `json:"pairs"`
	DistinctKeys int `json:"distinct_keys"`
	// Resolved counts keys that were not cached when the batch started.
	Resolved int `json:"resolved"`
	// Upstream counts calls that actually reached the upstream. It equals
	// Resolved unless the resolver is a CallCounter.
	Upstream  int `json:"upstream"`
	CacheHits int `json:"cache_hits"`
	Found     int `json:"found"`
}

// Aggregator batches record lookups for a set of recipients.
type Aggregator struct {
	resolver Resolver
	cache    *cache.Cache
	logger   zerolog.Logger
}

// New creates an aggregator over one run's cache. The resolver must write
// into the same cache.
func New(resolver Resolver, runCache *cache.Cache) *Aggregator {
	return &Aggregator{
		resolver: resolver,
		cache:    runCache,
		logger:   log.With().Str("component", "aggregator").Logger(),
	}
}

// SetLogger replaces the component logger.
func (a *Aggregator) SetLogger(logger zerolog.Logger) {
	a.logger = logger
}

// Aggregate resolves every request for workday. The output has one entry per
// request, in input order.
func (a *Aggregator) Aggregate(ctx context.Context, workday time.Time, reqs []RecipientRequest) ([]RecipientRecords, Stats) {
	var stats Stats

	// Pass 1: derive keys, keeping first-seen order of distinct keys.
	keysByRecipient := make([][]cache.FetchKey, len(reqs))
	seen := make(map[string]struct{})
	var distinct []cache.FetchKey

	for i, req := range reqs {
		keys := make([]cache.FetchKey, len(req.Pairs))
		for j, p := range req.Pairs {
			key := cache.FetchKeyFor(workday, p.Offset, p.Categories)
			keys[j] = key
			stats.Pairs++

			k := key.String()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			distinct = append(distinct, key)
		}
		keysByRecipient[i] = keys
	}
	stats.DistinctKeys = len(distinct)

	// Pass 2: resolve what the cache does not know yet, one key at a time.
	counter, counted := a.resolver.(CallCounter)
	callsBefore := 0
	if counted {
		callsBefore = counter.Calls()
	}
	for _, key := range distinct {
		if a.cache.Contains(key) {
			stats.CacheHits++
			continue
		}
		stats.Resolved++
		a.resolver.Resolve(ctx, key)
	}
	if counted {
		stats.Upstream = counter.Calls() - callsBefore
	} else {
		stats.Upstream = stats.Resolved
	}

	// Pass 3: reassemble per recipient.
	out := make([]RecipientRecords, len(reqs))
	for i, req := range reqs {
		rr := RecipientRecords{RecipientID: req.RecipientID}
		for j, key := range keysByRecipient[i] {
			res, ok := a.cache.Get(key)
			if !ok || !res.Found {
				continue
			}
			rr.Records = append(rr.Records, Record{
				Offset: req.Pairs[j].Offset,
				Paper:  res.Paper,
				Key:    key.String(),
			})
			stats.Found++
		}
		out[i] = rr
	}

	a.logger.Debug().
		Int("recipients", len(reqs)).
		Int("pairs", stats.Pairs).
		Int("distinct_keys", stats.DistinctKeys).
		Int("resolved", stats.Resolved).
		Int("upstream", stats.Upstream).
		Int("cache_hits", stats.CacheHits).
		Msg("Aggregated batch")

	return out, stats
}
