// Package cache provides the per-run fetch cache and the deterministic
// FetchKey used to deduplicate upstream lookups.
//
// A Cache lives for exactly one scheduler run. It is never persisted and never
// shared through a package-level variable; callers construct one with
// NewCache and thread it through the aggregator and the fetcher.
//
// # Keys
//
// A FetchKey is the pair (target date, category set). Categories are
// normalized (trimmed, de-duplicated, sorted) so logically equal requests map
// to the same key no matter how the subscriber stored them:
//
//	k1 := cache.NewFetchKey("2015-10-18", []string{"17", "11"})
//	k2 := cache.NewFetchKey("2015-10-18", []string{"11", "17", "17"})
//	k1.String() == k2.String() // "works:2015-10-18:11|17"
//
// # Values
//
// A FetchResult is either a found paper or the explicit None marker. Get
// distinguishes "cached None" (result, true) from "never fetched" (_, false).
// The first Put for a key wins; later Puts are ignored.
//
// # Metrics
//
//   - dispatch_cache_hits_total - Get calls that found an entry
//   - dispatch_cache_misses_total - Get calls that found nothing
//   - dispatch_cache_entries_total - entries written
package cache
