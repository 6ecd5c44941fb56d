package cache

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the publication date format used in keys and queries.
const DateLayout = "2006-01-02"

// FetchKey identifies one upstream lookup.
type FetchKey struct {
	// Date is the publication date to match (YYYY-MM-DD).
	Date string

	// Categories are normalized field ids.
	Categories []string
}

// NewFetchKey builds a key, normalizing the category set.
func NewFetchKey(date string, categories []string) FetchKey {
	return FetchKey{
		Date:       date,
		Categories: normalizeCategories(categories),
	}
}

// FetchKeyFor derives the key for "offset years before workday".
func FetchKeyFor(workday time.Time, offset int, categories []string) FetchKey {
	return NewFetchKey(yearsBefore(workday, offset).Format(DateLayout), categories)
}

// yearsBefore steps back whole calendar years. A leap day lands on Feb 28
// in non-leap years instead of rolling into March.
func yearsBefore(t time.Time, years int) time.Time {
	y, m, d := t.Date()
	y -= years
	if last := daysIn(y, m); d > last {
		d = last
	}
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// String generates a deterministic key string.
// Format: works:<date>:<cat1>|<cat2>
//
// Example:
//
//	works:2015-10-18:11|17
func (k FetchKey) String() string {
	return "works:" + k.Date + ":" + strings.Join(k.Categories, "|")
}

func normalizeCategories(categories []string) []string {
	seen := make(map[string]struct{}, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
