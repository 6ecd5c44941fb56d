package aggregator

// Fallbacks for recipients that have no preferences stored and for callers
// that leave Defaults empty.
var (
	fallbackOffsets    = []int{1}
	fallbackCategories = []string{"17"}
)

// Defaults fills in preferences a recipient did not set.
type Defaults struct {
	Offsets    []int
	Categories []string
}

// StandardDefaults returns one year back in category 17.
func StandardDefaults() Defaults {
	return Defaults{
		Offsets:    append([]int(nil), fallbackOffsets...),
		Categories: append([]string(nil), fallbackCategories...),
	}
}

// NewRequest builds a request using StandardDefaults.
func NewRequest(recipientID string, offsets []int, categories []string) RecipientRequest {
	return StandardDefaults().Request(recipientID, offsets, categories)
}

// Request builds a request with one pair per distinct positive offset, all
// sharing the recipient's category set. Empty offsets or categories fall
// back to d, and empty fields of d to the standard defaults.
func (d Defaults) Request(recipientID string, offsets []int, categories []string) RecipientRequest {
	if len(categories) == 0 {
		categories = d.Categories
	}
	if len(categories) == 0 {
		categories = fallbackCategories
	}

	pairs := pairsFor(offsets, categories)
	if len(pairs) == 0 {
		pairs = pairsFor(d.Offsets, categories)
	}
	if len(pairs) == 0 {
		pairs = pairsFor(fallbackOffsets, categories)
	}

	return RecipientRequest{RecipientID: recipientID, Pairs: pairs}
}

func pairsFor(offsets []int, categories []string) []Pair {
	seen := make(map[int]struct{}, len(offsets))
	pairs := make([]Pair, 0, len(offsets))
	for _, off := range offsets {
		if off < 1 {
			continue
		}
		if _, ok := seen[off]; ok {
			continue
		}
		seen[off] = struct{}{}
		pairs = append(pairs, Pair{Offset: off, Categories: categories})
	}
	return pairs
}
