package openalex

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the public works endpoint.
const DefaultBaseURL = "https://api.openalex.org/works"

// Query selects the single most-cited article published on one date in a
// set of fields.
type Query struct {
	PublicationDate string
	FieldIDs        []string
	// Contact is sent as mailto to get into the polite pool.
	Contact string
}

// Filter renders the filter parameter. Field ids are joined with "|" in the
// order given; callers pass them pre-sorted.
func (q Query) Filter() string {
	parts := []string{"publication_date:" + q.PublicationDate}
	if len(q.FieldIDs) > 0 {
		parts = append(parts, "topics.field.id:"+strings.Join(q.FieldIDs, "|"))
	}
	parts = append(parts, "type:article")
	return strings.Join(parts, ",")
}

// Values renders the full query string.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("filter", q.Filter())
	v.Set("sort", "cited_by_count:desc")
	v.Set("page", "1")
	v.Set("per_page", "1")
	if q.Contact != "" {
		v.Set("mailto", q.Contact)
	}
	return v
}

// URL joins the query onto base.
func (q Query) URL(base string) (string, error) {
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if q.PublicationDate == "" {
		return "", fmt.Errorf("publication date is required")
	}
	u.RawQuery = q.Values().Encode()
	return u.String(), nil
}
