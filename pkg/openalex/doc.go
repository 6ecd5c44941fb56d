// Package openalex holds the typed schema and query builder for the OpenAlex
// works endpoint.
//
// Only the fields the dispatch engine needs are decoded. Every nested object
// is optional on the wire, so the conversion from Work to Paper applies
// explicit fallbacks instead of assuming a shape:
//
//   - Paper.URL: primary_location.landing_page_url, else DOI, else OpenAlex id
//   - Paper.ID: DOI, else ids.doi, else OpenAlex id
//   - Paper.Category: first topic's subfield name, else first topic name
//   - Paper.Title: title, else display_name
//
// # Query Shape
//
//	GET /works?filter=publication_date:2015-10-18,topics.field.id:11|17,type:article
//	          &sort=cited_by_count:desc&page=1&per_page=1&mailto=ops@example.com
package openalex
