// Package testutil provides testing utilities for the dispatch engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
)

// MockResponse defines the behavior for one mock works response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRequest records one request seen by the mock.
type MockRequest struct {
	At     time.Time
	Filter string
	Date   string
	Mailto string
	Header http.Header
}

// MockOpenAlex is a configurable mock works endpoint. Responses are keyed by
// the publication date in the filter; each date holds a queue, and the last
// queued response repeats once the queue is drained.
type MockOpenAlex struct {
	server *httptest.Server
	mu     sync.Mutex

	responses map[string][]MockResponse
	requests  []MockRequest
}

// NewMockOpenAlex creates a new mock server. Unknown dates answer with an
// empty result set.
func NewMockOpenAlex() *MockOpenAlex {
	mock := &MockOpenAlex{
		responses: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the works endpoint URL.
func (m *MockOpenAlex) URL() string {
	return m.server.URL + "/works"
}

// Close shuts down the mock server.
func (m *MockOpenAlex) Close() {
	m.server.Close()
}

// Reset clears queued responses and recorded requests.
func (m *MockOpenAlex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string][]MockResponse)
	m.requests = nil
}

// SetResponses queues responses for a publication date.
func (m *MockOpenAlex) SetResponses(date string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[date] = append([]MockResponse(nil), resps...)
}

// SetPaper answers date with a single work.
func (m *MockOpenAlex) SetPaper(date string, work openalex.Work) {
	m.SetResponses(date, NewWorksResponse(work))
}

// RequestCount returns the number of requests served.
func (m *MockOpenAlex) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockOpenAlex) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// RequestsFor counts requests for one publication date.
func (m *MockOpenAlex) RequestsFor(date string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Date == date {
			n++
		}
	}
	return n
}

func (m *MockOpenAlex) handle(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	date := dateFromFilter(filter)

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{
		At:     time.Now(),
		Filter: filter,
		Date:   date,
		Mailto: r.URL.Query().Get("mailto"),
		Header: r.Header.Clone(),
	})

	resp := NewEmptyResponse()
	if queue, ok := m.responses[date]; ok && len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			m.responses[date] = queue[1:]
		}
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func dateFromFilter(filter string) string {
	for _, part := range strings.Split(filter, ",") {
		if v, ok := strings.CutPrefix(part, "publication_date:"); ok {
			return v
		}
	}
	return ""
}

// NewWorksResponse creates a 200 OK response carrying works.
func NewWorksResponse(works ...openalex.Work) MockResponse {
	body, err := json.Marshal(openalex.WorksResponse{
		Meta:    openalex.Meta{Count: len(works), Page: 1, PerPage: 1},
		Results: works,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal works: %v", err))
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewEmptyResponse creates a 200 OK response with no results.
func NewEmptyResponse() MockResponse {
	return NewWorksResponse()
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{"Content-Type": "application/json"}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewMalformedResponse creates a 200 OK response that is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"results": [`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// SampleWork builds a minimal work for tests.
func SampleWork(title, date string) openalex.Work {
	return openalex.Work{
		ID:              "https://openalex.org/W" + strings.ReplaceAll(date, "-", ""),
		DOI:             "https://doi.org/10.1000/" + date,
		Title:           title,
		PublicationDate: date,
		CitedByCount:    42,
		PrimaryLocation: &openalex.Location{LandingPageURL: "https://example.org/" + date},
		Authorships: []openalex.Authorship{
			{Author: openalex.Author{DisplayName: "Ada Lovelace"}},
		},
		Topics: []openalex.Topic{
			{DisplayName: "Machine Learning", Subfield: &openalex.Group{DisplayName: "Artificial Intelligence"}},
		},
	}
}
