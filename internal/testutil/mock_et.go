// Package testutil provides an httptest stand-in for the ET API.
package testutil

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines one canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Call is one request received by the mock.
type Call struct {
	Path          string
	Authorization string
	Payload       map[string]any
}

// MockET is a configurable mock ET API server.
//
// Responses are keyed by request path and the "geometry" member of the JSON
// body, so one endpoint can answer differently per field. Queued responses
// are consumed in order; the last one repeats.
type MockET struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string][]MockResponse
	handlers  map[string]http.HandlerFunc
	calls     []Call
}

// NewMockET creates a new mock ET server.
func NewMockET() *MockET {
	mock := &MockET{
		responses: make(map[string][]MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockET) URL() string {
	return m.server.URL
}

// Endpoint returns the absolute URL for path.
func (m *MockET) Endpoint(path string) string {
	return m.server.URL + path
}

// Close shuts down the mock server.
func (m *MockET) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path, bypassing queued responses.
func (m *MockET) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// QueueResponse appends responses for path and geometry. A nil geometry
// matches any request that has no more specific entry.
func (m *MockET) QueueResponse(path string, geometry any, resp ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := responseKey(path, geometry)
	m.responses[key] = append(m.responses[key], resp...)
}

// Calls returns a copy of the received requests.
func (m *MockET) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// RequestCount returns the number of requests made to the server.
func (m *MockET) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockET) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(data, &payload)

	m.mu.Lock()
	m.calls = append(m.calls, Call{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Payload:       payload,
	})
	handler, hasHandler := m.handlers[r.URL.Path]
	resp, hasResp := m.next(r.URL.Path, payload["geometry"])
	m.mu.Unlock()

	if hasHandler {
		handler(w, r)
		return
	}
	if !hasResp {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"no mock response"}`))
		return
	}

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// next pops the queued response for path and geometry; caller holds mu.
func (m *MockET) next(path string, geometry any) (MockResponse, bool) {
	for _, key := range []string{responseKey(path, geometry), responseKey(path, nil)} {
		queue := m.responses[key]
		if len(queue) == 0 {
			continue
		}
		resp := queue[0]
		if len(queue) > 1 {
			m.responses[key] = queue[1:]
		}
		return resp, true
	}
	return MockResponse{}, false
}

func responseKey(path string, geometry any) string {
	if geometry == nil {
		return path
	}
	g, _ := json.Marshal(geometry)
	return path + "|" + string(g)
}

// NewSeriesResponse creates a 200 response carrying a JSON time series.
func NewSeriesResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewGzipResponse creates a 200 response whose body is gzip-compressed text.
func NewGzipResponse(text string) MockResponse {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(text))
	zw.Close()
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       buf.String(),
		Headers:    map[string]string{"Content-Type": "application/gzip"},
	}
}

// NewForbiddenResponse creates a 403 response.
func NewForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"detail":"Forbidden"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"detail":"Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
