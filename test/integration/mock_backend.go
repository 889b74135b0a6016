package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockCatalog is a configurable HTTP test server that simulates the style
// catalog. Styles it has not been told about are answered with 404. It
// records every lookup for later assertion.
type MockCatalog struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.RWMutex
	styles   map[string]map[string]any
	failures []*mockResponse
	received []*RecordedRequest
}

// RecordedRequest captures the details of a request received by the mock catalog.
type RecordedRequest struct {
	Method     string
	Path       string
	StyleID    string
	Headers    http.Header
	ReceivedAt time.Time
}

type mockResponse struct {
	status    int
	delay     time.Duration
	connError bool
}

// newMockCatalog creates a new mock catalog and starts the HTTP test server.
func newMockCatalog(t *testing.T) *MockCatalog {
	t.Helper()

	mc := &MockCatalog{
		t:      t,
		styles: make(map[string]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /styles/{id}", mc.handleLookup)
	mc.server = httptest.NewServer(mux)
	t.Cleanup(mc.server.Close)

	return mc
}

// URL returns the base URL of the mock catalog server.
func (mc *MockCatalog) URL() string {
	return mc.server.URL
}

// AddStyle registers the attributes returned for styleID.
func (mc *MockCatalog) AddStyle(styleID, brand, title string) *MockCatalog {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.styles[styleID] = map[string]any{
		"styleId": styleID,
		"brand":   brand,
		"title":   title,
	}
	return mc
}

// FailWith queues a failure status answered before any registered style.
// The last queued failure repeats until Reset.
func (mc *MockCatalog) FailWith(status int) *MockCatalog {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = append(mc.failures, &mockResponse{status: status})
	return mc
}

// FailWithConnectionError queues a dropped connection.
func (mc *MockCatalog) FailWithConnectionError() *MockCatalog {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = append(mc.failures, &mockResponse{connError: true})
	return mc
}

// ThenServe queues a normal answer after earlier queued failures, so that
// later lookups are served from the registered styles.
func (mc *MockCatalog) ThenServe() *MockCatalog {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = append(mc.failures, &mockResponse{})
	return mc
}

// RespondWithDelay delays every lookup by d.
func (mc *MockCatalog) RespondWithDelay(d time.Duration) *MockCatalog {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = append(mc.failures, &mockResponse{delay: d})
	return mc
}

func (mc *MockCatalog) handleLookup(w http.ResponseWriter, r *http.Request) {
	styleID := r.PathValue("id")

	mc.mu.Lock()
	mc.received = append(mc.received, &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		StyleID:    styleID,
		Headers:    r.Header.Clone(),
		ReceivedAt: time.Now(),
	})
	var resp *mockResponse
	if n := len(mc.failures); n > 0 {
		resp = mc.failures[0]
		if n > 1 {
			mc.failures = mc.failures[1:]
		}
	}
	style, known := mc.styles[styleID]
	mc.mu.Unlock()

	if resp != nil {
		if resp.connError {
			// Hijack the connection and close it to simulate a connection error.
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				if conn != nil {
					conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			time.Sleep(resp.delay)
		}
		if resp.status != 0 {
			w.WriteHeader(resp.status)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !known {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND"})
		return
	}
	json.NewEncoder(w).Encode(style)
}

// AssertCalled verifies the number of lookups received.
func (mc *MockCatalog) AssertCalled(t *testing.T, expectedCount int) {
	t.Helper()
	mc.mu.RLock()
	actual := len(mc.received)
	mc.mu.RUnlock()
	if actual != expectedCount {
		t.Errorf("mock catalog: called %d times, want %d", actual, expectedCount)
	}
}

// Calls returns the number of lookups received.
func (mc *MockCatalog) Calls() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.received)
}

// LastRequest returns the last lookup received, or nil.
func (mc *MockCatalog) LastRequest() *RecordedRequest {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	if len(mc.received) == 0 {
		return nil
	}
	return mc.received[len(mc.received)-1]
}

// Reset clears recorded lookups and queued failures. Registered styles stay.
func (mc *MockCatalog) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.failures = nil
	mc.received = nil
}
