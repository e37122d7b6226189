// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/geocluster/internal/cluster"
)

// ScenarioPoints returns two points a few metres apart in Paris and a third
// about 400 km south. The pair clusters from zoom 5 down; all three merge at
// the coarsest zooms.
func ScenarioPoints() []cluster.Point {
	return []cluster.Point{
		cluster.NewPoint(48.8, 2.3, "A"),
		cluster.NewPoint(48.8001, 2.3001, "B"),
		cluster.NewPoint(45.2, 2.93, "C"),
	}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request from the loopback address, which
// debug routes require.
func NewTestRequest(method, path string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, path, body)
	r.RemoteAddr = "127.0.0.1:40000"
	return r
}

// NewJSONRequest creates a test request with v encoded as its JSON body.
func NewJSONRequest(t testing.TB, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	r := NewTestRequest(method, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// Serve runs r through h and returns the recorded response.
func Serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

// DecodeJSON decodes the recorded body into a T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}
