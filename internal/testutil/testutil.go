// Package testutil holds helpers shared by the HTTP route tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoopbackAddr passes tsweb's debug access check.
const LoopbackAddr = "127.0.0.1:12345"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewLoopbackRequest creates a request that appears to come from loopback.
func NewLoopbackRequest(method, path string) *http.Request {
	return NewRequestFrom(method, path, LoopbackAddr)
}

// NewRequestFrom creates a request with the given remote address.
func NewRequestFrom(method, path, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
