package testutil

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

// recordingTB captures Errorf calls instead of failing the test.
type recordingTB struct {
	testing.TB
	errors []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestAssertStatusCode_Mismatch(t *testing.T) {
	t.Parallel()

	rec := &recordingTB{TB: t}
	AssertStatusCode(rec, http.StatusOK, http.StatusBadRequest)
	if len(rec.errors) != 1 || rec.errors[0] != "status code = 200, want 400" {
		t.Errorf("errors = %q", rec.errors)
	}

	rec = &recordingTB{TB: t}
	AssertStatusCode(rec, http.StatusOK, http.StatusOK)
	if len(rec.errors) != 0 {
		t.Errorf("errors = %q, want none", rec.errors)
	}
}

func TestNewLoopbackRequest(t *testing.T) {
	t.Parallel()

	req := NewLoopbackRequest(http.MethodGet, "/debug/status")
	if req.RemoteAddr != LoopbackAddr {
		t.Errorf("RemoteAddr = %q, want %q", req.RemoteAddr, LoopbackAddr)
	}
	if req.URL.Path != "/debug/status" || req.Method != http.MethodGet {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
}

func TestServe(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Remote", r.RemoteAddr)
		w.WriteHeader(http.StatusTeapot)
	})
	rec := Serve(h, NewRequestFrom(http.MethodGet, "/", "192.0.2.1:80"))
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
	if got := rec.Header().Get("X-Remote"); got != "192.0.2.1:80" {
		t.Errorf("X-Remote = %q", got)
	}
}
