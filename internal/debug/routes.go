// Package debug mounts the daemons' admin endpoints under /debug/. Access is
// limited to loopback and tailnet clients by tsweb.
package debug

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/udpbridge/internal/httputil"
)

// Options selects what Attach exposes. Nil fields are skipped.
type Options struct {
	// Status returns a JSON-serialisable snapshot of the running bridge.
	Status   func() any
	Gatherer prometheus.Gatherer
	Tail     *Tail
}

// Attach registers the admin routes on mux.
func Attach(mux *http.ServeMux, opts Options) {
	debug := tsweb.Debugger(mux)

	if opts.Status != nil {
		debug.HandleFunc("status", "bridge status (JSON)", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, opts.Status())
		})
	}

	if opts.Gatherer != nil {
		debug.Handle("prometheus", "bridge metrics (Prometheus)", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.Tail != nil {
		debug.HandleFunc("tail", "live packet tail (SSE)", tailHandler(opts.Tail))
	}
}

func tailHandler(t *Tail) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := t.Subscribe()
		defer t.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}
