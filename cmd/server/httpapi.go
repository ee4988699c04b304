// Thin HTTP/SSE transport adapter over the fanout.Hub (spec.md §6). Wire
// framing itself is explicitly out of scope for the core; this is the
// minimal shell that exercises the push-channel contract.
package main

import (
	"fmt"
	"net/http"

	"github.com/agent-racer/observatory/internal/fanout"
)

func registerRoutes(mux *http.ServeMux, hub *fanout.Hub) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		current := hub.Current()
		w.Header().Set("Content-Type", "application/json")
		if current == nil {
			w.Write([]byte(`{}`))
			return
		}
		w.Write(current)
	})

	mux.HandleFunc("/api/stream", func(w http.ResponseWriter, r *http.Request) {
		streamSnapshots(w, r, hub)
	})
}

func streamSnapshots(w http.ResponseWriter, r *http.Request, hub *fanout.Hub) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, err := hub.Subscribe()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer hub.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data, open := <-sub.C():
			if !open {
				return
			}
			fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}
