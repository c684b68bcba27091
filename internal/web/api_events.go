package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nxclaw/nxclaw/internal/events"
)

// ssePingInterval keeps idle SSE connections alive through proxies.
const ssePingInterval = 15 * time.Second

func (s *Server) handleEventsRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	recent := s.deps.Bus.GetRecent(limitParam(r, 50, 500))
	writeJSON(w, map[string]any{"ok": true, "events": recent})
}

// handleEventsStream streams the bus as server-sent events. A comment ping
// goes out every 15s; slow clients drop events rather than block the bus.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan events.Event, 64)
	unsubscribe := s.deps.Bus.On(func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
