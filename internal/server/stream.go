package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"hookahplus/internal/engine"
	"hookahplus/internal/events"
)

const streamKeepalive = 15 * time.Second

// registerStream serves accepted presses as server-sent events. Query
// "buttons" narrows the stream to a comma-separated button list and
// "session_id" to one session. Slow readers miss events rather than stall
// presses.
func registerStream(r chi.Router, basePath string, e *engine.Engine) {
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		filter := events.NewFilter(splitCSV(req.URL.Query().Get("buttons")))
		sessionID := strings.TrimSpace(req.URL.Query().Get("session_id"))
		feed, unsubscribe := e.Subscribe(64)
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		keepalive := time.NewTicker(streamKeepalive)
		defer keepalive.Stop()
		for {
			select {
			case <-req.Context().Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-feed:
				if !ok {
					return
				}
				if !filter.Match(evt.ButtonPressed) || (sessionID != "" && evt.SessionID != sessionID) {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.ButtonPressed, data)
				flusher.Flush()
			}
		}
	})
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
