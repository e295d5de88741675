package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kitt-bench/controller/internal/domain"
)

// sseKeepAlive matches spec §4.6's 15s keep-alive comment to stop idle
// proxies from closing the connection.
const sseKeepAlive = 15 * time.Second

// handleEventStream serves GET /events/stream[/:source] (spec §4.6): it
// replays any persisted events after Last-Event-Id, then subscribes to the
// live bus so reconnecting clients never miss a line.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "source")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var afterSeq int64
	if v := r.Header.Get("Last-Event-Id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}

	backlog, err := s.bus.Replay(r.Context(), sourceID, afterSeq)
	if err != nil && s.log != nil {
		s.log.WithField("error", err).Warn("httpapi: event replay failed")
	}
	for _, ev := range backlog {
		writeSSEEvent(w, ev)
	}
	flusher.Flush()

	sub := s.bus.Subscribe(sourceID)
	defer sub.Close()
	if s.metrics != nil {
		s.metrics.IncSSESubscribers()
		defer s.metrics.DecSSESubscribers()
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev domain.Event) {
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.SeqID, ev.Type, ev.Payload)
}
