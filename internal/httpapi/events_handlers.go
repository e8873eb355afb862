package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"prospect-engine/internal/events"
)

const defaultKeepAlive = 25 * time.Second

// EventsHandler streams hub events over SSE. The optional types query
// parameter is a comma-separated list of event types; an entry ending in
// "." matches every type under it, so "sequence." follows a campaign
// without tick noise. Idle streams get a comment line every KeepAlive.
type EventsHandler struct {
	Hub       *events.Hub
	KeepAlive time.Duration
}

func (h EventsHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, r, http.StatusInternalServerError, "stream_unsupported", "Streaming unsupported")
		return
	}
	match := typeFilter(r.URL.Query().Get("types"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.Hub.Subscribe()
	defer h.Hub.Unsubscribe(ch)

	writeSSE(w, events.MakeEvent(RequestIDFrom(r.Context()), "ping", 1, nil))
	flusher.Flush()

	every := h.KeepAlive
	if every <= 0 {
		every = defaultKeepAlive
	}
	keepAlive := time.NewTicker(every)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !match(eventType(msg)) {
				continue
			}
			writeSSE(w, msg)
			flusher.Flush()
			keepAlive.Reset(every)
		}
	}
}

func writeSSE(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
}

func typeFilter(raw string) func(string) bool {
	var exact, prefixes []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		switch {
		case t == "":
		case strings.HasSuffix(t, "."):
			prefixes = append(prefixes, t)
		default:
			exact = append(exact, t)
		}
	}
	if len(exact) == 0 && len(prefixes) == 0 {
		return func(string) bool { return true }
	}
	return func(typ string) bool {
		for _, t := range exact {
			if typ == t {
				return true
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(typ, p) {
				return true
			}
		}
		return false
	}
}

func eventType(msg string) string {
	var e struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal([]byte(msg), &e)
	return e.Type
}
