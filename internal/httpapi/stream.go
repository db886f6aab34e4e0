package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// Stream handles Server-Sent Events over the fact journal. An optional
// after parameter replays facts past that sequence before going live.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.facts == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}

	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before replaying so no fact falls between the two.
	ch := a.facts.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	var lastSeq uint64
	for _, fact := range a.facts.ListSince(after, 1000) {
		writeSSE(w, fact)
		lastSeq = fact.Seq
	}
	flusher.Flush()

	for fact := range ch {
		if fact.Seq <= lastSeq {
			continue
		}
		writeSSE(w, fact)
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}
