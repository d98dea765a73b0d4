package execlog

import (
	"encoding/json"
	"net/http"
	"sync"
)

// HTTPTraceSink retains the most recent entries in a fixed-size ring and
// serves them as JSON over HTTP, for ad-hoc inspection of a running
// engine without attaching a console.
//
// Usage:
//
//	trace := execlog.NewHTTPTraceSink(1000)
//	logger.AddSink(trace)
//	http.Handle("/debug/execlog", trace)
//
// Query parameters:
//   - executionId: only entries for that execution
//   - level: minimum level name (TRACE, DEBUG, INFO, WARN, ERROR, FATAL)
type HTTPTraceSink struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHTTPTraceSink creates a sink retaining up to capacity entries.
// Capacity below 1 defaults to 256.
func NewHTTPTraceSink(capacity int) *HTTPTraceSink {
	if capacity < 1 {
		capacity = 256
	}
	return &HTTPTraceSink{
		entries: make([]Entry, capacity),
	}
}

// Handle records the entry, evicting the oldest when full.
func (h *HTTPTraceSink) Handle(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Entries returns the retained entries in arrival order.
func (h *HTTPTraceSink) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		out := make([]Entry, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]Entry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}

// ServeHTTP writes the retained entries as a JSON array.
func (h *HTTPTraceSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	execID := r.URL.Query().Get("executionId")
	minLevel := LevelTrace
	if lv := r.URL.Query().Get("level"); lv != "" {
		minLevel = ParseLevel(lv)
	}

	entries := h.Entries()
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if execID != "" && e.ExecutionID != execID {
			continue
		}
		if e.Level < minLevel {
			continue
		}
		filtered = append(filtered, e)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(filtered); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
