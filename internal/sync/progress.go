package sync

import (
	"sync"
)

// ProgressEvent is delivered to listeners as a run advances. Phase names
// are "push:<collection>", "pull:<collection>" and "complete".
type ProgressEvent struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

type ProgressFunc func(ProgressEvent)

// progressHub fans events out to subscribers. Listeners run synchronously
// on the sync goroutine; they are expected to hand off quickly.
type progressHub struct {
	mu        sync.Mutex
	listeners map[int]ProgressFunc
	nextID    int
}

func newProgressHub() *progressHub {
	return &progressHub{listeners: make(map[int]ProgressFunc)}
}

// subscribe registers a listener and returns its unsubscribe function.
func (h *progressHub) subscribe(fn ProgressFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

func (h *progressHub) emit(ev ProgressEvent) {
	h.mu.Lock()
	fns := make([]ProgressFunc, 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
