package main

import (
	"log"
	"sync"
)

// listHub fans "the session list changed" out to every browser showing the
// list. No payload: subscribers re-fetch /api/sessions. No debouncing:
// exactly one event per successful registry mutation.
type listHub struct {
	mu   sync.Mutex
	subs map[eventWriter]struct{}
}

func newListHub() *listHub {
	return &listHub{subs: make(map[eventWriter]struct{})}
}

func (h *listHub) subscribe(c eventWriter) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("[LIST] Subscriber added (total: %d)", n)
}

func (h *listHub) unsubscribe(c eventWriter) {
	h.mu.Lock()
	delete(h.subs, c)
	h.mu.Unlock()
}

// NotifyChanged broadcasts a sessions-changed event to all subscribers.
// Called by the HTTP handlers after any successful create/update/delete/
// reorder.
func (h *listHub) NotifyChanged() {
	h.mu.Lock()
	subs := make([]eventWriter, 0, len(h.subs))
	for c := range h.subs {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		if err := c.writeEvent(map[string]any{"type": "sessions-changed"}); err != nil {
			log.Printf("[LIST] Broadcast write error: %v", err)
		}
	}
}
