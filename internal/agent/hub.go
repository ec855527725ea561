package agent

import "sync"

// Event types pushed to subscribed pages over the event stream.
const (
	EventActivated        = "ACTIVATED"
	EventVideoCached      = "VIDEO_CACHED"
	EventVideoCacheFailed = "VIDEO_CACHE_FAILED"
	EventDownloadProgress = "DOWNLOAD_PROGRESS"
	EventQuizCached       = "QUIZ_CACHED"
)

// Event is one notification broadcast to every subscriber.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans events out to subscribers. A slow subscriber loses events
// instead of stalling the broadcaster.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers ev to every subscriber whose buffer has room.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
