package cachefront

import (
	"net/http"
	"sync"
)

// EventKind identifies a proxy lifecycle notification.
type EventKind string

const (
	// EventRequest fires when an inbound request enters the pipeline.
	EventRequest EventKind = "request"
	// EventProxyRequest fires when a request is forwarded upstream.
	EventProxyRequest EventKind = "proxy-request"
	// EventCacheHit fires when a request is answered from the cache.
	EventCacheHit EventKind = "cache-hit"
	// EventError fires for storage, integrity and upstream failures.
	// Errors reported here are best-effort observations; the client
	// response is reconciled separately.
	EventError EventKind = "error"
)

// Event is one proxy lifecycle notification.
type Event struct {
	Kind    EventKind
	Key     string
	Request *http.Request
	Err     error
}

type notifier struct {
	mu   sync.Mutex
	subs []func(Event)
}

func (n *notifier) subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

// emit delivers the event to every subscriber in its own goroutine, so
// a slow listener never blocks the request pipeline.
func (n *notifier) emit(e Event) {
	n.mu.Lock()
	subs := n.subs
	n.mu.Unlock()
	for _, fn := range subs {
		go fn(e)
	}
}
