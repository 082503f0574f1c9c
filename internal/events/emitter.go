// Package events provides the in-process notification channel between the
// sync core and UI-facing consumers. The core emits, consumers subscribe;
// traffic is one-directional.
package events

import "sync"

// Topics emitted by the core.
const (
	TopicReachability = "reachability-changed"
	TopicCacheChanged = "cache-changed"
	TopicSyncDone     = "sync-completed"
)

// ReachabilityEvent reports a backend reachability transition.
type ReachabilityEvent struct {
	Reachable bool
}

// CacheChangedEvent reports a media cache change scoped to a library.
type CacheChangedEvent struct {
	LibraryID string
	SongID    string
}

// Handler receives emitted events.
type Handler func(topic string, payload any)

// Emitter is a minimal goroutine-safe publish/subscribe hub.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]Handler)}
}

// On registers a handler for a topic.
func (e *Emitter) On(topic string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[topic] = append(e.listeners[topic], h)
}

// Emit delivers payload to every handler registered for topic. A panicking
// handler never takes down the emitting service.
func (e *Emitter) Emit(topic string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[topic]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in subscriber callbacks
			h(topic, payload)
		}()
	}
}

// RemoveAll drops every registered handler. Used on shutdown.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]Handler)
}
