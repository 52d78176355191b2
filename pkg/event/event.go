// Package event provides a small in-process event dispatcher.
//
// In development the source watcher fires SourceChanged and the view
// engine, the LESS output cache and the live-reload hub listen for it.
package event

import (
	"sync"
)

// SourceChanged is fired with a Change payload whenever a watched view,
// stylesheet or script changes on disk.
const SourceChanged = "source.changed"

// Change describes one file system change.
type Change struct {
	Path string
	Op   string // "write", "create", "remove", "rename"
}

// Handler is a function that receives an event payload.
type Handler func(payload any)

// Bus dispatches named events to registered handlers. The zero value is
// ready to use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
}

// New returns an empty Bus.
func New() *Bus { return &Bus{} }

// Listen registers a handler for the given event name.
func (b *Bus) Listen(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[string][]Handler{}
	}
	b.handlers[event] = append(b.handlers[event], handler)
}

func (b *Bus) snapshot(event string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hs := make([]Handler, len(b.handlers[event]))
	copy(hs, b.handlers[event])
	return hs
}

// Fire dispatches an event synchronously to all registered listeners, in
// registration order.
func (b *Bus) Fire(event string, payload any) {
	for _, h := range b.snapshot(event) {
		h(payload)
	}
}

// FireAsync dispatches the event to all listeners concurrently and returns
// without waiting. Wait blocks until they finish.
func (b *Bus) FireAsync(event string, payload any) {
	for _, h := range b.snapshot(event) {
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			h(payload)
		}(h)
	}
}

// Wait blocks until every handler started by FireAsync has returned.
func (b *Bus) Wait() { b.wg.Wait() }

// Flush removes all listeners.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
}
