// Package sse provides the Server-Sent Events variant of the live-reload
// channel for browsers or proxies that cannot hold a WebSocket.
//
//	b := sse.NewBroker()
//	r.Get("/__livereload/events", "livereload.events", b.Handler())
//	b.Publish("reload", ws.Message{Type: "reload", Path: path})
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Heartbeat is how often an idle stream gets a comment line so that
// intermediaries keep the connection open.
var Heartbeat = 30 * time.Second

// Stream represents an active SSE connection to one client.
type Stream struct {
	w       http.ResponseWriter
	r       *http.Request
	flusher http.Flusher
}

// New creates an SSE stream and sets the required headers. Middleware
// wrappers are looked through via Unwrap. Returns nil if no writer in the
// chain supports flushing.
func New(w http.ResponseWriter, r *http.Request) *Stream {
	flusher, ok := findFlusher(w)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Stream{w: w, r: r, flusher: flusher}
}

func findFlusher(w http.ResponseWriter) (http.Flusher, bool) {
	for {
		if f, ok := w.(http.Flusher); ok {
			return f, true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return nil, false
		}
		w = u.Unwrap()
	}
}

// Send writes a named event with a pre-encoded data payload.
func (s *Stream) Send(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes an SSE comment, used as a keepalive heartbeat.
func (s *Stream) Comment(msg string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", msg); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

type message struct {
	event string
	data  []byte
}

// Broker fans published events out to every connected stream.
type Broker struct {
	mu   sync.Mutex
	subs map[chan message]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[chan message]struct{}),
		done: make(chan struct{}),
	}
}

// Close ends every open stream and makes new requests return at once.
// http.Server.Shutdown does not cancel request contexts, so call Close
// before shutting the listener down.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// Publish JSON-encodes data and queues it for every subscriber. Slow
// subscribers miss the event rather than block the publisher.
func (b *Broker) Publish(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("sse: marshal: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- message{event: event, data: payload}:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of connected streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) subscribe() chan message {
	ch := make(chan message, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan message) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Handler streams events to the client until it disconnects.
func (b *Broker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream := New(w, r)
		if stream == nil {
			return
		}
		// Streams outlive the server's write timeout.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
		ch := b.subscribe()
		defer b.unsubscribe(ch)

		ticker := time.NewTicker(Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-b.done:
				return
			case msg := <-ch:
				if err := stream.Send(msg.event, msg.data); err != nil {
					return
				}
			case <-ticker.C:
				if err := stream.Comment("ping"); err != nil {
					return
				}
			}
		}
	}
}
