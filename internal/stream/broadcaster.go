// Package stream fans the radio's PCM frames out to HTTP and WebRTC listeners.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// Transports a listener can connect over.
const (
	TransportHTTP   = "http"
	TransportWebRTC = "webrtc"
)

// ListenerRecorder is told the listener count of a transport whenever it
// changes. *metrics.Metrics satisfies it.
type ListenerRecorder interface {
	SetListeners(transport string, count int)
}

// Broadcaster fans out PCM frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	rec       ListenerRecorder
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C         chan []int16 // buffered channel of 20ms PCM frames
	Transport string

	done    chan struct{}
	dropped atomic.Int64
}

// Done is closed once the listener is unsubscribed.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Dropped returns how many frames this listener missed for being slow.
func (l *Listener) Dropped() int64 { return l.dropped.Load() }

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// SetRecorder reports listener counts to rec. Pass nil to stop.
func (b *Broadcaster) SetRecorder(rec ListenerRecorder) {
	b.mu.Lock()
	b.rec = rec
	b.mu.Unlock()
}

// Subscribe registers a new listener on the given transport.
func (b *Broadcaster) Subscribe(transport string) *Listener {
	l := &Listener{
		C:         make(chan []int16, 150), // ~3 seconds of buffer at 20ms/frame
		Transport: transport,
		done:      make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.report(transport)
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop. Unsubscribing twice
// is a no-op.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l]; !ok {
		return
	}
	delete(b.listeners, l)
	close(l.done)
	b.report(l.Transport)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Count returns the number of active listeners on one transport.
func (b *Broadcaster) Count(transport string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count(transport)
}

func (b *Broadcaster) count(transport string) int {
	n := 0
	for l := range b.listeners {
		if l.Transport == transport {
			n++
		}
	}
	return n
}

// report must be called with mu held.
func (b *Broadcaster) report(transport string) {
	if b.rec != nil {
		b.rec.SetListeners(transport, b.count(transport))
	}
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					l.dropped.Add(1)
				}
			}
			b.mu.RUnlock()
		}
	}
}
