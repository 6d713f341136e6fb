package session

import (
	"context"
	"sync"
)

// bus fans session events out to every active subscriber.
type bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
	done   chan struct{}
}

func newBus() *bus {
	return &bus{subs: make(map[int]chan Event), done: make(chan struct{})}
}

// subscribe registers a subscriber. The channel is closed when ctx ends or the bus closes.
func (b *bus) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
		b.mu.Unlock()
	}()

	return ch
}

// publish delivers evt to every subscriber without blocking; a full subscriber misses it.
func (b *bus) publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	close(b.done)
}
