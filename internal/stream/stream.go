// Package stream fans freshly written audit records out to live subscribers, such as
// the admin SSE feed.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"hrgate.org/internal/audit"
)

type subscriber struct {
	ch     chan audit.Record
	filter audit.Filter
}

// Feed is an audit.Sink that publishes each appended record to every matching
// subscriber. Install it as a writer mirror so a slow or absent reader never affects
// the primary audit write.
type Feed struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

// New returns a feed with no subscribers.
func New() *Feed {
	return &Feed{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for records matching f and returns the channel that
// receives them. The channel is closed when ctx ends.
func (s *Feed) Subscribe(ctx context.Context, f audit.Filter) <-chan audit.Record {
	ch := make(chan audit.Record, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: f.Normalize()}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Append publishes rec. It never blocks and never fails.
func (s *Feed) Append(_ context.Context, rec audit.Record) error {
	s.Publish(rec)
	return nil
}

// Publish fans rec out to all matching subscribers.
func (s *Feed) Publish(rec audit.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.filter.Matches(rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live subscribers.
func (s *Feed) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (s *Feed) Dropped() uint64 { return s.dropped.Load() }
