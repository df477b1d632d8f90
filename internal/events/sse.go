package events

import (
	"sync"
	"sync/atomic"

	"github.com/kelindar/event"
)

// Stream collects selected event types into one buffered channel for a
// single SSE client. Publishers never wait on a slow client: events that do
// not fit are dropped and counted.
type Stream struct {
	C chan any

	dropped atomic.Uint64
	mu      sync.Mutex
	unsubs  []func()
}

// NewStream creates a stream buffering up to size events.
func NewStream(size int) *Stream {
	return &Stream{C: make(chan any, size)}
}

// Forward subscribes s to events of type T on bus.
func Forward[T Event](bus *Bus, s *Stream) {
	unsub := event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case s.C <- e:
		default:
			s.dropped.Add(1)
		}
	})

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// Dropped returns how many events did not fit the buffer.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes every subscription. C is never closed: events already queued
// by the dispatcher may still land in it without blocking.
func (s *Stream) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}
