package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log line stored in the ring buffer.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries. Every appended entry gets the
// next sequence number, so readers that combine a snapshot with a live feed
// can skip what they have already seen.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry // oldest at start once full
	limit   int
	nextSeq uint64
}

// NewRingBuffer creates a buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{
		entries: make([]LogEntry, 0, size),
		limit:   size,
		nextSeq: 1,
	}
}

// Append stamps entry with the next sequence number, stores it and returns
// the stamped copy. The oldest entry is evicted when the buffer is full.
func (rb *RingBuffer) Append(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry.Seq = rb.nextSeq
	rb.nextSeq++

	if len(rb.entries) == rb.limit {
		copy(rb.entries, rb.entries[1:])
		rb.entries = rb.entries[:rb.limit-1]
	}
	rb.entries = append(rb.entries, entry)
	return entry
}

// Snapshot returns every buffered entry, oldest first.
func (rb *RingBuffer) Snapshot() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if len(rb.entries) == 0 {
		return nil
	}
	return append([]LogEntry(nil), rb.entries...)
}

// Recent returns up to limit of the newest entries, oldest first. A non-empty
// module keeps only that module's entries. limit <= 0 means no limit.
func (rb *RingBuffer) Recent(limit int, module string) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var picked []LogEntry
	for i := len(rb.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(picked) == limit {
			break
		}
		if module != "" && rb.entries[i].Module != module {
			continue
		}
		picked = append(picked, rb.entries[i])
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}
