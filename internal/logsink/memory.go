package logsink

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory. It's thread-safe. Records share
// their clock snapshots, which are immutable.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	closed  bool
}

// NewMemorySink creates a new in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a record.
func (s *MemorySink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of the stored records in append order.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close marks the sink closed. Records stay readable.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
