package logsink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrClosed is returned when appending to a closed sink.
var ErrClosed = errors.New("logsink: sink closed")

// FileSink appends formatted records to a file.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenFile creates (or truncates) the log file at path.
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &FileSink{f: f, path: path}, nil
}

// Path returns the file path.
func (s *FileSink) Path() string { return s.path }

// Append writes the record with a single write call.
func (s *FileSink) Append(_ context.Context, rec Record) error {
	line := []byte(Format(rec))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("failed to write record to %s: %w", s.path, err)
	}
	return nil
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Sync()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}
