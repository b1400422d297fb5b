package logsink

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream used when none is configured.
const DefaultStream = "vtrace:records"

// RedisSink appends records to a Redis stream with XADD.
type RedisSink struct {
	mu     sync.Mutex
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink wraps client. maxLen > 0 trims the stream approximately to
// that many entries. The sink owns client and closes it on Close.
func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

// Stream returns the stream key.
func (s *RedisSink) Stream() string { return s.stream }

// Append adds one stream entry holding the record fields and its formatted
// form.
func (s *RedisSink) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return ErrClosed
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"pid":         rec.ProcessID,
			"description": rec.Description,
			"clock":       rec.Clock.Format(),
			"time":        rec.Time.UnixNano(),
			"record":      Format(rec),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append record to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}
