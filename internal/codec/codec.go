package codec

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vtrace/internal/clock"
	"vtrace/internal/logsink"
	"vtrace/internal/telemetry"
	"vtrace/internal/wire"
)

// DefaultSinkTimeout bounds a single log sink append.
const DefaultSinkTimeout = 5 * time.Second

// Codec owns the vector clock of one process.
type Codec struct {
	mu  sync.Mutex
	pid string
	vc  *clock.VectorClock

	sink        logsink.Sink
	sinkTimeout time.Duration
	warnJoin    bool
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	now         func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithDynamicJoinWarning logs a warning whenever a process ID other than
// the codec's own appears in its clock for the first time.
func WithDynamicJoinWarning(enabled bool) Option {
	return func(c *Codec) { c.warnJoin = enabled }
}

// WithLogger sets the diagnostic logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// WithMetrics records codec events on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Codec) { c.metrics = m }
}

// WithNow sets the clock used to timestamp log records.
func WithNow(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithSinkTimeout bounds each append to the log sink.
func WithSinkTimeout(d time.Duration) Option {
	return func(c *Codec) { c.sinkTimeout = d }
}

// New creates a codec for process pid that logs to sink.
func New(pid string, sink logsink.Sink, opts ...Option) (*Codec, error) {
	if strings.TrimSpace(pid) == "" {
		return nil, &ConfigError{Field: "process id", Reason: "must not be empty"}
	}
	if sink == nil {
		return nil, &ConfigError{Field: "log sink", Reason: "must not be nil"}
	}

	c := &Codec{
		pid:         pid,
		vc:          clock.New(),
		sink:        sink,
		sinkTimeout: DefaultSinkTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.sinkTimeout <= 0 {
		return nil, &ConfigError{Field: "sink timeout", Reason: "must be positive"}
	}
	c.logger = c.logger.With(slog.String("pid", pid))
	if c.warnJoin {
		c.vc.WarnOnDynamicJoin(c.dynamicJoin)
	}
	return c, nil
}

// ProcessID returns the ID the codec ticks.
func (c *Codec) ProcessID() string { return c.pid }

// Snapshot returns a copy of the current clock.
func (c *Codec) Snapshot() clock.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vc.Snapshot()
}

// Prepare ticks the local clock and encodes payload together with a
// snapshot of the clock.
func (c *Codec) Prepare(description string, payload int64) ([]byte, error) {
	return c.PrepareValue(description, wire.Int(payload))
}

// PrepareValue is Prepare for an arbitrary wire value payload.
func (c *Codec) PrepareValue(description string, payload wire.Value) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vc.Tick(c.pid)
	snap := c.vc.Snapshot()

	msg, err := EncodeMessage(snap, payload)
	if err != nil {
		c.logger.Error("failed to encode message", slog.String("description", description), slog.Any("error", err))
		return nil, err
	}

	c.record(description, snap)
	c.metrics.Prepared(c.pid)
	c.logger.Debug("prepared message",
		slog.String("description", description),
		slog.String("clock", snap.Format()),
		slog.Int("bytes", len(msg)))
	return msg, nil
}

// Unpack decodes msg, merges its clock into the local clock and ticks. It
// returns the int64 payload. On error the local clock is left unchanged.
func (c *Codec) Unpack(description string, msg []byte) (int64, error) {
	payload, err := c.unpack(description, msg, func(v wire.Value) error {
		if v.Kind() != wire.KindInt {
			return wire.Malformed("%q is %s, want int", payloadKey, v.Kind())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := payload.AsInt()
	return n, nil
}

// UnpackValue is Unpack for an arbitrary wire value payload.
func (c *Codec) UnpackValue(description string, msg []byte) (wire.Value, error) {
	return c.unpack(description, msg, nil)
}

// LocalEvent ticks the local clock and logs description without producing
// a message.
func (c *Codec) LocalEvent(description string) clock.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vc.Tick(c.pid)
	snap := c.vc.Snapshot()
	c.record(description, snap)
	c.metrics.LocalEvent(c.pid)
	return snap
}

func (c *Codec) unpack(description string, msg []byte, check func(wire.Value) error) (wire.Value, error) {
	remote, payload, err := DecodeMessage(msg)
	if err == nil && check != nil {
		err = check(payload)
	}
	if err != nil {
		c.metrics.DecodeError(c.pid)
		c.logger.Warn("rejected message",
			slog.String("description", description),
			slog.Int("bytes", len(msg)),
			slog.Any("error", err))
		return wire.Value{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Merge before ticking so the receive event follows everything the
	// sender had seen.
	c.vc.Merge(remote)
	c.vc.Tick(c.pid)
	snap := c.vc.Snapshot()

	c.record(description, snap)
	c.metrics.Unpacked(c.pid)
	c.logger.Debug("unpacked message",
		slog.String("description", description),
		slog.String("remote", remote.Format()),
		slog.String("clock", snap.Format()))
	return payload, nil
}

// record appends to the sink. Must hold c.mu so records land in clock
// order. A failed append does not undo the event.
func (c *Codec) record(description string, snap clock.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout)
	defer cancel()

	rec := logsink.Record{
		ProcessID:   c.pid,
		Description: description,
		Clock:       snap,
		Time:        c.now(),
	}
	if err := c.sink.Append(ctx, rec); err != nil {
		c.metrics.SinkError(c.pid)
		c.logger.Error("failed to append log record",
			slog.String("description", description),
			slog.String("clock", snap.Format()),
			slog.Any("error", err))
	}
}

// dynamicJoin runs with c.mu held, from inside Tick, Set or Merge.
func (c *Codec) dynamicJoin(joined string) {
	if joined == c.pid {
		return
	}
	c.metrics.DynamicJoin(c.pid, joined)
	c.logger.Warn("dynamic join", slog.String("joined", joined))
}
