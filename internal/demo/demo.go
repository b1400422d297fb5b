package demo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vtrace/internal/codec"
	"vtrace/internal/transport"
)

// Log descriptions written by the exchange.
const (
	ClientSend    = "Sending message to server."
	ServerReceive = "Received message from client."
	ServerReply   = "Responding to client."
	ClientReceive = "Received message from server."
)

type options struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures RunServer and RunClient.
type Option func(*options)

// WithLogger sets the progress logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTimeout bounds each client round trip. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sequence reproduces the server's reply series: a received 0 or 1 resets
// the series, anything else advances it by one Fibonacci step.
type sequence struct {
	n, nMinOne, nMinTwo int64
}

func (s *sequence) next(received int64) int64 {
	switch received {
	case 0:
		s.nMinTwo = 0
		s.n = 0
	case 1:
		s.nMinOne = 0
		s.n = 1
	default:
		s.nMinTwo = s.nMinOne
		s.nMinOne = s.n
		s.n = s.nMinOne + s.nMinTwo
	}
	return s.n
}

// RunServer answers exactly n messages on srv and then stops it. Messages
// that fail to unpack are rejected and not counted.
func RunServer(ctx context.Context, c *codec.Codec, srv transport.Server, n int, opts ...Option) error {
	o := buildOptions(opts)
	logger := o.logger.With("pid", c.ProcessID(), "role", "server")

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		handled int
		seq     sequence
	)
	handler := func(_ context.Context, msg []byte) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()

		if handled >= n {
			return nil, fmt.Errorf("server already answered %d messages", n)
		}
		received, err := c.Unpack(ServerReceive, msg)
		if err != nil {
			logger.Warn("rejected message", "error", err)
			return nil, err
		}
		value := seq.next(received)
		reply, err := c.Prepare(ServerReply, value)
		if err != nil {
			return nil, err
		}
		logger.Info("responding to client", "value", value)

		handled++
		if handled == n {
			cancel()
		}
		return reply, nil
	}

	logger.Info("serving", "addr", srv.Addr(), "messages", n)
	if err := srv.Serve(serveCtx, handler); err != nil {
		return fmt.Errorf("server %s: %w", c.ProcessID(), err)
	}

	mu.Lock()
	defer mu.Unlock()
	if handled < n {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("server stopped after %d of %d messages: %w", handled, n, err)
		}
		return fmt.Errorf("server stopped after %d of %d messages", handled, n)
	}
	return nil
}

// RunClient sends 0..n-1 through cli and returns the server's replies.
func RunClient(ctx context.Context, c *codec.Codec, cli transport.Client, n int, opts ...Option) ([]int64, error) {
	o := buildOptions(opts)
	logger := o.logger.With("pid", c.ProcessID(), "role", "client")

	replies := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		msg, err := c.Prepare(ClientSend, int64(i))
		if err != nil {
			return replies, err
		}
		logger.Debug("sending message to server", "value", i)

		reply, err := roundTrip(ctx, cli, msg, o.timeout)
		if err != nil {
			return replies, fmt.Errorf("round trip %d: %w", i, err)
		}

		value, err := c.Unpack(ClientReceive, reply)
		if err != nil {
			return replies, fmt.Errorf("reply %d: %w", i, err)
		}
		logger.Info("received value from server", "value", value)
		replies = append(replies, value)
	}
	return replies, nil
}

func roundTrip(ctx context.Context, cli transport.Client, msg []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return cli.RoundTrip(ctx, msg)
}
