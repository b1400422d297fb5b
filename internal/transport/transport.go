package transport

import (
	"context"
	"errors"
)

// Handler processes one received message and returns the reply.
type Handler func(ctx context.Context, msg []byte) ([]byte, error)

// Client sends a message and waits for the peer's reply.
type Client interface {
	RoundTrip(ctx context.Context, msg []byte) ([]byte, error)
	Close() error
}

// Server receives messages and answers them with a Handler.
type Server interface {
	// Serve blocks until ctx is cancelled or the server fails. It returns
	// nil when stopped through ctx or Close.
	Serve(ctx context.Context, h Handler) error
	Addr() string
	Close() error
}

// ErrNoHandler is returned to peers that reach a server before Serve runs.
var ErrNoHandler = errors.New("transport: no handler registered")

var (
	_ Server = (*UDPServer)(nil)
	_ Client = (*UDPClient)(nil)
	_ Server = (*GRPCServer)(nil)
	_ Client = (*GRPCClient)(nil)
	_ Server = (*NATSServer)(nil)
	_ Client = (*NATSClient)(nil)
)
