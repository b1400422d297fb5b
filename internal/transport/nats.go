package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrorHeader carries a handler failure back to a NATS requester.
const ErrorHeader = "Vtrace-Error"

// RemoteError is a handler failure reported by the remote server.
type RemoteError struct {
	Subject string
	Reason  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote handler on %s: %s", e.Subject, e.Reason)
}

// NATSServer answers requests published on a subject. The connection is
// owned by the caller.
type NATSServer struct {
	conn    *nats.Conn
	subject string

	mu       sync.Mutex
	sub      *nats.Subscription
	closing  bool
	inflight sync.WaitGroup
}

// NewNATSServer creates a server for subject on conn.
func NewNATSServer(conn *nats.Conn, subject string) *NATSServer {
	return &NATSServer{conn: conn, subject: subject}
}

// Addr returns the subject.
func (s *NATSServer) Addr() string {
	return s.subject
}

// Serve subscribes to the subject and blocks until ctx is cancelled. It
// waits for running handlers before returning.
func (s *NATSServer) Serve(ctx context.Context, h Handler) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	sub, err := s.conn.Subscribe(s.subject, func(m *nats.Msg) {
		s.handle(ctx, h, m)
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.mu.Unlock()

	if err := s.conn.Flush(); err != nil {
		_ = s.Close()
		return fmt.Errorf("failed to flush subscription %s: %w", s.subject, err)
	}

	<-ctx.Done()
	return s.Close()
}

func (s *NATSServer) handle(ctx context.Context, h Handler, m *nats.Msg) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	reply, err := h(ctx, m.Data)
	if m.Reply == "" {
		return
	}
	resp := nats.NewMsg(m.Reply)
	if err != nil {
		resp.Header.Set(ErrorHeader, err.Error())
	} else {
		resp.Data = reply
	}
	_ = m.RespondMsg(resp)
}

// Close unsubscribes and waits for running handlers.
func (s *NATSServer) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	sub := s.sub
	s.mu.Unlock()

	var err error
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("failed to unsubscribe %s: %w", s.subject, uerr)
		}
	}
	s.inflight.Wait()
	return err
}

// NATSClient sends requests to a subject. The connection is owned by the
// caller.
type NATSClient struct {
	conn    *nats.Conn
	subject string
}

// NewNATSClient creates a client for subject on conn.
func NewNATSClient(conn *nats.Conn, subject string) *NATSClient {
	return &NATSClient{conn: conn, subject: subject}
}

// RoundTrip publishes msg as a request and waits for the reply. A handler
// failure on the server is returned as *RemoteError.
func (c *NATSClient) RoundTrip(ctx context.Context, msg []byte) ([]byte, error) {
	reply, err := c.conn.RequestWithContext(ctx, c.subject, msg)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", c.subject, err)
	}
	if reason := reply.Header.Get(ErrorHeader); reason != "" {
		return nil, &RemoteError{Subject: c.subject, Reason: reason}
	}
	return reply.Data, nil
}

// Close is a no-op; the connection belongs to the caller.
func (c *NATSClient) Close() error {
	return nil
}

// ConnectNATS connects to url with the reconnect settings used by the CLI.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS %s: %w", url, err)
	}
	return conn, nil
}
