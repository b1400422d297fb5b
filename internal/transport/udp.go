package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// MaxDatagram is the largest UDP payload that fits in an IPv4 datagram.
const MaxDatagram = 65507

// UDPServer answers each datagram with a datagram sent back to its source.
type UDPServer struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP server to addr.
func ListenUDP(addr string) (*UDPServer, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &UDPServer{conn: conn}, nil
}

// Addr returns the bound address.
func (s *UDPServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Serve reads datagrams until ctx is cancelled. A datagram whose handler
// fails is dropped without a reply.
func (s *UDPServer) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		reply, err := h(ctx, msg)
		if err != nil {
			continue
		}
		if len(reply) > MaxDatagram {
			continue
		}
		if _, err := s.conn.WriteToUDP(reply, from); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp reply to %s: %w", from, err)
		}
	}
}

// Close releases the socket.
func (s *UDPServer) Close() error {
	return s.conn.Close()
}

// UDPClient sends datagrams to a single remote address.
type UDPClient struct {
	mu   sync.Mutex
	conn *net.UDPConn
	buf  []byte
}

// DialUDP connects a client to remote. An empty local picks an ephemeral
// port.
func DialUDP(local, remote string) (*UDPClient, error) {
	var laddr *net.UDPAddr
	if local != "" {
		var err error
		laddr, err = net.ResolveUDPAddr("udp", local)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", local, err)
		}
	}
	raddr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", remote, err)
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", remote, err)
	}
	return &UDPClient{conn: conn, buf: make([]byte, MaxDatagram)}, nil
}

// RoundTrip writes msg and waits for the next datagram from the remote.
// The context deadline becomes the socket deadline.
func (c *UDPClient) RoundTrip(ctx context.Context, msg []byte) ([]byte, error) {
	if len(msg) > MaxDatagram {
		return nil, fmt.Errorf("udp message of %d bytes exceeds %d", len(msg), MaxDatagram)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("udp set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(msg); err != nil {
		return nil, c.roundTripError(ctx, err)
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, c.roundTripError(ctx, err)
	}

	reply := make([]byte, n)
	copy(reply, c.buf[:n])
	return reply, nil
}

func (c *UDPClient) roundTripError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("udp round trip to %s: %w", c.conn.RemoteAddr(), context.DeadlineExceeded)
	}
	return fmt.Errorf("udp round trip to %s: %w", c.conn.RemoteAddr(), err)
}

// LocalAddr returns the client's bound address.
func (c *UDPClient) LocalAddr() string {
	return c.conn.LocalAddr().String()
}

// Close releases the socket.
func (c *UDPClient) Close() error {
	return c.conn.Close()
}
