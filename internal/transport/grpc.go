package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	exchangeService    = "vtrace.transport.Exchange"
	roundTripMethod    = "/" + exchangeService + "/RoundTrip"
	defaultDialTimeout = 5 * time.Second
)

// exchangeServer is the server API of the Exchange service.
type exchangeServer interface {
	RoundTrip(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func roundTripHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(exchangeServer).RoundTrip(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: roundTripMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(exchangeServer).RoundTrip(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var exchangeServiceDesc = grpc.ServiceDesc{
	ServiceName: exchangeService,
	HandlerType: (*exchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RoundTrip",
			Handler:    roundTripHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vtrace/transport/exchange.proto",
}

// GRPCServer serves the Exchange service. Handler errors reach the client
// as codes.InvalidArgument.
type GRPCServer struct {
	lis net.Listener
	srv *grpc.Server

	mu      sync.RWMutex
	handler Handler
}

// NewGRPCServer listens on addr.
func NewGRPCServer(addr string, opts ...grpc.ServerOption) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewGRPCServerFromListener(lis, opts...), nil
}

// NewGRPCServerFromListener serves on an existing listener.
func NewGRPCServerFromListener(lis net.Listener, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{
		lis: lis,
		srv: grpc.NewServer(opts...),
	}
	s.srv.RegisterService(&exchangeServiceDesc, s)
	return s
}

// Addr returns the listener address.
func (s *GRPCServer) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until ctx is cancelled, then stops gracefully so in-flight
// replies are delivered.
func (s *GRPCServer) Serve(ctx context.Context, h Handler) error {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.lis)
	}()

	select {
	case <-ctx.Done():
		s.srv.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	}
}

// RoundTrip implements the Exchange service.
func (s *GRPCServer) RoundTrip(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return nil, status.Error(codes.Unavailable, ErrNoHandler.Error())
	}

	reply, err := h(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bytes(reply), nil
}

// Close stops the server immediately.
func (s *GRPCServer) Close() error {
	s.srv.Stop()
	return nil
}

// GRPCClient calls the Exchange service on one address.
type GRPCClient struct {
	addr string
	conn *grpc.ClientConn
}

// DialGRPC connects to addr and blocks until the connection is ready or ctx
// expires. Insecure transport credentials are used unless opts override
// them.
func DialGRPC(ctx context.Context, addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &GRPCClient{addr: addr, conn: conn}, nil
}

// RoundTrip sends msg and returns the reply. Errors are gRPC status errors
// so callers can inspect status.Code.
func (c *GRPCClient) RoundTrip(ctx context.Context, msg []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, roundTripMethod, wrapperspb.Bytes(msg), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Addr returns the dialed address.
func (c *GRPCClient) Addr() string {
	return c.addr
}

// Close closes the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// ClientManager caches one GRPCClient per peer address.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]*GRPCClient
	opts    []grpc.DialOption
	timeout time.Duration
}

// NewClientManager creates a client manager. opts are passed to every dial.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	return &ClientManager{
		clients: make(map[string]*GRPCClient),
		opts:    opts,
		timeout: defaultDialTimeout,
	}
}

// GetClient returns the client for addr, dialing it on first use.
func (cm *ClientManager) GetClient(ctx context.Context, addr string) (*GRPCClient, error) {
	cm.mu.RLock()
	client, exists := cm.clients[addr]
	cm.mu.RUnlock()

	if exists {
		return client, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cm.clients[addr]; exists {
		return client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	client, err := DialGRPC(dialCtx, addr, cm.opts...)
	if err != nil {
		return nil, err
	}
	cm.clients[addr] = client
	return client, nil
}

// Len returns the number of cached clients.
func (cm *ClientManager) Len() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.clients)
}

// Close closes every cached connection.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, client := range cm.clients {
		if err := client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.clients = make(map[string]*GRPCClient)
	return errors.Join(errs...)
}
