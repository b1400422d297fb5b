package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1 << 20

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func startGRPC(t *testing.T, h Handler) (*bufconn.Listener, func() error) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := NewGRPCServerFromListener(lis)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, h)
	}()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return <-done
	}
	t.Cleanup(func() { _ = stop() })
	return lis, stop
}

func dialBuf(t *testing.T, lis *bufconn.Listener) *GRPCClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cli, err := DialGRPC(ctx, "bufnet", bufDialer(lis))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func TestGRPC_RoundTrip(t *testing.T) {
	lis, stop := startGRPC(t, func(_ context.Context, msg []byte) ([]byte, error) {
		return bytes.Repeat(msg, 2), nil
	})
	cli := dialBuf(t, lis)

	reply, err := cli.RoundTrip(context.Background(), []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abab"), reply)
	assert.Equal(t, "bufnet", cli.Addr())

	require.NoError(t, cli.Close())
	assert.NoError(t, stop())
}

func TestGRPC_EmptyMessage(t *testing.T) {
	lis, _ := startGRPC(t, func(_ context.Context, msg []byte) ([]byte, error) {
		return []byte{byte(len(msg))}, nil
	})
	cli := dialBuf(t, lis)

	reply, err := cli.RoundTrip(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, reply)
}

func TestGRPC_HandlerErrorIsInvalidArgument(t *testing.T) {
	lis, _ := startGRPC(t, func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("malformed message")
	})
	cli := dialBuf(t, lis)

	_, err := cli.RoundTrip(context.Background(), []byte{0xc1})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "malformed message")
}

func TestGRPCServer_NoHandler(t *testing.T) {
	srv := NewGRPCServerFromListener(bufconn.Listen(bufSize))
	defer srv.Close()

	_, err := srv.RoundTrip(context.Background(), nil)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestClientManager_CachesPerAddress(t *testing.T) {
	lis, _ := startGRPC(t, func(_ context.Context, msg []byte) ([]byte, error) {
		return msg, nil
	})

	cm := NewClientManager(bufDialer(lis))
	ctx := context.Background()

	first, err := cm.GetClient(ctx, "bufnet")
	require.NoError(t, err)
	second, err := cm.GetClient(ctx, "bufnet")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cm.Len())

	reply, err := second.RoundTrip(ctx, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), reply)

	require.NoError(t, cm.Close())
	assert.Equal(t, 0, cm.Len())
}
