// Command vtrace runs the vector clock client/server exchange over UDP, gRPC
// or NATS and writes each process's causal log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"vtrace/internal/codec"
	"vtrace/internal/config"
	"vtrace/internal/demo"
	"vtrace/internal/logsink"
	"vtrace/internal/telemetry"
	"vtrace/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "vtrace: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (config.Config, error) {
	fs := flag.NewFlagSet("vtrace", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		configPath   = fs.String("config", "", "Path to a YAML config file")
		pid          = fs.String("pid", "", "Process ID recorded in every clock")
		role         = fs.String("role", "", "Role to run: client, server or both")
		transportArg = fs.String("transport", "", "Transport: udp, grpc or nats")
		listen       = fs.String("listen", "", "Listen address (server) or local bind address (udp client)")
		peers        = fs.String("peers", "", "Comma-separated list of peers (format: id1=addr1,id2=addr2)")
		peer         = fs.String("peer", "", "Peer ID the client sends to")
		natsURL      = fs.String("nats-url", "", "NATS server URL")
		subject      = fs.String("subject", "", "NATS subject for request/reply")
		messages     = fs.Int("messages", 0, "Number of messages to exchange")
		timeout      = fs.Duration("timeout", 0, "Per message timeout")
		sink         = fs.String("log", "", "Log sink target, {pid} is replaced by the process ID")
		warnJoin     = fs.Bool("warn-dynamic-join", false, "Warn when an unknown process joins a clock")
		logLevel     = fs.String("log-level", "", "Log level: debug, info, warn or error")
		logFormat    = fs.String("log-format", "", "Log format: text or json")
		otlpEndpoint = fs.String("otlp-endpoint", "", "OTLP/gRPC metrics endpoint, empty disables export")
	)
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	// Flags set on the command line override the file
	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pid":
			cfg.ProcessID = *pid
		case "role":
			cfg.Role = *role
		case "transport":
			cfg.Transport = *transportArg
		case "listen":
			cfg.ListenAddr = *listen
		case "peers":
			parsed, err := config.ParsePeers(*peers)
			if err != nil {
				flagErr = fmt.Errorf("invalid peers: %w", err)
				return
			}
			cfg.Peers = parsed
		case "peer":
			cfg.PeerID = *peer
		case "nats-url":
			cfg.NATSURL = *natsURL
		case "subject":
			cfg.Subject = *subject
		case "messages":
			cfg.Messages = *messages
		case "timeout":
			cfg.Timeout = *timeout
		case "log":
			cfg.Sink = *sink
		case "warn-dynamic-join":
			cfg.WarnDynamicJoin = *warnJoin
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "otlp-endpoint":
			cfg.OTLPEndpoint = *otlpEndpoint
		}
	})
	if flagErr != nil {
		return cfg, flagErr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	provider, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "vtrace",
		ProcessID:    cfg.ProcessID,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to flush metrics", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(provider.Meter())
	if err != nil {
		return err
	}

	r := &runner{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		session: uuid.NewString(),
		sinks:   make(map[string]logsink.Sink),
		grpc:    transport.NewClientManager(),
	}
	defer r.close()

	if cfg.Transport == config.TransportNATS {
		r.nats, err = transport.ConnectNATS(cfg.NATSURL, "vtrace-"+cfg.ProcessID)
		if err != nil {
			return err
		}
	}

	logger.Info("starting", "pid", cfg.ProcessID, "role", cfg.Role, "transport", cfg.Transport, "session", r.session)

	switch cfg.Role {
	case config.RoleServer:
		return r.runServer(ctx, cfg.ProcessID, cfg.ListenAddr, nil)
	case config.RoleClient:
		addr, _ := cfg.PeerAddr(cfg.PeerID)
		return r.runClient(ctx, cfg.ProcessID, cfg.ListenAddr, addr)
	default:
		// The server takes the peer's identity and address; the client
		// binds ListenAddr as in the two-process setup.
		addr, _ := cfg.PeerAddr(cfg.PeerID)
		g, gctx := errgroup.WithContext(ctx)
		ready := make(chan struct{})
		g.Go(func() error {
			return r.runServer(gctx, cfg.PeerID, addr, ready)
		})
		g.Go(func() error {
			select {
			case <-ready:
			case <-gctx.Done():
				return nil
			}
			return r.runClient(gctx, cfg.ProcessID, cfg.ListenAddr, addr)
		})
		return g.Wait()
	}
}

type runner struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	session string
	grpc    *transport.ClientManager
	nats    *nats.Conn

	mu    sync.Mutex
	sinks map[string]logsink.Sink
}

// sinkFor opens one sink per distinct target so co-located processes share
// a database or stream.
func (r *runner) sinkFor(ctx context.Context, pid string) (logsink.Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.cfg.SinkFor(pid)
	if target != "memory:" {
		if s, ok := r.sinks[target]; ok {
			return s, nil
		}
	}
	s, err := logsink.Open(ctx, target, r.session)
	if err != nil {
		return nil, fmt.Errorf("failed to open log sink for %s: %w", pid, err)
	}
	key := target
	if target == "memory:" {
		key = target + pid
	}
	r.sinks[key] = s
	return s, nil
}

func (r *runner) newCodec(ctx context.Context, pid string) (*codec.Codec, error) {
	sink, err := r.sinkFor(ctx, pid)
	if err != nil {
		return nil, err
	}
	return codec.New(pid, sink,
		codec.WithDynamicJoinWarning(r.cfg.WarnDynamicJoin),
		codec.WithLogger(r.logger),
		codec.WithMetrics(r.metrics),
		codec.WithSinkTimeout(r.cfg.Timeout),
	)
}

func (r *runner) newServer(addr string) (transport.Server, error) {
	switch r.cfg.Transport {
	case config.TransportGRPC:
		return transport.NewGRPCServer(addr)
	case config.TransportNATS:
		return transport.NewNATSServer(r.nats, r.cfg.Subject), nil
	default:
		return transport.ListenUDP(addr)
	}
}

func (r *runner) newClient(ctx context.Context, local, remote string) (transport.Client, error) {
	switch r.cfg.Transport {
	case config.TransportGRPC:
		return r.grpc.GetClient(ctx, remote)
	case config.TransportNATS:
		return transport.NewNATSClient(r.nats, r.cfg.Subject), nil
	default:
		return transport.DialUDP(local, remote)
	}
}

// runServer closes ready, if non-nil, once the server is bound.
func (r *runner) runServer(ctx context.Context, pid, addr string, ready chan<- struct{}) error {
	c, err := r.newCodec(ctx, pid)
	if err != nil {
		return err
	}
	srv, err := r.newServer(addr)
	if err != nil {
		return err
	}
	defer srv.Close()

	if ready != nil {
		close(ready)
	}
	return demo.RunServer(ctx, c, srv, r.cfg.Messages, demo.WithLogger(r.logger))
}

func (r *runner) runClient(ctx context.Context, pid, local, remote string) error {
	c, err := r.newCodec(ctx, pid)
	if err != nil {
		return err
	}
	cli, err := r.newClient(ctx, local, remote)
	if err != nil {
		return err
	}
	if r.cfg.Transport != config.TransportGRPC {
		defer cli.Close()
	}

	replies, err := demo.RunClient(ctx, c, cli, r.cfg.Messages,
		demo.WithLogger(r.logger),
		demo.WithTimeout(r.cfg.Timeout),
	)
	if err != nil {
		return err
	}
	r.logger.Info("exchange complete", "pid", pid, "replies", replies, "clock", c.Snapshot().Format())
	return nil
}

func (r *runner) close() {
	if err := r.grpc.Close(); err != nil {
		r.logger.Error("failed to close grpc clients", "error", err)
	}
	if r.nats != nil {
		if err := r.nats.Drain(); err != nil {
			r.logger.Error("failed to drain nats connection", "error", err)
		}
	}
	for target, s := range r.sinks {
		if err := s.Close(); err != nil {
			r.logger.Error("failed to close log sink", "target", target, "error", err)
		}
	}
}
