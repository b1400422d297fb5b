package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Roles a process can run as.
const (
	RoleClient = "client"
	RoleServer = "server"
	RoleBoth   = "both"
)

// Transports a process can use.
const (
	TransportUDP  = "udp"
	TransportGRPC = "grpc"
	TransportNATS = "nats"
)

// Peer represents another process and the address it listens on.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config holds the process configuration.
type Config struct {
	ProcessID       string        `yaml:"process_id"`
	Role            string        `yaml:"role"`
	Transport       string        `yaml:"transport"`
	ListenAddr      string        `yaml:"listen"`
	Peers           []Peer        `yaml:"peers"`
	PeerID          string        `yaml:"peer"`
	NATSURL         string        `yaml:"nats_url"`
	Subject         string        `yaml:"subject"`
	Messages        int           `yaml:"messages"`
	Timeout         time.Duration `yaml:"timeout"`
	Sink            string        `yaml:"log"`
	WarnDynamicJoin bool          `yaml:"warn_dynamic_join"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	OTLPEndpoint    string        `yaml:"otlp_endpoint"`
}

// Default returns the configuration of the two-process UDP demo.
func Default() Config {
	return Config{
		ProcessID:  "client",
		Role:       RoleClient,
		Transport:  TransportUDP,
		ListenAddr: "127.0.0.1:8081",
		Peers: []Peer{
			{ID: "server", Addr: "127.0.0.1:8080"},
			{ID: "client", Addr: "127.0.0.1:8081"},
		},
		PeerID:    "server",
		NATSURL:   "nats://127.0.0.1:4222",
		Subject:   "vtrace.exchange",
		Messages:  10,
		Timeout:   5 * time.Second,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// PeerAddr returns the address registered for id.
func (c *Config) PeerAddr(id string) (string, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p.Addr, true
		}
	}
	return "", false
}

const pidPlaceholder = "{pid}"

// SinkFor returns the log sink target of process pid. Every "{pid}" in Sink
// is replaced by pid, and an empty Sink means the file "<pid>logfile.log".
func (c *Config) SinkFor(pid string) string {
	if c.Sink == "" {
		return pid + "logfile.log"
	}
	return strings.ReplaceAll(c.Sink, pidPlaceholder, pid)
}

func isFileTarget(target string) bool {
	if target == "" {
		return false
	}
	for _, prefix := range []string{"memory:", "sqlite:", "postgres://", "postgresql://", "redis://", "rediss://"} {
		if strings.HasPrefix(target, prefix) {
			return false
		}
	}
	return true
}

// Error reports an invalid configuration field.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration before any socket is opened. All
// problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &Error{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.ProcessID) == "" {
		fail("process_id", "must not be empty")
	}
	switch c.Role {
	case RoleClient, RoleServer, RoleBoth:
	default:
		fail("role", "unknown role %q", c.Role)
	}
	switch c.Transport {
	case TransportUDP, TransportGRPC:
		if c.Role != RoleClient && c.ListenAddr == "" {
			fail("listen", "required for role %s", c.Role)
		}
		if c.Role != RoleServer {
			if _, ok := c.PeerAddr(c.PeerID); !ok {
				fail("peer", "no address for peer %q", c.PeerID)
			}
		}
	case TransportNATS:
		if c.NATSURL == "" {
			fail("nats_url", "must not be empty")
		}
		if c.Subject == "" {
			fail("subject", "must not be empty")
		}
	default:
		fail("transport", "unknown transport %q", c.Transport)
	}
	if c.Messages <= 0 {
		fail("messages", "must be positive, got %d", c.Messages)
	}
	if c.Timeout <= 0 {
		fail("timeout", "must be positive")
	}
	if c.Role == RoleBoth {
		if c.PeerID == c.ProcessID {
			fail("peer", "must differ from process_id when role is both")
		}
		if isFileTarget(c.Sink) && !strings.Contains(c.Sink, pidPlaceholder) {
			fail("log", "file target must contain %s when role is both", pidPlaceholder)
		}
	}

	return errors.Join(errs...)
}
