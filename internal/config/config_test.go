package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:8080",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:8080"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:8080,n2=127.0.0.1:8081,n3=127.0.0.1:8082",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:8080"},
				{ID: "n2", Addr: "127.0.0.1:8081"},
				{ID: "n3", Addr: "127.0.0.1:8082"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:8080 , n2 = 127.0.0.1:8081",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:8080"},
				{ID: "n2", Addr: "127.0.0.1:8081"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:8080",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:8080",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestConfig_PeerAddr(t *testing.T) {
	cfg := &Config{
		Peers: []Peer{
			{ID: "server", Addr: "127.0.0.1:8080"},
			{ID: "client", Addr: "127.0.0.1:8081"},
		},
	}

	addr, ok := cfg.PeerAddr("server")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:8080", addr)

	_, ok = cfg.PeerAddr("nobody")
	assert.False(t, ok)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
process_id: server
role: server
transport: grpc
listen: 127.0.0.1:9090
messages: 3
timeout: 250ms
log: sqlite:/tmp/server.db
warn_dynamic_join: true
peers:
  - id: client
    addr: 127.0.0.1:9091
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.ProcessID)
	assert.Equal(t, RoleServer, cfg.Role)
	assert.Equal(t, TransportGRPC, cfg.Transport)
	assert.Equal(t, 3, cfg.Messages)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.True(t, cfg.WarnDynamicJoin)
	assert.Equal(t, []Peer{{ID: "client", Addr: "127.0.0.1:9091"}}, cfg.Peers)
	// Unset keys keep their defaults
	assert.Equal(t, "vtrace.exchange", cfg.Subject)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("messages: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"defaults are valid", func(*Config) {}, nil},
		{"empty process id", func(c *Config) { c.ProcessID = " " }, []string{"process_id"}},
		{"unknown role", func(c *Config) { c.Role = "observer" }, []string{"role"}},
		{"unknown transport", func(c *Config) { c.Transport = "carrier-pigeon" }, []string{"transport"}},
		{"missing peer address", func(c *Config) { c.PeerID = "ghost" }, []string{"peer"}},
		{"server needs listen", func(c *Config) { c.Role = RoleServer; c.ListenAddr = "" }, []string{"listen"}},
		{"nats needs url and subject", func(c *Config) {
			c.Transport = TransportNATS
			c.NATSURL = ""
			c.Subject = ""
		}, []string{"nats_url", "subject"}},
		{"non-positive messages", func(c *Config) { c.Messages = 0 }, []string{"messages"}},
		{"non-positive timeout", func(c *Config) { c.Timeout = 0 }, []string{"timeout"}},
		{"both needs distinct peer", func(c *Config) { c.Role = RoleBoth; c.PeerID = "client" }, []string{"peer"}},
		{"both needs per-process file", func(c *Config) { c.Role = RoleBoth; c.Sink = "shared.log" }, []string{"log"}},
		{"both with pid template", func(c *Config) { c.Role = RoleBoth; c.Sink = "logs/{pid}.log" }, nil},
		{"both with shared database", func(c *Config) { c.Role = RoleBoth; c.Sink = "sqlite:trace.db" }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, field := range tt.fields {
				assert.Contains(t, err.Error(), "config: "+field+":")
			}
			var cfgErr *Error
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestConfig_SinkFor(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "serverlogfile.log", cfg.SinkFor("server"))

	cfg.Sink = "logs/{pid}.log"
	assert.Equal(t, "logs/client.log", cfg.SinkFor("client"))

	cfg.Sink = "sqlite:trace.db"
	assert.Equal(t, "sqlite:trace.db", cfg.SinkFor("client"))
}

func TestConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "pid", "client")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"pid":"client"`)

	cfg.LogLevel = "loud"
	_, err = cfg.NewLogger(&buf)
	assert.Error(t, err)

	cfg.LogLevel = "info"
	cfg.LogFormat = "xml"
	_, err = cfg.NewLogger(&buf)
	assert.Error(t, err)
}
