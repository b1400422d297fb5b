package it

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vtrace/internal/transport"
)

// Cluster represents a set of vtrace processes started from one binary.
type Cluster struct {
	procs      []*Process
	dir        string
	binaryPath string
	mu         sync.Mutex
}

// Process represents a single running vtrace process.
type Process struct {
	ID      string
	Role    string
	Addr    string
	cmd     *exec.Cmd
	output  *os.File
	done    chan error
	logPath string
}

// NewCluster creates a new harness writing process output and causal logs
// under dir.
func NewCluster(binaryPath, dir string) (*Cluster, error) {
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("binary not found at %s, build it first with 'go build -o vtrace ./cmd/vtrace'", binaryPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Cluster{dir: dir, binaryPath: binaryPath}, nil
}

// Start launches a process. args are appended after the identity flags.
func (c *Cluster) Start(ctx context.Context, id, role, addr string, args ...string) (*Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	output, err := os.Create(filepath.Join(c.dir, id+".out"))
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	logPath := filepath.Join(c.dir, id+"logfile.log")
	cmdArgs := append([]string{
		"--pid", id,
		"--role", role,
		"--log", logPath,
		"--log-level", "debug",
	}, args...)
	if role == "server" {
		cmdArgs = append(cmdArgs, "--listen", addr)
	}

	cmd := exec.CommandContext(ctx, c.binaryPath, cmdArgs...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		output.Close()
		return nil, fmt.Errorf("failed to start %s: %w", id, err)
	}

	p := &Process{
		ID:      id,
		Role:    role,
		Addr:    addr,
		cmd:     cmd,
		output:  output,
		done:    make(chan error, 1),
		logPath: logPath,
	}
	go func() {
		p.done <- cmd.Wait()
	}()

	c.procs = append(c.procs, p)
	return p, nil
}

// WaitForGRPC blocks until a gRPC server process accepts connections.
func (c *Cluster) WaitForGRPC(ctx context.Context, p *Process, timeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cli, err := transport.DialGRPC(dialCtx, p.Addr)
	if err != nil {
		return fmt.Errorf("process %s not ready: %w", p.ID, err)
	}
	return cli.Close()
}

// Wait waits for p to exit.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		if err != nil {
			return fmt.Errorf("process %s exited: %w", p.ID, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Log returns the lines of the causal log written by p.
func (p *Process) Log() ([]string, error) {
	data, err := os.ReadFile(p.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read log of %s: %w", p.ID, err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}

// Output returns everything p wrote to stdout and stderr.
func (p *Process) Output() string {
	data, _ := os.ReadFile(p.output.Name())
	return string(data)
}

// Stop kills p if it is still running.
func (p *Process) Stop() {
	if p.cmd != nil && p.cmd.Process != nil {
		select {
		case <-p.done:
		default:
			p.cmd.Process.Kill()
			<-p.done
		}
	}
	if p.output != nil {
		p.output.Close()
	}
}

// Stop stops all processes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.procs {
		p.Stop()
	}
	c.procs = nil
}
