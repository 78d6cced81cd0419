// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	// readinessAttempts bounds the socket polling loop. Attempt i sleeps
	// i*100ms first, so the whole wait stays around one second.
	readinessAttempts = 5

	// stopTimeout is how long Stop waits after SIGTERM before escalating
	// to SIGKILL.
	stopTimeout = 5 * time.Second
)

// Config holds what Start needs to launch the forwarder pair.
type Config struct {
	// SocatPath is the socat binary to run.
	SocatPath string

	// HTTPProxyPort and SocksProxyPort are the loopback TCP ports of the
	// filtering proxies on the host.
	HTTPProxyPort  int
	SocksProxyPort int

	// SocketDir is where the Unix sockets are created. Empty means the
	// system temporary directory.
	SocketDir string

	Logger *slog.Logger
}

// Pair is a running bridge: one socat forwarder per proxy.
type Pair struct {
	httpSocketPath  string
	socksSocketPath string
	httpForwarder   *forwarder
	socksForwarder  *forwarder
	logger          *slog.Logger
}

// HTTPSocketPath returns the Unix socket leading to the HTTP proxy.
func (p *Pair) HTTPSocketPath() string { return p.httpSocketPath }

// SocksSocketPath returns the Unix socket leading to the SOCKS5 proxy.
func (p *Pair) SocksSocketPath() string { return p.socksSocketPath }

// Start launches both forwarders and waits for their sockets to appear.
// On any failure both processes are killed and an error is returned: the
// bridge either fully works or does not exist.
func Start(ctx context.Context, config Config) (*Pair, error) {
	socketDir := config.SocketDir
	if socketDir == "" {
		socketDir = os.TempDir()
	}
	id := uuid.NewString()
	httpSocketPath := filepath.Join(socketDir, fmt.Sprintf("enclave-http-%s.sock", id))
	socksSocketPath := filepath.Join(socketDir, fmt.Sprintf("enclave-socks-%s.sock", id))
	return start(ctx, config, httpSocketPath, socksSocketPath)
}

func start(ctx context.Context, config Config, httpSocketPath, socksSocketPath string) (*Pair, error) {
	if config.SocatPath == "" {
		return nil, fmt.Errorf("bridge: socat path is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pair := &Pair{
		httpSocketPath:  httpSocketPath,
		socksSocketPath: socksSocketPath,
		logger:          logger,
	}

	// The forwarders outlive this call; their lifetime is managed by
	// Stop, not by the startup context.
	var group errgroup.Group
	group.Go(func() error {
		f, err := startForwarder(config.SocatPath, httpSocketPath, config.HTTPProxyPort)
		pair.httpForwarder = f
		return err
	})
	group.Go(func() error {
		f, err := startForwarder(config.SocatPath, socksSocketPath, config.SocksProxyPort)
		pair.socksForwarder = f
		return err
	})
	if err := group.Wait(); err != nil {
		pair.kill()
		return nil, err
	}

	if err := pair.awaitSockets(ctx); err != nil {
		pair.kill()
		return nil, err
	}

	logger.Debug("bridge started",
		"http_socket", httpSocketPath,
		"socks_socket", socksSocketPath,
	)
	return pair, nil
}

// forwarder is one socat process plus its exit tracking. The goroutine
// spawned at start is the sole caller of Wait, so the exited channel
// closes as soon as the process dies, zombie or not.
type forwarder struct {
	command *exec.Cmd
	exited  chan struct{}
}

// startForwarder spawns one socat process listening on socketPath and
// forwarding to the given loopback port. Keepalive probes detect a dead
// proxy without waiting for kernel-default timeouts.
func startForwarder(socatPath, socketPath string, port int) (*forwarder, error) {
	listen := fmt.Sprintf("UNIX-LISTEN:%s,fork,reuseaddr", socketPath)
	target := fmt.Sprintf("TCP:localhost:%d,keepalive,keepidle=10,keepintvl=5,keepcnt=3", port)

	command := exec.Command(socatPath, listen, target)
	command.Stdout = nil
	command.Stderr = nil
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("bridge: starting socat for %s: %w", socketPath, err)
	}

	f := &forwarder{
		command: command,
		exited:  make(chan struct{}),
	}
	go func() {
		command.Wait()
		close(f.exited)
	}()
	return f, nil
}

// exitedEarly reports whether the process has already died, without
// blocking.
func (f *forwarder) exitedEarly() bool {
	if f == nil {
		return true
	}
	select {
	case <-f.exited:
		return true
	default:
		return false
	}
}

// kill is the startup-failure path: no grace period.
func (f *forwarder) kill() {
	if f == nil {
		return
	}
	f.command.Process.Kill()
	<-f.exited
}

// stop terminates the process, escalating from SIGTERM to SIGKILL.
func (f *forwarder) stop(logger *slog.Logger) {
	if f == nil {
		return
	}

	f.command.Process.Signal(syscall.SIGTERM)

	select {
	case <-f.exited:
	case <-time.After(stopTimeout):
		logger.Warn("forwarder ignored SIGTERM, killing", "pid", f.command.Process.Pid)
		f.command.Process.Kill()
		<-f.exited
	}
}

// awaitSockets polls until both socket files exist as sockets or the
// attempt budget runs out. A forwarder exiting during the wait fails the
// whole startup.
func (p *Pair) awaitSockets(ctx context.Context) error {
	for attempt := 0; attempt < readinessAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}

		if p.httpForwarder.exitedEarly() || p.socksForwarder.exitedEarly() {
			return fmt.Errorf("bridge: forwarder exited during startup")
		}

		if isSocket(p.httpSocketPath) && isSocket(p.socksSocketPath) {
			p.logger.Debug("bridge sockets ready", "attempts", attempt+1)
			return nil
		}
	}
	return fmt.Errorf("bridge: sockets not ready after %d attempts", readinessAttempts)
}

func isSocket(path string) bool {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return false
	}
	return stat.Mode&unix.S_IFMT == unix.S_IFSOCK
}

// Stop terminates both forwarders, escalating from SIGTERM to SIGKILL,
// and removes the socket files.
func (p *Pair) Stop() {
	p.httpForwarder.stop(p.logger)
	p.socksForwarder.stop(p.logger)
	p.removeSockets()
}

// kill is the startup-failure path: no grace period, no logging of the
// inevitable "signal: killed" errors.
func (p *Pair) kill() {
	for _, f := range []*forwarder{p.httpForwarder, p.socksForwarder} {
		if f != nil {
			f.kill()
		}
	}
	p.removeSockets()
}

func (p *Pair) removeSockets() {
	for _, path := range []string{p.httpSocketPath, p.socksSocketPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("removing bridge socket", "path", path, "error", err)
		}
	}
}
