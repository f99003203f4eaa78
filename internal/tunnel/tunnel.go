// Package tunnel manages SSH port-forwards to services on the remote GPU
// machine. Each tunnel wraps one ssh child process; the registry hands out
// local endpoints and recycles tunnels whose process has died.
package tunnel

import (
	"fmt"
	"net"
	"os/exec"
	"syscall"
	"time"
)

const (
	// readyPollInterval is how often the local port is probed during startup
	readyPollInterval = 100 * time.Millisecond

	// closeGrace is how long a SIGTERM'd process gets before SIGKILL
	closeGrace = 500 * time.Millisecond
)

// ServiceSpec describes one port-forward to a remote service.
type ServiceSpec struct {
	// Name is the logical service name, e.g. "ollama" or "comfyui"
	Name string

	// Destination is the ssh target, user@host
	Destination string

	// LocalPort is the local listening port
	LocalPort int

	// RemotePort is the service port on the remote machine
	RemotePort int

	// SSHKey is an optional identity file
	SSHKey string
}

// SpawnFunc builds the forwarding command for a spec. Tests inject a fake
// so no real ssh binary is needed.
type SpawnFunc func(spec ServiceSpec) *exec.Cmd

// sshCommand builds the real ssh invocation. Host key prompts are disabled
// so a trust problem fails fast instead of hanging; keepalives let the SSH
// layer notice dead peers on its own.
func sshCommand(spec ServiceSpec) *exec.Cmd {
	args := []string{
		"-N",
		"-L", fmt.Sprintf("%d:localhost:%d", spec.LocalPort, spec.RemotePort),
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "ServerAliveInterval=30",
		"-o", "ServerAliveCountMax=3",
		"-o", "ExitOnForwardFailure=yes",
	}
	if spec.SSHKey != "" {
		args = append(args, "-i", spec.SSHKey)
	}
	args = append(args, spec.Destination)

	cmd := exec.Command("ssh", args...)
	// Fire-and-forget child: no IPC over pipes
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = sysProcAttr()
	return cmd
}

// Tunnel is one live SSH port-forward. The registry owns tunnels; anyone
// who calls Open directly must arrange for Close on every exit path.
type Tunnel struct {
	name       string
	localPort  int
	remotePort int
	cmd        *exec.Cmd
	done       chan struct{}
}

// Open spawns the forwarding process for the given spec. Spawn failure is
// fatal and reported immediately; use WaitReady to learn when the forward
// is actually usable.
func Open(spec ServiceSpec) (*Tunnel, error) {
	return openWith(spec, sshCommand)
}

func openWith(spec ServiceSpec, spawn SpawnFunc) (*Tunnel, error) {
	cmd := spawn(spec)
	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Op: "spawn", Err: err}
	}

	t := &Tunnel{
		name:       spec.Name,
		localPort:  spec.LocalPort,
		remotePort: spec.RemotePort,
		cmd:        cmd,
		done:       make(chan struct{}),
	}

	// Single reaper goroutine owns Wait; everyone else watches done.
	go func() {
		_ = cmd.Wait()
		close(t.done)
	}()

	return t, nil
}

// LocalURL returns the local HTTP endpoint for the forwarded service.
func (t *Tunnel) LocalURL() string {
	return fmt.Sprintf("http://localhost:%d", t.localPort)
}

// LocalPort returns the local listening port.
func (t *Tunnel) LocalPort() int {
	return t.localPort
}

// RemotePort returns the forwarded port on the remote machine.
func (t *Tunnel) RemotePort() int {
	return t.remotePort
}

// Name returns the logical service name.
func (t *Tunnel) Name() string {
	return t.name
}

// Alive reports whether the forwarding process is still running. A tunnel
// whose process has exited is permanently dead.
func (t *Tunnel) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// WaitReady polls the local port until it accepts a TCP connection, the
// process dies, or the timeout elapses. ssh gives no explicit "forward
// established" signal, so a raw connect is the only readiness check that
// works. On timeout or process death the child is terminated before
// returning, never leaked.
func (t *Tunnel) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("127.0.0.1:%d", t.localPort)

	for time.Now().Before(deadline) {
		if !t.Alive() {
			t.Close()
			return &ProcessError{Op: "startup", Err: fmt.Errorf("ssh exited before the forward came up")}
		}

		conn, err := net.DialTimeout("tcp", addr, readyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}

	t.Close()
	return ErrReadinessTimeout
}

// Close terminates the forwarding process: SIGTERM first, a short grace
// window, then SIGKILL, and waits for the reaper to collect it. Safe to
// call multiple times and on an already-dead tunnel.
func (t *Tunnel) Close() {
	select {
	case <-t.done:
		return
	default:
	}

	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-t.done:
		return
	case <-time.After(closeGrace):
	}

	_ = t.cmd.Process.Kill()
	<-t.done
}
