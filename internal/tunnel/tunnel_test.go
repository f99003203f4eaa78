package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"testing"
	"time"
)

// sleeperSpawn returns a command that stays alive without listening anywhere.
func sleeperSpawn(ServiceSpec) *exec.Cmd {
	return exec.Command("sleep", "60")
}

// exitingSpawn returns a command that exits immediately.
func exitingSpawn(ServiceSpec) *exec.Cmd {
	return exec.Command("true")
}

// listeningSpawn opens a real TCP listener on the tunnel's local port so
// WaitReady succeeds, and keeps a sleeper child as the "ssh" process.
func listeningSpawn(t *testing.T) SpawnFunc {
	t.Helper()
	return func(spec ServiceSpec) *exec.Cmd {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", spec.LocalPort))
		if err != nil {
			t.Fatalf("Failed to open test listener on port %d: %v", spec.LocalPort, err)
		}
		t.Cleanup(func() { ln.Close() })
		return exec.Command("sleep", "60")
	}
}

func testSpec(port int) ServiceSpec {
	return ServiceSpec{
		Name:        "test",
		Destination: "user@example.invalid",
		LocalPort:   port,
		RemotePort:  8188,
	}
}

func TestOpenSpawnFailure(t *testing.T) {
	_, err := openWith(testSpec(19900), func(ServiceSpec) *exec.Cmd {
		return exec.Command("/nonexistent/ssh-binary")
	})
	if err == nil {
		t.Fatal("Expected spawn failure")
	}
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProcessError, got %T: %v", err, err)
	}
}

func TestAliveTracksProcessExit(t *testing.T) {
	tn, err := openWith(testSpec(19901), exitingSpawn)
	if err != nil {
		t.Fatalf("openWith failed: %v", err)
	}
	defer tn.Close()

	// The child exits immediately; the reaper should notice
	deadline := time.Now().Add(2 * time.Second)
	for tn.Alive() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tn.Alive() {
		t.Error("Tunnel should be dead after its process exited")
	}
}

func TestWaitReadyTimeoutTerminatesProcess(t *testing.T) {
	tn, err := openWith(testSpec(19902), sleeperSpawn)
	if err != nil {
		t.Fatalf("openWith failed: %v", err)
	}

	err = tn.WaitReady(300 * time.Millisecond)
	if err != ErrReadinessTimeout {
		t.Fatalf("Expected ErrReadinessTimeout, got %v", err)
	}

	// The child must have been terminated before WaitReady returned
	if tn.Alive() {
		t.Error("Tunnel process leaked after readiness timeout")
	}
}

func TestWaitReadyFailsFastWhenProcessDies(t *testing.T) {
	tn, err := openWith(testSpec(19903), exitingSpawn)
	if err != nil {
		t.Fatalf("openWith failed: %v", err)
	}

	start := time.Now()
	err = tn.WaitReady(10 * time.Second)
	if err == nil {
		t.Fatal("Expected an error from WaitReady")
	}
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProcessError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("WaitReady should fail fast on process death, took %v", elapsed)
	}
}

func TestWaitReadySucceedsOnceConnectable(t *testing.T) {
	port := 19904
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("Failed to open listener: %v", err)
	}
	defer ln.Close()

	tn, err := openWith(testSpec(port), sleeperSpawn)
	if err != nil {
		t.Fatalf("openWith failed: %v", err)
	}
	defer tn.Close()

	if err := tn.WaitReady(2 * time.Second); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if !tn.Alive() {
		t.Error("Tunnel should still be alive after readiness")
	}
	if got := tn.LocalURL(); got != fmt.Sprintf("http://localhost:%d", port) {
		t.Errorf("Unexpected local URL: %s", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tn, err := openWith(testSpec(19905), sleeperSpawn)
	if err != nil {
		t.Fatalf("openWith failed: %v", err)
	}

	tn.Close()
	if tn.Alive() {
		t.Error("Tunnel should be dead after Close")
	}
	// Second close must not panic or block
	tn.Close()
}
