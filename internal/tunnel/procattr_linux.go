package tunnel

import "syscall"

// sysProcAttr puts the ssh child in its own process group. Pdeathsig is a
// Linux-only safety net: if gpubridge dies unexpectedly, the kernel sends
// SIGTERM to the child so no port-forward outlives us.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
