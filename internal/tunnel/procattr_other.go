//go:build !linux

package tunnel

import "syscall"

// sysProcAttr puts the ssh child in its own process group.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
