//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup puts the simulator in its own process group so
// termination reaches dbt workers and other children it spawns.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalTerminate delivers SIGTERM to the whole group, falling back to the
// main process when the group lookup fails.
func signalTerminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		if syscall.Kill(-pgid, syscall.SIGTERM) == nil {
			return
		}
	}
	cmd.Process.Signal(syscall.SIGTERM)
}

// killProcessTree hard-kills the group, then the main process as a fallback.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
	cmd.Process.Kill()
}
