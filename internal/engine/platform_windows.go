//go:build windows

package engine

import (
	"fmt"
	"os/exec"
	"syscall"
)

// setupProcessGroup hides the console window. Windows has no process groups
// in the Unix sense; tree control goes through taskkill below.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// signalTerminate asks the process tree to close without forcing.
func signalTerminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := kill.Run(); err != nil {
		cmd.Process.Signal(syscall.SIGTERM)
	}
}

// killProcessTree force-kills the tree, then the main process as a fallback.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	kill := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := kill.Run(); err != nil {
		cmd.Process.Kill()
	}
}
