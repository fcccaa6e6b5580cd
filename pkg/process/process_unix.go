//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes configures Unix-specific process attributes.
// The child gets its own process group so termination signals reach the
// entire process tree, not just the direct child.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// sendTerminationSignal sends SIGTERM to the process group (negative PID)
func sendTerminationSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// sendKillSignal sends SIGKILL to the process group
func sendKillSignal(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
