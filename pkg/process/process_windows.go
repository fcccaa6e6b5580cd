//go:build windows

package process

import (
	"os"
	"os/exec"
)

func setupProcessAttributes(cmd *exec.Cmd) {
	// No process group handling on Windows; termination kills the direct
	// child only
}

func sendTerminationSignal(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func sendKillSignal(pid int) error {
	return sendTerminationSignal(pid)
}
