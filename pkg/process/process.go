package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
)

// Options describes how to spawn one proxy engine instance
type Options struct {
	ExecutablePath   string
	Args             []string
	WorkingDirectory string

	// DiscardOutput routes the child's stdout/stderr to the bit bucket.
	// Probe instances discard; the foreground launcher inherits.
	DiscardOutput bool
}

// Handle owns one spawned proxy engine instance: start, wait, bounded
// terminate, reap. Every code path that leaves the spawning function must
// route through Terminate so a half-started instance is never leaked.
type Handle struct {
	cmd    *exec.Cmd
	done   chan error
	logger logging.Logger
	id     string
}

// Start spawns the process in its own process group
func Start(ctx context.Context, options Options, id string, logger logging.Logger) (*Handle, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("cancelled before process start", err).WithContext("id", id)
	}

	if err := ensureExecutable(options.ExecutablePath); err != nil {
		return nil, errors.NewPermissionError("failed to ensure process is executable", err).
			WithContext("id", id).WithContext("executable_path", options.ExecutablePath)
	}

	workDir := options.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(options.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).
				WithContext("id", id).WithContext("executable_path", options.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Spawning process, id: %s, executable: '%s', args: %v, working directory: '%s'",
		id, options.ExecutablePath, options.Args, workDir)

	cmd := exec.Command(options.ExecutablePath, options.Args...)
	cmd.Dir = workDir
	if options.DiscardOutput {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	// Platform-specific setup is handled in process_unix.go or process_windows.go
	setupProcessAttributes(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).WithContext("executable_path", options.ExecutablePath)
	}

	logger.Debugf("Process started, id: %s, PID: %d", id, cmd.Process.Pid)

	h := &Handle{
		cmd:    cmd,
		done:   make(chan error, 1),
		logger: logger,
		id:     id,
	}
	go func() {
		h.done <- cmd.Wait()
	}()

	return h, nil
}

// Pid returns the child process ID
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Done delivers the process exit result exactly once
func (h *Handle) Done() <-chan error {
	return h.done
}

// Exited reports, without blocking, whether the process has been reaped
func (h *Handle) Exited() bool {
	return h.cmd.ProcessState != nil
}

// ExitCode returns the exit code after the process has been reaped
func (h *Handle) ExitCode() int {
	if h.cmd.ProcessState == nil {
		return -1
	}
	return h.cmd.ProcessState.ExitCode()
}

// Wait blocks until the process exits or the context is cancelled. On
// cancellation the process is terminated before Wait returns.
func (h *Handle) Wait(ctx context.Context, terminateTimeout time.Duration) error {
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-ctx.Done():
		h.Terminate(terminateTimeout)
		return errors.NewCancelledError("wait cancelled", ctx.Err()).WithContext("id", h.id)
	}
}

// Terminate signals the process group to stop, escalates to a forced kill
// after the timeout, and reaps the child. Safe to call after exit and safe
// to call more than once.
func (h *Handle) Terminate(timeout time.Duration) error {
	pid := h.cmd.Process.Pid

	select {
	case err := <-h.done:
		// Already exited and reaped
		h.done <- err
		h.logger.Debugf("Process already exited, id: %s, PID: %d", h.id, pid)
		return nil
	default:
	}

	h.logger.Debugf("Terminating process, id: %s, PID: %d", h.id, pid)

	if err := sendTerminationSignal(pid); err != nil {
		h.logger.Warnf("Failed to signal process group, id: %s, PID: %d, error: %v", h.id, pid, err)
	}

	select {
	case err := <-h.done:
		h.done <- err
		h.logger.Debugf("Process terminated gracefully, id: %s, PID: %d", h.id, pid)
		return nil
	case <-time.After(timeout):
	}

	h.logger.Warnf("Process did not stop within %v, forcing kill, id: %s, PID: %d", timeout, h.id, pid)
	if err := sendKillSignal(pid); err != nil {
		h.logger.Errorf("Failed to kill process group, id: %s, PID: %d, error: %v", h.id, pid, err)
	}

	select {
	case err := <-h.done:
		h.done <- err
		return nil
	case <-time.After(timeout):
		return errors.NewProcessError("process failed to terminate", nil).
			WithContext("id", h.id).WithContext("pid", pid)
	}
}

// ensureExecutable checks that a file exists and is executable, setting the
// execute bits if needed
func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	if runtime.GOOS == "windows" {
		return nil
	}

	mode := info.Mode()
	if mode&0111 != 0 {
		return nil
	}

	if err := os.Chmod(path, mode|0111); err != nil {
		return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
	}

	return nil
}
