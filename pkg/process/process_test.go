//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debugf(format string, args ...interface{}) { l.t.Logf("DEBUG "+format, args...) }
func (l testLogger) Infof(format string, args ...interface{})  { l.t.Logf("INFO "+format, args...) }
func (l testLogger) Warnf(format string, args ...interface{})  { l.t.Logf("WARN "+format, args...) }
func (l testLogger) Errorf(format string, args ...interface{}) { l.t.Logf("ERROR "+format, args...) }

func shell(args ...string) Options {
	return Options{
		ExecutablePath: "/bin/sh",
		Args:           append([]string{"-c"}, args...),
		DiscardOutput:  true,
	}
}

func TestStartNilContext(t *testing.T) {
	//nolint:staticcheck
	_, err := Start(nil, shell("true"), "test", testLogger{t})

	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestStartCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Start(ctx, shell("true"), "test", testLogger{t})

	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}

func TestStartMissingExecutable(t *testing.T) {
	options := Options{ExecutablePath: "/nonexistent/engine"}

	_, err := Start(context.Background(), options, "test", testLogger{t})

	require.Error(t, err)
	assert.True(t, errors.IsPermissionError(err))
}

func TestStartSetsExecuteBit(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o644))

	handle, err := Start(context.Background(), Options{ExecutablePath: script, DiscardOutput: true}, "test", testLogger{t})
	require.NoError(t, err)

	require.NoError(t, handle.Wait(context.Background(), time.Second))
	assert.Equal(t, 0, handle.ExitCode())

	info, err := os.Stat(script)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
}

func TestWaitDeliversExitCode(t *testing.T) {
	handle, err := Start(context.Background(), shell("exit 3"), "test", testLogger{t})
	require.NoError(t, err)

	err = handle.Wait(context.Background(), time.Second)

	require.Error(t, err)
	assert.True(t, handle.Exited())
	assert.Equal(t, 3, handle.ExitCode())
}

func TestWaitCancellationTerminates(t *testing.T) {
	handle, err := Start(context.Background(), shell("sleep 30"), "test", testLogger{t})
	require.NoError(t, err)
	pid := handle.Pid()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err = handle.Wait(ctx, 2*time.Second)

	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
	assertProcessGone(t, pid)
}

func TestTerminateGraceful(t *testing.T) {
	handle, err := Start(context.Background(), shell("sleep 30"), "test", testLogger{t})
	require.NoError(t, err)
	pid := handle.Pid()

	require.NoError(t, handle.Terminate(2*time.Second))

	assertProcessGone(t, pid)
}

func TestTerminateSignalsWholeGroup(t *testing.T) {
	// Parent shell forks a grandchild; the group signal must reach both
	handle, err := Start(context.Background(), shell("sleep 30 & wait"), "test", testLogger{t})
	require.NoError(t, err)
	pid := handle.Pid()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, handle.Terminate(2*time.Second))

	assertProcessGone(t, pid)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	handle, err := Start(context.Background(), shell("trap '' TERM; sleep 30"), "test", testLogger{t})
	require.NoError(t, err)
	pid := handle.Pid()

	// Give the trap time to install, then terminate with a short grace
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, handle.Terminate(300*time.Millisecond))

	assertProcessGone(t, pid)
}

func TestTerminateAfterExit(t *testing.T) {
	handle, err := Start(context.Background(), shell("true"), "test", testLogger{t})
	require.NoError(t, err)
	require.NoError(t, handle.Wait(context.Background(), time.Second))

	assert.NoError(t, handle.Terminate(time.Second))
	assert.NoError(t, handle.Terminate(time.Second))
}

func TestDoneSignalsExit(t *testing.T) {
	handle, err := Start(context.Background(), shell("true"), "test", testLogger{t})
	require.NoError(t, err)

	select {
	case err := <-handle.Done():
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
}

// assertProcessGone polls briefly; the kill signal is asynchronous
func assertProcessGone(t *testing.T, pid int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, 0) != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process %d is still alive", pid)
}
