//go:build !windows

package launcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debugf(format string, args ...interface{}) { l.t.Logf("DEBUG "+format, args...) }
func (l testLogger) Infof(format string, args ...interface{})  { l.t.Logf("INFO "+format, args...) }
func (l testLogger) Warnf(format string, args ...interface{})  { l.t.Logf("WARN "+format, args...) }
func (l testLogger) Errorf(format string, args ...interface{}) { l.t.Logf("ERROR "+format, args...) }

type fakeResolver struct {
	candidate store.Candidate
	err       error
}

func (r fakeResolver) CurrentSelection() (store.Candidate, error) {
	return r.candidate, r.err
}

// fakeEngine writes a shell script that records its arguments and exits with
// the given code
func fakeEngine(t *testing.T, exitCode int) (binary, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	binary = filepath.Join(dir, "engine")
	argsFile = filepath.Join(dir, "args")
	script := fmt.Sprintf("#!/bin/sh\necho \"$@\" > %s\nexit %d\n", argsFile, exitCode)
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))
	return binary, argsFile
}

func testCandidate(t *testing.T) store.Candidate {
	t.Helper()
	path := filepath.Join(t.TempDir(), "00-node.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"outbounds":[]}`), 0o644))
	return store.Candidate{Ordinal: 0, Description: "node", Path: path}
}

func TestLaunchRunsSelectedCandidate(t *testing.T) {
	binary, argsFile := fakeEngine(t, 0)
	candidate := testCandidate(t)
	l := NewLauncher(Options{
		BinaryPath:       binary,
		Template:         "/opt/v2ray/config.json",
		TerminateTimeout: time.Second,
	}, fakeResolver{candidate: candidate}, testLogger{t})

	code, err := l.Launch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, code)

	recorded, readErr := os.ReadFile(argsFile)
	require.NoError(t, readErr)
	assert.Equal(t, "run -c /opt/v2ray/config.json -c "+candidate.Path+"\n", string(recorded))
}

func TestLaunchPropagatesEngineExitCode(t *testing.T) {
	binary, _ := fakeEngine(t, 7)
	l := NewLauncher(Options{
		BinaryPath:       binary,
		Template:         "/opt/v2ray/config.json",
		TerminateTimeout: time.Second,
	}, fakeResolver{candidate: testCandidate(t)}, testLogger{t})

	code, err := l.Launch(context.Background())

	require.NoError(t, err, "a non-zero engine exit is not a launcher error")
	assert.Equal(t, 7, code)
}

func TestLaunchFailsFastWithoutSelection(t *testing.T) {
	l := NewLauncher(Options{
		BinaryPath:       "/nonexistent/engine",
		TerminateTimeout: time.Second,
	}, fakeResolver{err: errors.NewNotFoundError("selection marker is not set", nil)}, testLogger{t})

	code, err := l.Launch(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, -1, code)
}

func TestLaunchCancellation(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "engine")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	l := NewLauncher(Options{
		BinaryPath:       binary,
		Template:         "/opt/v2ray/config.json",
		TerminateTimeout: 2 * time.Second,
	}, fakeResolver{candidate: testCandidate(t)}, testLogger{t})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := l.Launch(ctx)

	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
	assert.Less(t, time.Since(start), 10*time.Second)
}
