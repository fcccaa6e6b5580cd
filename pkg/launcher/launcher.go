package launcher

import (
	"context"
	"time"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/process"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

// SelectionResolver is the slice of the config store the launcher needs
type SelectionResolver interface {
	CurrentSelection() (store.Candidate, error)
}

// Options configures the foreground launch
type Options struct {
	// BinaryPath is the proxy engine executable
	BinaryPath string

	// Template is the base configuration; the selected candidate's outbound
	// settings are layered on top via the engine's config merge
	Template string

	// TerminateTimeout bounds teardown when the launch context is cancelled
	TerminateTimeout time.Duration
}

// Launcher starts the real, long-running proxy engine process against the
// current selection. This is the only component that hands control to a
// foreground process.
type Launcher struct {
	options Options
	store   SelectionResolver
	logger  logging.Logger
}

// NewLauncher creates a launcher
func NewLauncher(options Options, store SelectionResolver, logger logging.Logger) *Launcher {
	return &Launcher{
		options: options,
		store:   store,
		logger:  logger,
	}
}

// Launch resolves the current selection, runs the engine in the foreground
// and returns its exit code. It fails fast, before spawning anything, if the
// selection does not resolve.
func (l *Launcher) Launch(ctx context.Context) (int, error) {
	selected, err := l.store.CurrentSelection()
	if err != nil {
		return -1, err
	}

	l.logger.Infof("Launching proxy engine with candidate %s", selected.FileName())

	handle, err := process.Start(ctx, process.Options{
		ExecutablePath: l.options.BinaryPath,
		Args:           []string{"run", "-c", l.options.Template, "-c", selected.Path},
	}, "launch", l.logger)
	if err != nil {
		return -1, err
	}

	if err := handle.Wait(ctx, l.options.TerminateTimeout); err != nil {
		if errors.IsCancelledError(err) {
			return handle.ExitCode(), err
		}
		// A non-zero engine exit is not a launcher failure; the exit status
		// becomes the system's exit status
		l.logger.Infof("Proxy engine exited: %v", err)
	}

	return handle.ExitCode(), nil
}
