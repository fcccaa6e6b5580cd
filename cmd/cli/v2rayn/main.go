package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/timlu1024/v2rayN-linux/pkg/launcher"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/portalloc"
	"github.com/timlu1024/v2rayN-linux/pkg/probe"
	"github.com/timlu1024/v2rayN-linux/pkg/scheduler"
	"github.com/timlu1024/v2rayN-linux/pkg/selection"
	"github.com/timlu1024/v2rayN-linux/pkg/settings"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
	"github.com/timlu1024/v2rayN-linux/pkg/subscription"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Update   bool `short:"u" long:"update" description:"update candidates from the subscription"`
	DryRun   bool `long:"dry-run" description:"with -u, report subscription changes without touching the disk"`
	Test     bool `short:"t" long:"test" description:"health-check all candidates and prune the failing ones"`
	Choose   bool `short:"c" long:"choose" description:"choose the active candidate (prompts for an index)"`
	NoLaunch bool `short:"n" long:"no-launch" description:"do not launch the proxy engine"`

	Args struct {
		Settings string `positional-arg-name:"settings" description:"alternate settings file path"`
	} `positional-args:"yes"`
}

func logPrefix(component string) string {
	return fmt.Sprintf("component: %s , ", component)
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(home, ".config", "v2rayn", "settings.yaml")
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts flagOptions
	parser := flags.NewParser(&opts, flags.HelpFlag)
	rest, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Command line flags parsing failed: %v\n", err)
		parser.WriteHelp(os.Stderr)
		return 1
	}
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected arguments: %v\n", rest)
		parser.WriteHelp(os.Stderr)
		return 1
	}

	settingsPath := opts.Args.Settings
	if settingsPath == "" {
		settingsPath = defaultSettingsPath()
	}

	s, err := settings.Load(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load settings: %v\n", err)
		return 1
	}

	logger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:  s.LogLevel,
		Format: "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}

	if err := settings.Validate(s); err != nil {
		logger.Errorf("Invalid settings: %v", err)
		return 1
	}

	// Operator interrupt cancels the run; in-flight probes still run their
	// cleanup before we exit
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.Update {
		updater := subscription.NewUpdater(subscription.Config{
			URL:       s.SubscriptionURL,
			OutputDir: s.ConfigDir,
			DryRun:    opts.DryRun,
		}, logging.NewPrefixLogger(logPrefix("subscription"), logger))
		if _, err := updater.Update(ctx); err != nil {
			logger.Errorf("Subscription update failed: %v", err)
			return 1
		}
	}

	st := store.NewStore(s.ConfigDir, s.SelectionMarkerPath(), logging.NewPrefixLogger(logPrefix("store"), logger))

	candidates, err := st.List()
	if err != nil {
		logger.Errorf("Failed to enumerate candidates: %v", err)
		return 1
	}

	if opts.Test {
		runner := probe.NewRunner(probe.Options{
			BinaryPath:       s.BinaryPath(),
			URL:              s.Probe.URL,
			Timeout:          s.Probe.Timeout,
			Warmup:           s.Probe.Warmup,
			AttemptTimeout:   s.Probe.AttemptTimeout,
			TerminateTimeout: s.Probe.TerminateTimeout,
			MaxAttempts:      s.Probe.MaxAttempts,
		}, portalloc.NewAllocator(s.Probe.PortMin, s.Probe.PortMax), logging.NewPrefixLogger(logPrefix("probe"), logger))

		sched := scheduler.New(st, runner, s.Probe.Concurrency, logging.NewPrefixLogger(logPrefix("scheduler"), logger))
		candidates, err = sched.Run(ctx, candidates)
		if err != nil {
			logger.Errorf("Health-check aborted: %v", err)
			return 1
		}
	}

	if opts.Choose || !opts.NoLaunch {
		var requested *int
		if opts.Choose {
			index, err := promptForIndex(candidates)
			if err != nil {
				logger.Errorf("Selection aborted: %v", err)
				return 1
			}
			requested = &index
		}

		manager := selection.NewManager(st, logging.NewPrefixLogger(logPrefix("selection"), logger))
		applied, err := manager.Select(candidates, requested)
		if err != nil {
			logger.Errorf("Selection failed: %v", err)
			return 1
		}
		fmt.Printf("Active candidate: %s\n", applied.FileName())
	}

	if opts.NoLaunch {
		return 0
	}

	l := launcher.NewLauncher(launcher.Options{
		BinaryPath:       s.BinaryPath(),
		Template:         s.Template,
		TerminateTimeout: s.Probe.TerminateTimeout,
	}, st, logging.NewPrefixLogger(logPrefix("launcher"), logger))

	exitCode, err := l.Launch(ctx)
	if err != nil {
		logger.Errorf("Launch ended: %v", err)
		if exitCode < 0 {
			return 1
		}
	}
	return exitCode
}

// promptForIndex lists the surviving candidates and reads an ordinal from
// stdin
func promptForIndex(candidates []store.Candidate) (int, error) {
	if len(candidates) == 0 {
		return 0, fmt.Errorf("no candidates available")
	}

	fmt.Println("Available candidates:")
	for _, candidate := range candidates {
		fmt.Printf("  %02d  %s\n", candidate.Ordinal, candidate.FileName())
	}
	fmt.Print("Select candidate index: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("failed to read selection: %w", err)
	}

	index, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("selection is not a number: %w", err)
	}

	return index, nil
}
