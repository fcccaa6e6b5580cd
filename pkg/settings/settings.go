package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Settings is the top-level configuration file structure. It is constructed
// once at startup and passed by reference into each component; nothing reads
// ambient global state.
type Settings struct {
	// SubscriptionURL is the v2rayN subscription link consumed by the updater
	SubscriptionURL string `yaml:"subscription_url"`

	// ConfigDir is the candidate store directory (NN-description.json files)
	ConfigDir string `yaml:"config_dir"`

	// BinaryDir is the proxy engine directory; the "last" selection marker
	// lives here
	BinaryDir string `yaml:"binary_dir"`

	// BinaryName is the proxy engine executable name inside BinaryDir
	BinaryName string `yaml:"binary_name,omitempty"`

	// Template is the base configuration merged under the selected candidate
	// at launch
	Template string `yaml:"template,omitempty"`

	LogLevel string `yaml:"log_level,omitempty"`

	Probe ProbeOptions `yaml:"probe,omitempty"`
}

// ProbeOptions configures the health-check engine
type ProbeOptions struct {
	// URL is the external endpoint fetched through each candidate's tunnel
	URL string `yaml:"url,omitempty"`

	// Timeout bounds the HTTP request of a single attempt
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Warmup is the wait between engine spawn and the first request; the
	// engine does not signal readiness synchronously
	Warmup time.Duration `yaml:"warmup,omitempty"`

	// AttemptTimeout is the watchdog over a whole attempt (spawn + warmup +
	// request + teardown), independent of Timeout
	AttemptTimeout time.Duration `yaml:"attempt_timeout,omitempty"`

	// MaxAttempts is the per-candidate retry cap
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// PortMin/PortMax bound the ephemeral SOCKS listener port range.
	// Both zero means a kernel-assigned free port.
	PortMin int `yaml:"port_min,omitempty"`
	PortMax int `yaml:"port_max,omitempty"`

	// Concurrency caps the number of candidates probed in parallel
	Concurrency int `yaml:"concurrency,omitempty"`

	// TerminateTimeout bounds the SIGTERM-then-SIGKILL teardown of one
	// ephemeral engine instance
	TerminateTimeout time.Duration `yaml:"terminate_timeout,omitempty"`
}

const (
	DefaultBinaryName       = "v2ray"
	DefaultProbeURL         = "http://connectivitycheck.gstatic.com/generate_204"
	DefaultProbeTimeout     = 10 * time.Second
	DefaultWarmup           = 2 * time.Second
	DefaultAttemptTimeout   = 30 * time.Second
	DefaultMaxAttempts      = 3
	DefaultPortMin          = 20000
	DefaultPortMax          = 40000
	DefaultConcurrency      = 4
	DefaultTerminateTimeout = 5 * time.Second

	// SelectionMarkerName is the symlink inside BinaryDir that names the
	// active candidate
	SelectionMarkerName = "last"
)

// Load reads settings from a YAML file and applies defaults
func Load(filename string) (*Settings, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read settings file", err).WithContext("filename", filename)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML settings", err).WithContext("filename", filename)
	}

	setDefaults(&s)

	return &s, nil
}

func setDefaults(s *Settings) {
	if s.BinaryName == "" {
		s.BinaryName = DefaultBinaryName
	}
	if s.Template == "" && s.BinaryDir != "" {
		s.Template = filepath.Join(s.BinaryDir, "config.json")
	}
	if s.Probe.URL == "" {
		s.Probe.URL = DefaultProbeURL
	}
	if s.Probe.Timeout == 0 {
		s.Probe.Timeout = DefaultProbeTimeout
	}
	if s.Probe.Warmup == 0 {
		s.Probe.Warmup = DefaultWarmup
	}
	if s.Probe.AttemptTimeout == 0 {
		s.Probe.AttemptTimeout = DefaultAttemptTimeout
	}
	if s.Probe.MaxAttempts == 0 {
		s.Probe.MaxAttempts = DefaultMaxAttempts
	}
	if s.Probe.PortMin == 0 && s.Probe.PortMax == 0 {
		s.Probe.PortMin = DefaultPortMin
		s.Probe.PortMax = DefaultPortMax
	}
	if s.Probe.Concurrency == 0 {
		s.Probe.Concurrency = DefaultConcurrency
	}
	if s.Probe.TerminateTimeout == 0 {
		s.Probe.TerminateTimeout = DefaultTerminateTimeout
	}
}

// BinaryPath returns the proxy engine executable path
func (s *Settings) BinaryPath() string {
	return filepath.Join(s.BinaryDir, s.BinaryName)
}

// SelectionMarkerPath returns the path of the current-selection symlink
func (s *Settings) SelectionMarkerPath() string {
	return filepath.Join(s.BinaryDir, SelectionMarkerName)
}
