package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeSettingsFile(t, `
subscription_url: "https://example.com/sub"
config_dir: "/etc/v2rayn/configs"
binary_dir: "/opt/v2ray"
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/sub", s.SubscriptionURL)
	assert.Equal(t, DefaultBinaryName, s.BinaryName)
	assert.Equal(t, filepath.Join("/opt/v2ray", "config.json"), s.Template)
	assert.Equal(t, DefaultProbeURL, s.Probe.URL)
	assert.Equal(t, DefaultProbeTimeout, s.Probe.Timeout)
	assert.Equal(t, DefaultWarmup, s.Probe.Warmup)
	assert.Equal(t, DefaultAttemptTimeout, s.Probe.AttemptTimeout)
	assert.Equal(t, DefaultMaxAttempts, s.Probe.MaxAttempts)
	assert.Equal(t, DefaultPortMin, s.Probe.PortMin)
	assert.Equal(t, DefaultPortMax, s.Probe.PortMax)
	assert.Equal(t, DefaultConcurrency, s.Probe.Concurrency)
	assert.Equal(t, DefaultTerminateTimeout, s.Probe.TerminateTimeout)
}

func TestLoadExplicitValuesKept(t *testing.T) {
	path := writeSettingsFile(t, `
config_dir: "/etc/v2rayn/configs"
binary_dir: "/opt/v2ray"
binary_name: "xray"
template: "/opt/v2ray/base.json"
probe:
  url: "http://example.com/ping"
  timeout: 3s
  warmup: 500ms
  max_attempts: 5
  port_min: 21000
  port_max: 22000
  concurrency: 8
`)

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "xray", s.BinaryName)
	assert.Equal(t, "/opt/v2ray/base.json", s.Template)
	assert.Equal(t, "http://example.com/ping", s.Probe.URL)
	assert.Equal(t, 3*time.Second, s.Probe.Timeout)
	assert.Equal(t, 500*time.Millisecond, s.Probe.Warmup)
	assert.Equal(t, 5, s.Probe.MaxAttempts)
	assert.Equal(t, 21000, s.Probe.PortMin)
	assert.Equal(t, 22000, s.Probe.PortMax)
	assert.Equal(t, 8, s.Probe.Concurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/settings.yaml")

	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeSettingsFile(t, "config_dir: [unclosed")

	_, err := Load(path)

	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestBinaryAndMarkerPaths(t *testing.T) {
	s := &Settings{BinaryDir: "/opt/v2ray", BinaryName: "v2ray"}

	assert.Equal(t, filepath.Join("/opt/v2ray", "v2ray"), s.BinaryPath())
	assert.Equal(t, filepath.Join("/opt/v2ray", "last"), s.SelectionMarkerPath())
}

func TestValidate(t *testing.T) {
	configDir := t.TempDir()
	binaryDir := t.TempDir()
	template := filepath.Join(binaryDir, "config.json")
	require.NoError(t, os.WriteFile(template, []byte("{}"), 0o644))

	valid := func() *Settings {
		s := &Settings{
			ConfigDir: configDir,
			BinaryDir: binaryDir,
			Template:  template,
		}
		setDefaults(s)
		return s
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(s *Settings) {}, false},
		{"nil probe url", func(s *Settings) { s.Probe.URL = "" }, true},
		{"missing config dir", func(s *Settings) { s.ConfigDir = "/nonexistent" }, true},
		{"empty config dir", func(s *Settings) { s.ConfigDir = "" }, true},
		{"config dir is a file", func(s *Settings) { s.ConfigDir = template }, true},
		{"missing binary dir", func(s *Settings) { s.BinaryDir = "/nonexistent" }, true},
		{"missing template", func(s *Settings) { s.Template = filepath.Join(binaryDir, "absent.json") }, true},
		{"empty template", func(s *Settings) { s.Template = "" }, true},
		{"zero timeout", func(s *Settings) { s.Probe.Timeout = 0 }, true},
		{"negative warmup", func(s *Settings) { s.Probe.Warmup = -time.Second }, true},
		{"zero attempts", func(s *Settings) { s.Probe.MaxAttempts = 0 }, true},
		{"zero concurrency", func(s *Settings) { s.Probe.Concurrency = 0 }, true},
		{"inverted port range", func(s *Settings) { s.Probe.PortMin = 30000; s.Probe.PortMax = 20000 }, true},
		{"port out of range", func(s *Settings) { s.Probe.PortMin = 70000 }, true},
		{"kernel-assigned ports", func(s *Settings) { s.Probe.PortMin = 0; s.Probe.PortMax = 0 }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := valid()
			tc.mutate(s)
			err := Validate(s)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNilSettings(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}
