package settings

import (
	"net/url"
	"os"
	"time"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
)

// Validate checks the settings for the fatal configuration errors that must
// stop the run before any probing or selection work starts
func Validate(s *Settings) error {
	if s == nil {
		return errors.NewValidationError("settings cannot be nil", nil)
	}

	if err := validateDirectory(s.ConfigDir, "config_dir"); err != nil {
		return err
	}

	if err := validateDirectory(s.BinaryDir, "binary_dir"); err != nil {
		return err
	}

	if s.Template == "" {
		return errors.NewValidationError("template cannot be empty", nil)
	}
	if _, err := os.Stat(s.Template); err != nil {
		return errors.NewValidationError("template file does not exist", err).WithContext("template", s.Template)
	}

	if err := ValidateProbeOptions(&s.Probe); err != nil {
		return errors.NewValidationError("invalid probe options", err)
	}

	return nil
}

// ValidateProbeOptions validates the health-check engine configuration
func ValidateProbeOptions(p *ProbeOptions) error {
	if _, err := url.Parse(p.URL); err != nil || p.URL == "" {
		return errors.NewValidationError("probe URL is not a valid URL", err).WithContext("url", p.URL)
	}

	if err := validateTimeout(p.Timeout, "probe request"); err != nil {
		return err
	}
	if err := validateTimeout(p.AttemptTimeout, "probe attempt watchdog"); err != nil {
		return err
	}
	if err := validateTimeout(p.TerminateTimeout, "terminate"); err != nil {
		return err
	}
	if p.Warmup < 0 {
		return errors.NewValidationError("warmup cannot be negative", nil)
	}

	if p.MaxAttempts <= 0 {
		return errors.NewValidationError("max_attempts must be positive", nil)
	}

	if err := ValidatePortRange(p.PortMin, p.PortMax); err != nil {
		return err
	}

	if p.Concurrency <= 0 {
		return errors.NewValidationError("concurrency must be positive", nil)
	}

	return nil
}

// ValidatePortRange validates the ephemeral listener port range. Both zero
// means a kernel-assigned port and is allowed.
func ValidatePortRange(min, max int) error {
	if min == 0 && max == 0 {
		return nil
	}
	if min <= 0 || min > 65535 {
		return errors.NewValidationError("port_min must be between 1 and 65535", nil)
	}
	if max <= 0 || max > 65535 {
		return errors.NewValidationError("port_max must be between 1 and 65535", nil)
	}
	if min > max {
		return errors.NewValidationError("port_min cannot exceed port_max", nil)
	}
	return nil
}

func validateDirectory(dir, name string) error {
	if dir == "" {
		return errors.NewValidationError(name+" cannot be empty", nil)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errors.NewValidationError(name+" does not exist", err).WithContext(name, dir)
	}
	if !info.IsDir() {
		return errors.NewValidationError(name+" is not a directory", nil).WithContext(name, dir)
	}
	return nil
}

func validateTimeout(timeout time.Duration, name string) error {
	if timeout <= 0 {
		return errors.NewValidationError(name+" timeout must be positive", nil)
	}
	return nil
}
