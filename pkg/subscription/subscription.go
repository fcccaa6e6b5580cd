package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

// Config configures the subscription updater
type Config struct {
	// URL is the v2rayN subscription link
	URL string

	// OutputDir is the candidate store directory
	OutputDir string

	// DryRun leaves the disk untouched and only reports what would change
	DryRun bool

	// Timeout bounds the subscription fetch
	Timeout time.Duration
}

// Stats summarizes one update run
type Stats struct {
	Updated int
	Already int
	Deleted int
	Skipped int
}

func (s Stats) String() string {
	return fmt.Sprintf("updated=%d, already=%d, deleted=%d, skipped=%d",
		s.Updated, s.Already, s.Deleted, s.Skipped)
}

// Updater is the config producer: it turns the upstream subscription payload
// into candidate files and removes the candidates the subscription no longer
// carries. It runs before the health-check/selection core.
type Updater struct {
	config Config
	client *http.Client
	logger logging.Logger
}

// NewUpdater creates a subscription updater
func NewUpdater(config Config, logger logging.Logger) *Updater {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Updater{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

var (
	fileNameStripRe    = regexp.MustCompile(`[^\w\s-]`)
	fileNameCollapseRe = regexp.MustCompile(`[-\s]+`)
)

// sanitizeDescription removes the characters unsuitable for a file name and
// collapses whitespace/hyphen runs into single hyphens
func sanitizeDescription(s string) string {
	s = fileNameStripRe.ReplaceAllString(s, "")
	s = fileNameCollapseRe.ReplaceAllString(s, "-")
	return s
}

// Update fetches the subscription, rewrites changed candidate files and
// removes the stale ones
func (u *Updater) Update(ctx context.Context) (*Stats, error) {
	if u.config.URL == "" {
		return nil, errors.NewValidationError("subscription URL cannot be empty", nil)
	}

	if err := os.MkdirAll(u.config.OutputDir, 0755); err != nil {
		return nil, errors.NewIOError("failed to create candidate directory", err).WithContext("dir", u.config.OutputDir)
	}

	nodes, err := u.fetch(ctx)
	if err != nil {
		return nil, err
	}

	dryRunPrefix := ""
	if u.config.DryRun {
		dryRunPrefix = "(dryrun) "
	}

	stats := &Stats{}
	usedNames := make(map[string]bool)

	for idx, n := range nodes {
		cfg := engineConfigForNode(n)
		if cfg == nil {
			stats.Skipped++
			u.logger.Warnf("Skipped unsupported node, type: %s, description: %s", n.Type, n.Description)
			continue
		}

		name := fmt.Sprintf("%02d-%s.json", idx, sanitizeDescription(n.Description))
		path := filepath.Join(u.config.OutputDir, name)
		usedNames[name] = true

		content, err := json.MarshalIndent(cfg, "", "    ")
		if err != nil {
			return nil, errors.NewInternalError("failed to encode candidate config", err).WithContext("name", name)
		}

		existing, readErr := os.ReadFile(path)
		if readErr == nil && string(existing) == string(content) {
			stats.Already++
			u.logger.Debugf("Already up-to-date: %s", name)
			continue
		}

		if !u.config.DryRun {
			if err := os.WriteFile(path, content, 0644); err != nil {
				return nil, errors.NewIOError("failed to write candidate file", err).WithContext("path", path)
			}
		}
		stats.Updated++
		u.logger.Infof("%sUpdated candidate: %s", dryRunPrefix, name)
	}

	// Remove the candidates the subscription no longer carries
	entries, err := os.ReadDir(u.config.OutputDir)
	if err != nil {
		return nil, errors.NewIOError("failed to read candidate directory", err).WithContext("dir", u.config.OutputDir)
	}
	for _, entry := range entries {
		name := entry.Name()
		if _, _, ok := store.ParseCandidateFileName(name); !ok {
			continue
		}
		if usedNames[name] {
			continue
		}
		if !u.config.DryRun {
			if err := os.Remove(filepath.Join(u.config.OutputDir, name)); err != nil {
				u.logger.Warnf("Failed to delete stale candidate %s: %v", name, err)
				continue
			}
		}
		stats.Deleted++
		u.logger.Infof("%sDeleted stale candidate: %s", dryRunPrefix, name)
	}

	u.logger.Infof("Subscription update summary: %s%s", dryRunPrefix, stats)
	return stats, nil
}

// fetch downloads and decodes the subscription payload into parsed nodes
func (u *Updater) fetch(ctx context.Context) ([]*node, error) {
	u.logger.Debugf("Fetching subscription: %s", u.config.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.config.URL, nil)
	if err != nil {
		return nil, errors.NewValidationError("failed to build subscription request", err).WithContext("url", u.config.URL)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, errors.NewNetworkError("failed to fetch subscription", err).WithContext("url", u.config.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewNetworkError(
			fmt.Sprintf("subscription fetch returned status %d", resp.StatusCode),
			nil).WithContext("url", u.config.URL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewIOError("failed to read subscription body", err)
	}

	decoded, err := decodeBase64(string(body))
	if err != nil {
		return nil, errors.NewValidationError("failed to decode subscription payload", err)
	}

	var nodes []*node
	for _, line := range strings.Split(string(decoded), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := parseLine(line)
		if err != nil {
			u.logger.Warnf("Skipping unparsable subscription line: %v", err)
			continue
		}
		nodes = append(nodes, n)
	}

	u.logger.Debugf("Parsed %d subscription nodes", len(nodes))
	return nodes, nil
}
