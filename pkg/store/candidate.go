package store

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// Candidate is one persisted, ordinal-indexed node configuration file
// awaiting or having passed health-check. Candidates are immutable; the
// subscription updater creates them and the health-check scheduler removes
// the ones that fail.
type Candidate struct {
	// Ordinal is the two-digit prefix (00-99), unique within the store
	Ordinal int

	// Description is the free-form suffix between the ordinal and ".json"
	Description string

	// Path is the absolute candidate file path
	Path string
}

// candidateFileNameRe matches the candidate file name grammar, the same
// grammar the subscription updater emits
var candidateFileNameRe = regexp.MustCompile(`^(\d\d)-(.*)\.json$`)

// FileName returns the candidate file base name. A candidate that has not
// been resolved against the store has no path yet; its name is then derived
// from the ordinal and description.
func (c Candidate) FileName() string {
	if c.Path == "" {
		return c.String()
	}
	return filepath.Base(c.Path)
}

func (c Candidate) String() string {
	return fmt.Sprintf("%02d-%s.json", c.Ordinal, c.Description)
}

// ParseCandidateFileName parses a file base name against the candidate
// grammar NN-description.json
func ParseCandidateFileName(name string) (ordinal int, description string, ok bool) {
	m := candidateFileNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	ordinal, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return ordinal, m[2], true
}
