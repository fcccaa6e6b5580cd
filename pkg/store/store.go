package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
)

// Store is the candidate file directory plus the current-selection marker.
// Candidates are read-only to the store's consumers; the store itself only
// enumerates, deletes and repoints.
type Store struct {
	dir        string
	markerPath string
	logger     logging.Logger
}

// NewStore creates a store over the candidate directory. markerPath is the
// current-selection symlink (conventionally "last" inside the proxy engine
// binary directory).
func NewStore(dir, markerPath string, logger logging.Logger) *Store {
	return &Store{
		dir:        dir,
		markerPath: markerPath,
		logger:     logger,
	}
}

// Dir returns the candidate directory
func (s *Store) Dir() string {
	return s.dir
}

// List enumerates the candidates sorted by ordinal. At most one candidate
// per ordinal may exist; a duplicate ordinal is a conflict error.
func (s *Store) List() ([]Candidate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewIOError("failed to read candidate directory", err).WithContext("dir", s.dir)
	}

	byOrdinal := make(map[int]Candidate)
	var candidates []Candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ordinal, description, ok := ParseCandidateFileName(entry.Name())
		if !ok {
			s.logger.Debugf("Skipping non-candidate file: %s", entry.Name())
			continue
		}
		candidate := Candidate{
			Ordinal:     ordinal,
			Description: description,
			Path:        filepath.Join(s.dir, entry.Name()),
		}
		if prev, exists := byOrdinal[ordinal]; exists {
			return nil, errors.NewConflictError(
				fmt.Sprintf("duplicate candidate ordinal %02d", ordinal),
				nil).WithContext("first", prev.FileName()).WithContext("second", candidate.FileName())
		}
		byOrdinal[ordinal] = candidate
		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Ordinal < candidates[j].Ordinal
	})

	return candidates, nil
}

// Remove deletes a candidate file
func (s *Store) Remove(c Candidate) error {
	s.logger.Infof("Removing candidate: %s", c.FileName())
	if err := os.Remove(c.Path); err != nil {
		return errors.NewIOError("failed to remove candidate file", err).WithContext("path", c.Path)
	}
	return nil
}

// CurrentSelection resolves the selection marker. It returns a not-found
// error both when the marker was never set and when its target candidate no
// longer exists; callers decide whether that is fatal.
func (s *Store) CurrentSelection() (Candidate, error) {
	target, err := os.Readlink(s.markerPath)
	if err != nil {
		return Candidate{}, errors.NewNotFoundError("selection marker is not set", err).WithContext("marker", s.markerPath)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(s.markerPath), target)
	}

	if _, err := os.Stat(target); err != nil {
		return Candidate{}, errors.NewNotFoundError("selection marker target no longer exists", err).
			WithContext("marker", s.markerPath).WithContext("target", target)
	}

	ordinal, description, ok := ParseCandidateFileName(filepath.Base(target))
	if !ok {
		return Candidate{}, errors.NewValidationError("selection marker target is not a candidate file", nil).
			WithContext("target", target)
	}

	return Candidate{
		Ordinal:     ordinal,
		Description: description,
		Path:        target,
	}, nil
}

// SetCurrentSelection atomically repoints the selection marker at the given
// candidate. The marker is created under a temporary name in the same
// directory and renamed over the old one, so a concurrent reader never
// observes a missing or half-written marker.
func (s *Store) SetCurrentSelection(c Candidate) error {
	absTarget, err := filepath.Abs(c.Path)
	if err != nil {
		return errors.NewIOError("failed to resolve candidate path", err).WithContext("path", c.Path)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", s.markerPath, os.Getpid())
	if err := os.Symlink(absTarget, tmpPath); err != nil {
		return errors.NewIOError("failed to create selection marker", err).
			WithContext("marker", s.markerPath).WithContext("target", absTarget)
	}

	if err := os.Rename(tmpPath, s.markerPath); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to repoint selection marker", err).
			WithContext("marker", s.markerPath).WithContext("target", absTarget)
	}

	s.logger.Infof("Selection marker now points at %s", c.FileName())
	return nil
}
