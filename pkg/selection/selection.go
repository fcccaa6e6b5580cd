package selection

import (
	"fmt"
	"strings"

	"github.com/timlu1024/v2rayN-linux/pkg/errors"
	"github.com/timlu1024/v2rayN-linux/pkg/logging"
	"github.com/timlu1024/v2rayN-linux/pkg/store"
)

// SelectionStore is the slice of the config store the manager needs
type SelectionStore interface {
	CurrentSelection() (store.Candidate, error)
	SetCurrentSelection(c store.Candidate) error
}

// Manager applies a selection to the current-selection marker. The marker is
// only ever repointed atomically and is left untouched on every error path.
type Manager struct {
	store  SelectionStore
	logger logging.Logger
}

// NewManager creates a selection manager
func NewManager(store SelectionStore, logger logging.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Select resolves the requested ordinal against the surviving candidate set
// and repoints the marker. With no requested ordinal the existing selection
// is reused unchanged; an unset or dangling marker is then a fatal error,
// there is no silent fallback to an arbitrary candidate.
func (m *Manager) Select(candidates []store.Candidate, requested *int) (store.Candidate, error) {
	if requested == nil {
		current, err := m.store.CurrentSelection()
		if err != nil {
			return store.Candidate{}, errors.NewNotFoundError(
				"no usable default selection; choose a candidate explicitly", err)
		}
		m.logger.Infof("Reusing current selection: %s", current.FileName())
		return current, nil
	}

	var matches []store.Candidate
	for _, candidate := range candidates {
		if candidate.Ordinal == *requested {
			matches = append(matches, candidate)
		}
	}

	switch len(matches) {
	case 0:
		return store.Candidate{}, errors.NewNotFoundError(
			fmt.Sprintf("no candidate matches index %02d (0 of %d candidates)", *requested, len(candidates)),
			nil)
	case 1:
	default:
		names := make([]string, len(matches))
		for i, match := range matches {
			names[i] = match.FileName()
		}
		return store.Candidate{}, errors.NewConflictError(
			fmt.Sprintf("index %02d matches %d candidates: %s", *requested, len(matches), strings.Join(names, ", ")),
			nil)
	}

	selected := matches[0]
	if err := m.store.SetCurrentSelection(selected); err != nil {
		return store.Candidate{}, err
	}

	return selected, nil
}
