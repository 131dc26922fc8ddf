package imagepref

import (
	"fmt"
	"sync"
)

// Selection identifies the image the curator is looking at and the dataset
// it was picked from. The zero value means nothing is selected.
type Selection struct {
	Dataset DatasetRole
	ID      string
}

// IsZero reports whether no image is selected.
func (s Selection) IsZero() bool { return s.ID == "" }

// SelectionTracker owns the current selection. Decision operations receive a
// copy of its value rather than reading it themselves.
type SelectionTracker struct {
	mu      sync.Mutex
	current Selection
}

// Select makes (dataset, id) the current selection. Only the corpus and the
// suggestion set are selectable.
func (t *SelectionTracker) Select(dataset DatasetRole, id string) (Selection, error) {
	if dataset != DatasetCorpus && dataset != DatasetSuggestions {
		return Selection{}, fmt.Errorf("imagepref: dataset %q is not selectable", dataset)
	}
	if id == "" {
		return Selection{}, fmt.Errorf("imagepref: empty selection id")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Selection{Dataset: dataset, ID: id}
	return t.current, nil
}

// Current returns the current selection.
func (t *SelectionTracker) Current() Selection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Clear drops the current selection.
func (t *SelectionTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Selection{}
}
