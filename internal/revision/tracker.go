// Package revision tracks the revision of the remote content currently
// reflected in the local mirror. Revision ids are opaque strings (commit
// SHAs); equality of ids is the authoritative change test.
package revision

import "sync"

// Tracker decides whether a fetched revision requires a sync and records
// revisions once the mirror fully reflects them.
//
// A revision is committed only after a complete mirror apply. Reload
// failures never un-commit a revision: the mirror already holds the new
// content at that point.
type Tracker struct {
	mu      sync.RWMutex
	current string
}

// NewTracker creates a tracker with no known revision. The first fetched
// revision always requires a sync.
func NewTracker() *Tracker {
	return &Tracker{}
}

// NewTrackerWithRevision creates a tracker seeded with a previously
// committed revision, typically restored from persisted state.
func NewTrackerWithRevision(rev string) *Tracker {
	return &Tracker{current: rev}
}

// ShouldSync reports whether the candidate revision differs from the
// current one. An unknown current revision always requires a sync.
func (t *Tracker) ShouldSync(candidate string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == "" {
		return true
	}
	return candidate != t.current
}

// Commit records the candidate as the current revision.
func (t *Tracker) Commit(candidate string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = candidate
}

// Current returns the committed revision, or "" when none is known.
func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}
