package presence

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a user stays "active" in a space after their last
// mark.
const DefaultTTL = 40 * time.Second

// Tracker keeps an in-memory map of space -> {username -> last seen}.
// Stale entries are only removed lazily, during the sweep that runs on the
// next access.
type Tracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	spaces map[string]map[string]time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:    ttl,
		now:    time.Now,
		spaces: make(map[string]map[string]time.Time),
	}
}

// SetClock replaces the time source. Tests use this to step through TTL
// boundaries deterministically.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// sweepLocked drops entries older than the TTL across every space, not just
// the one being accessed, and removes space keys whose maps drain empty.
// An entry exactly at the TTL is still considered present.
func (t *Tracker) sweepLocked() {
	now := t.now()
	for spaceID, users := range t.spaces {
		for name, seen := range users {
			if now.Sub(seen) > t.ttl {
				delete(users, name)
			}
		}
		if len(users) == 0 {
			delete(t.spaces, spaceID)
		}
	}
}

// Mark records the user as active in the space right now.
func (t *Tracker) Mark(spaceID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	users, ok := t.spaces[spaceID]
	if !ok {
		users = make(map[string]time.Time)
		t.spaces[spaceID] = users
	}
	users[username] = t.now()
}

// Clear removes one user's entry; the space key goes with it if it was the
// last entry.
func (t *Tracker) Clear(spaceID, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.spaces[spaceID]
	if !ok {
		return
	}
	delete(users, username)
	if len(users) == 0 {
		delete(t.spaces, spaceID)
	}
}

// ClearSpace drops all presence for a space (space deletion).
func (t *Tracker) ClearSpace(spaceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.spaces, spaceID)
}

// Rename re-keys a space's presence entries under a new id.
func (t *Tracker) Rename(oldID, newID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.spaces[oldID]
	if !ok {
		return
	}
	delete(t.spaces, oldID)
	t.spaces[newID] = users
}

// Active returns the sorted usernames still within the TTL for a space.
func (t *Tracker) Active(spaceID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	users := t.spaces[spaceID]
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SpaceCount reports how many spaces currently hold at least one live
// entry. Used by tests to assert that drained spaces disappear.
func (t *Tracker) SpaceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	return len(t.spaces)
}
