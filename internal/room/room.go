package room

import (
	"sync"
	"time"

	"github.com/stanza-editor/stanza/backend/internal/doc"
)

// Room is the runtime side of a space: the live document plus the
// synchronization state that keeps it reconciled with durable storage.
// Rooms are created lazily by the Registry and live for the rest of the
// process; there is no eviction.
type Room struct {
	mu  sync.Mutex
	id  string
	doc doc.Document

	// ready flips true once hydration from durable storage completes.
	ready bool

	// pending is the one outstanding debounced snapshot timer, nil when
	// none. pendingGen identifies it; a stale timer that fires finds the
	// generation moved on and no-ops.
	pending    *time.Timer
	pendingGen uint64
	lastGen    uint64

	hydrated   chan struct{}
	hydrateErr error
}

func newRoom(id string, document doc.Document) *Room {
	return &Room{
		id:       id,
		doc:      document,
		hydrated: make(chan struct{}),
	}
}

// ID returns the space id the room is currently keyed under; it changes
// when the space is renamed.
func (r *Room) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Room) Doc() doc.Document {
	return r.doc
}

func (r *Room) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *Room) setReady() {
	r.mu.Lock()
	r.ready = true
	r.mu.Unlock()
}
