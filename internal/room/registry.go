package room

import (
	"log"
	"sync"
	"time"

	"github.com/stanza-editor/stanza/backend/internal/doc"
	"github.com/stanza-editor/stanza/backend/internal/presence"
	"github.com/stanza-editor/stanza/backend/internal/store"
)

// DefaultSaveDelay is the quiescence window for debounced snapshot writes.
// Bursts of edits less than this far apart coalesce into one disk write.
const DefaultSaveDelay = 500 * time.Millisecond

// Registry owns every live room, keyed by space id, and drives the
// snapshot synchronization between the in-memory documents and the flat
// store. It is the single place rooms are created, hydrated, renamed, and
// written through.
type Registry struct {
	store     *store.Store
	engine    doc.Engine
	presence  *presence.Tracker
	saveDelay time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry(st *store.Store, engine doc.Engine, tracker *presence.Tracker, saveDelay time.Duration) *Registry {
	if saveDelay <= 0 {
		saveDelay = DefaultSaveDelay
	}
	return &Registry{
		store:     st,
		engine:    engine,
		presence:  tracker,
		saveDelay: saveDelay,
		rooms:     make(map[string]*Room),
	}
}

// Open returns the live room for a space, materializing and hydrating it
// on first use. Concurrent first opens converge on a single room: one
// caller hydrates, the rest wait for the same result.
func (reg *Registry) Open(id string) (*Room, error) {
	if !store.ValidID(id) {
		return nil, store.ErrInvalidID
	}

	reg.mu.Lock()
	r, ok := reg.rooms[id]
	if !ok {
		r = newRoom(id, reg.engine.NewDocument())
		reg.rooms[id] = r
		reg.mu.Unlock()
		reg.hydrate(r)
	} else {
		reg.mu.Unlock()
		<-r.hydrated
	}

	if r.hydrateErr != nil {
		reg.mu.Lock()
		if reg.rooms[id] == r {
			delete(reg.rooms, id)
		}
		reg.mu.Unlock()
		return nil, r.hydrateErr
	}
	return r, nil
}

// Peek returns the live room for a space without creating one.
func (reg *Registry) Peek(id string) (*Room, bool) {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	reg.mu.Unlock()
	if !ok {
		return nil, false
	}
	<-r.hydrated
	if r.hydrateErr != nil {
		return nil, false
	}
	return r, true
}

// hydrate fills a fresh room's document from the most authoritative
// durable source. The update-log wins over the flat snapshot when both
// exist: it can encode merged multi-client history the snapshot cannot.
// A non-empty snapshot with no log is legacy state; its text becomes the
// document and is immediately re-encoded as a fresh log so durable history
// exists from then on.
func (reg *Registry) hydrate(r *Room) {
	defer close(r.hydrated)

	id := r.ID()
	document := r.Doc()

	hasLog, err := reg.store.LogExists(id)
	if err != nil {
		r.hydrateErr = err
		return
	}
	if hasLog {
		framed, err := reg.store.ReadLog(id)
		if err != nil {
			r.hydrateErr = err
			return
		}
		for _, update := range doc.SplitFrames(framed) {
			if err := document.ApplyUpdate(update); err != nil {
				log.Printf("room %s: skipping bad log frame: %v", id, err)
			}
		}
	} else {
		content, err := reg.store.Read(id)
		if err != nil && err != store.ErrNotFound {
			r.hydrateErr = err
			return
		}
		if content != "" {
			document.Replace(content)
			framed := doc.EncodeFrames([][]byte{document.State()})
			if err := reg.store.WriteLog(id, framed); err != nil {
				r.hydrateErr = err
				return
			}
		}
	}

	r.setReady()

	// The mutation observer is attached only now, so the hydration writes
	// above don't feed back into scheduling; the explicit schedule below
	// brings the snapshot in line with whatever the log produced.
	document.Observe(func() {
		reg.scheduleSnapshot(r)
	})
	reg.scheduleSnapshot(r)
}

// scheduleSnapshot resets the room's quiescence timer: any pending write
// is cancelled and a new one armed, so only the last mutation in a burst
// reaches disk.
func (reg *Registry) scheduleSnapshot(r *Room) {
	r.mu.Lock()
	if r.pending != nil {
		r.pending.Stop()
	}
	r.lastGen++
	gen := r.lastGen
	r.pendingGen = gen
	r.pending = time.AfterFunc(reg.saveDelay, func() {
		reg.snapshotFired(r, gen)
	})
	r.mu.Unlock()
}

func (reg *Registry) snapshotFired(r *Room, gen uint64) {
	r.mu.Lock()
	if r.pendingGen != gen {
		// Superseded by a newer mutation between firing and running.
		r.mu.Unlock()
		return
	}
	r.pending = nil
	r.pendingGen = 0
	id := r.id
	r.mu.Unlock()

	reg.writeSnapshot(id, r)
}

func (reg *Registry) writeSnapshot(id string, r *Room) {
	if err := reg.store.WriteSnapshot(id, r.Doc().Text()); err != nil {
		log.Printf("room %s: snapshot write failed: %v", id, err)
	}
}

// SaveNow cancels any pending timer for the room and writes the snapshot
// synchronously.
func (reg *Registry) SaveNow(r *Room) {
	r.mu.Lock()
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
		r.pendingGen = 0
	}
	id := r.id
	r.mu.Unlock()
	reg.writeSnapshot(id, r)
}

// FlushAll drains every pending debounce timer with an immediate write.
// Called on graceful shutdown so last-moment edits are not lost.
func (reg *Registry) FlushAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		<-r.hydrated
		if r.hydrateErr == nil {
			reg.SaveNow(r)
		}
	}
}

// ApplyUpdate merges a client's update into the space's document and
// appends it to the durable update-log. The observer attached at hydration
// reschedules the snapshot.
func (reg *Registry) ApplyUpdate(id string, update []byte) error {
	r, err := reg.Open(id)
	if err != nil {
		return err
	}
	return reg.ApplyUpdateToRoom(r, update)
}

// ApplyUpdateToRoom is ApplyUpdate for a room already in hand; the log
// append follows the room's current id so renamed spaces keep one log.
func (reg *Registry) ApplyUpdateToRoom(r *Room, update []byte) error {
	if err := r.Doc().ApplyUpdate(update); err != nil {
		return err
	}
	return reg.store.AppendLog(r.ID(), doc.EncodeFrames([][]byte{update}))
}

// WriteThrough is the explicit full-content write path. The snapshot file
// is replaced; a live room has the new content pushed into its document as
// one atomic transaction (which reschedules its snapshot) and its
// update-log rewritten to a single state frame, so the log never encodes
// pre-write history that hydration would replay over the acknowledged
// content. With no room live, any stale update-log is deleted so the
// explicit write wins over older history.
func (reg *Registry) WriteThrough(id, content string) error {
	if err := reg.store.WriteSnapshot(id, content); err != nil {
		return err
	}
	if r, ok := reg.Peek(id); ok {
		r.Doc().Replace(content)
		framed := doc.EncodeFrames([][]byte{r.Doc().State()})
		return reg.store.WriteLog(id, framed)
	}
	return reg.store.DeleteLog(id)
}

// Delete removes the space's durable files and presence. A live room is
// left in place, matching the no-eviction lifecycle; its next write simply
// recreates the snapshot.
func (reg *Registry) Delete(id string) error {
	if err := reg.store.Delete(id); err != nil {
		return err
	}
	reg.presence.ClearSpace(id)
	return nil
}

// Rename moves a space to a new id: durable files first (the store checks
// for conflicts before anything moves), then the live room is re-keyed,
// presence follows, and a snapshot is scheduled under the new id.
func (reg *Registry) Rename(oldID, newID string) error {
	if err := reg.store.Rename(oldID, newID); err != nil {
		return err
	}

	reg.mu.Lock()
	r, ok := reg.rooms[oldID]
	if ok {
		delete(reg.rooms, oldID)
		reg.rooms[newID] = r
	}
	reg.mu.Unlock()

	if ok {
		r.mu.Lock()
		r.id = newID
		r.mu.Unlock()
	}

	reg.presence.Rename(oldID, newID)

	if ok {
		reg.scheduleSnapshot(r)
	}
	return nil
}

// Count reports how many rooms are live.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
