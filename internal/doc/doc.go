// Package doc is the boundary to the shared document engine. The room
// synchronizer only ever touches documents and update bytes through these
// interfaces plus the log framing below, so the concrete merge algorithm
// can be swapped without touching the sync core.
package doc

import "errors"

var ErrBadUpdate = errors.New("malformed document update")

// Document is one live in-memory collaborative document.
type Document interface {
	// Text returns the plain-text projection of the document.
	Text() string

	// Replace swaps the entire content in a single atomic transaction:
	// observers see one mutation, never a partial delete/insert pair.
	Replace(content string)

	// ApplyUpdate merges one encoded update into the document.
	ApplyUpdate(update []byte) error

	// State encodes the current document state as a single update that
	// reproduces it when applied to any document.
	State() []byte

	// Observe registers a callback fired after every mutation.
	Observe(fn func())
}

// Engine creates documents and owns the update encoding.
type Engine interface {
	NewDocument() Document
}

// Update-log framing: frames are concatenated, each prefixed with a 4-byte
// big-endian length. This is the only structure the storage layer's log
// files have; the frame payloads stay opaque to everything but the engine.

// EncodeFrames packs updates into framed log bytes.
func EncodeFrames(updates [][]byte) []byte {
	total := 0
	for _, update := range updates {
		total += 4 + len(update)
	}
	framed := make([]byte, 0, total)
	for _, update := range updates {
		n := uint32(len(update))
		framed = append(framed, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		framed = append(framed, update...)
	}
	return framed
}

// SplitFrames unpacks framed log bytes back into updates. A truncated
// trailing frame (torn final write) is dropped rather than failing the
// whole log.
func SplitFrames(framed []byte) [][]byte {
	var updates [][]byte
	offset := 0
	for offset+4 <= len(framed) {
		n := uint32(framed[offset])<<24 |
			uint32(framed[offset+1])<<16 |
			uint32(framed[offset+2])<<8 |
			uint32(framed[offset+3])
		offset += 4
		if offset+int(n) > len(framed) {
			break
		}
		update := make([]byte, n)
		copy(update, framed[offset:offset+int(n)])
		updates = append(updates, update)
		offset += int(n)
	}
	return updates
}
