package doc

import (
	"sync"
)

// deleteAll in an update's delete-count field means "to end of document".
const deleteAll = ^uint32(0)

// SpliceEngine is the built-in document engine. Its updates are splice
// records: a byte position, a delete count, and inserted text. Concurrent
// updates resolve last-writer-wins, which is enough for the server's own
// sync core; richer merge behavior belongs to a replacement Engine.
type SpliceEngine struct{}

func NewSpliceEngine() *SpliceEngine {
	return &SpliceEngine{}
}

func (e *SpliceEngine) NewDocument() Document {
	return &spliceDoc{}
}

type spliceDoc struct {
	mu        sync.Mutex
	text      string
	observers []func()
}

func (d *spliceDoc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *spliceDoc) Replace(content string) {
	d.mu.Lock()
	d.text = content
	d.mu.Unlock()
	d.notify()
}

func (d *spliceDoc) ApplyUpdate(update []byte) error {
	pos, del, insert, err := decodeSplice(update)
	if err != nil {
		return err
	}
	d.mu.Lock()
	n := uint32(len(d.text))
	if pos > n {
		pos = n
	}
	end := n
	if del != deleteAll {
		if remaining := n - pos; del < remaining {
			end = pos + del
		}
	}
	d.text = d.text[:pos] + insert + d.text[end:]
	d.mu.Unlock()
	d.notify()
	return nil
}

func (d *spliceDoc) State() []byte {
	d.mu.Lock()
	text := d.text
	d.mu.Unlock()
	return EncodeSplice(0, deleteAll, text)
}

func (d *spliceDoc) Observe(fn func()) {
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
}

// notify runs outside the lock so observers can read the document.
func (d *spliceDoc) notify() {
	d.mu.Lock()
	observers := make([]func(), len(d.observers))
	copy(observers, d.observers)
	d.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// EncodeSplice builds a splice update: 4-byte position, 4-byte delete
// count, then the inserted text.
func EncodeSplice(pos, del uint32, insert string) []byte {
	update := make([]byte, 8, 8+len(insert))
	update[0], update[1], update[2], update[3] = byte(pos>>24), byte(pos>>16), byte(pos>>8), byte(pos)
	update[4], update[5], update[6], update[7] = byte(del>>24), byte(del>>16), byte(del>>8), byte(del)
	return append(update, insert...)
}

func decodeSplice(update []byte) (pos, del uint32, insert string, err error) {
	if len(update) < 8 {
		return 0, 0, "", ErrBadUpdate
	}
	pos = uint32(update[0])<<24 | uint32(update[1])<<16 | uint32(update[2])<<8 | uint32(update[3])
	del = uint32(update[4])<<24 | uint32(update[5])<<16 | uint32(update[6])<<8 | uint32(update[7])
	return pos, del, string(update[8:]), nil
}
