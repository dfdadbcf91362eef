// Package sortbuffer implements the fixed-capacity append-then-sort buffer
// that Phase 1 workers fill with (indexID, key, entryID, op) records before
// handing them to the sort executor.
package sortbuffer

import (
	"fmt"
	"sort"

	"bulkimport/internal/arena"
	"bulkimport/internal/base"
	"bulkimport/internal/compare"
)

// Op tags whether a record inserts or deletes an EntryID from the target
// key's posting list.
type Op uint8

const (
	Insert Op = iota
	Delete
)

// Mode is the buffer's lifecycle state. A buffer only accepts Put calls in
// Append, only yields records in Draining, and Sort is the transition point
// between the two.
type Mode uint8

const (
	Append Mode = iota
	Sorted
	Draining
)

// Record is one entry exposed by a buffer's ordered cursor after Sort.
type Record struct {
	IndexID uint32
	Key     []byte
	EntryID base.EntryID
	Op      Op
}

// slot is the fixed-size header entry for one record; the key bytes
// themselves live in the arena-backed tail, never in the slot.
type slot struct {
	indexID uint32
	keyOff  uint
	keyLen  uint
	entryID base.EntryID
	op      Op
}

// Buffer is a bounded region partitioned into a header of fixed-size slots
// and a variable-size key tail backed by an arena. Buffers are constructed
// once by a Pool and reused via Reset; Put and Next never allocate, and Sort
// allocates only the permutation slice it orders.
type Buffer struct {
	tail *arena.Arena
	cmp  compare.Compare

	slots []slot
	mode  Mode

	order  []int // permutation built by Sort; index into slots
	cursor int
}

// New allocates a buffer with room for headerCapacity records and a
// tailSize-byte key tail. A buffer constructed with headerCapacity 0 is a
// poison buffer: Put always fails on it, and its presence on a queue signals
// end-of-stream to the consumer that pulls it.
func New(headerCapacity int, tailSize uint) *Buffer {
	b := &Buffer{
		slots: make([]slot, 0, headerCapacity),
	}
	if tailSize > 0 {
		// The arena reserves offset 0, so one extra byte keeps the usable
		// tail at exactly tailSize bytes.
		b.tail = arena.New(tailSize + 1)
	}
	return b
}

// Poison returns a zero-capacity buffer suitable for pushing onto a shared
// queue to wake every consumer and signal end-of-stream.
func Poison() *Buffer { return New(0, 0) }

// IsPoison reports whether this buffer is a poison sentinel.
func (b *Buffer) IsPoison() bool { return cap(b.slots) == 0 }

// SetComparator installs the comparator Sort will use to order records. It
// must be called before Sort.
func (b *Buffer) SetComparator(cmp compare.Compare) { b.cmp = cmp }

// Mode returns the buffer's current lifecycle state.
func (b *Buffer) Mode() Mode { return b.mode }

// Len returns the number of records currently held.
func (b *Buffer) Len() int { return len(b.slots) }

// IsSpaceAvailable reports whether a Put of a record with the given key
// would succeed without committing anything, so callers can decide whether
// to swap buffers before attempting the Put itself.
func (b *Buffer) IsSpaceAvailable(key []byte) bool {
	if b.mode != Append || len(b.slots) == cap(b.slots) {
		return false
	}
	if b.tail == nil {
		return len(key) == 0
	}
	return b.tail.Len()+uint(len(key)) <= b.tail.Cap()
}

// Put appends a record. It returns false if the buffer is full (by header
// slots or by tail capacity) or not in Append mode; the caller must then hand
// this buffer off and obtain a fresh one from the pool.
func (b *Buffer) Put(indexID uint32, key []byte, entryID base.EntryID, op Op) bool {
	if b.mode != Append || len(b.slots) == cap(b.slots) {
		return false
	}

	var off uint
	if len(key) > 0 {
		var err error
		off, err = b.tail.Allocate(uint(len(key)), 1)
		if err != nil {
			return false
		}
		copy(b.tail.GetBytes(off, uint(len(key))), key)
	}

	b.slots = append(b.slots, slot{
		indexID: indexID,
		keyOff:  off,
		keyLen:  uint(len(key)),
		entryID: entryID,
		op:      op,
	})
	return true
}

// Sort transitions the buffer from Append to Sorted, ordering records by
// (key, indexID) under the installed comparator. After Sort the buffer's
// records are read through Next, never mutated in place.
func (b *Buffer) Sort() error {
	if b.mode != Append {
		return fmt.Errorf("sortbuffer: Sort called in mode %d, want Append", b.mode)
	}
	if b.cmp == nil {
		return fmt.Errorf("sortbuffer: Sort called without a comparator")
	}

	order := make([]int, len(b.slots))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		si, sj := b.slots[order[i]], b.slots[order[j]]
		c := b.cmp(b.keyBytes(si), b.keyBytes(sj))
		if c != 0 {
			return c < 0
		}
		return si.indexID < sj.indexID
	})

	b.order = order
	b.mode = Sorted
	return nil
}

func (b *Buffer) keyBytes(s slot) []byte {
	if s.keyLen == 0 {
		return nil
	}
	return b.tail.GetBytes(s.keyOff, s.keyLen)
}

// Next returns the next record in sorted order, advancing the buffer into
// Draining mode on the first call. Duplicate (key, indexID) collapsing is
// the downstream spill-run writer's job, not this one's: Next yields every
// record exactly as Put received it.
func (b *Buffer) Next() (Record, bool) {
	if b.mode == Sorted {
		b.mode = Draining
	}
	if b.mode != Draining {
		return Record{}, false
	}
	if b.cursor >= len(b.order) {
		return Record{}, false
	}
	s := b.slots[b.order[b.cursor]]
	b.cursor++
	return Record{
		IndexID: s.indexID,
		Key:     b.keyBytes(s),
		EntryID: s.entryID,
		Op:      s.op,
	}, true
}

// Reset returns the buffer to Append mode with no records, ready to be
// handed back to the free pool. The arena is reused, not reallocated.
func (b *Buffer) Reset() {
	b.slots = b.slots[:0]
	if b.tail != nil {
		b.tail.Reset()
	}
	b.order = nil
	b.cursor = 0
	b.mode = Append
}
