package base

import "sync/atomic"

// EntryID is a 64-bit identity assigned to an entry when it is admitted into
// an import. It is persisted as the value of the naming index and as a
// member of every posting list the entry's keys belong to.
type EntryID uint64

// AtomicEntryID is a monotonically increasing, CAS-free EntryID generator.
// Assignment is the only operation in Phase 1 that requires global
// serialization; every import worker shares one AtomicEntryID.
type AtomicEntryID struct {
	next atomic.Uint64
}

// Next returns the next unused EntryID. IDs start at 1 so that 0 can be used
// as a "no entry" sentinel.
func (a *AtomicEntryID) Next() EntryID {
	return EntryID(a.next.Add(1))
}

// Peek returns the most recently issued EntryID without allocating a new one.
func (a *AtomicEntryID) Peek() EntryID {
	return EntryID(a.next.Load())
}
