package memtable

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ncw/directio"

	"bulkimport/internal/arch"
	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/skiplist"
	"bulkimport/pkg/wal"
)

// MemTable is a memory table that stores key-value pairs in sorted order
// using a skip-list. A refstore index keeps one MemTable per container: all
// of an index's posting-list writes during Phase 2 land here before an
// optional Flush spills them to an SSTable.
type MemTable struct {
	// nextSeq issues the sequence number for the next Add, keeping writes to
	// this memtable ordered relative to each other.
	nextSeq base.AtomicSeqNum

	skiplist *skiplist.Skiplist
	cmp      compare.Compare

	// wal is the write-ahead log every Add is appended to before the
	// skiplist insert. It may be nil, in which case writes are not logged.
	wal *wal.WAL

	// references tracks the number of readers with reference to the memtable.
	// When the number of references drops to zero, the memtable can be safely
	// retired.
	references arch.AtomicUint
	// writers is the number of writers currently writing to the memtable.
	// This is tracked to prevent the memtable from being flushed to disk
	// while there are still active writers.
	writers sync.WaitGroup
	// readOnly indicates that the memtable is no longer accepting writes
	// because it has been flushed.
	readOnly atomic.Bool
}

// New creates a MemTable backed by a fresh arena of size bytes, rounded up
// to a multiple of the direct I/O block size. wal may be nil.
func New(size uint, w *wal.WAL, cmp compare.Compare) *MemTable {
	if size < directio.BlockSize {
		size = directio.BlockSize
	} else if rem := size % directio.BlockSize; rem != 0 {
		size += directio.BlockSize - rem
	}

	m := &MemTable{
		skiplist: skiplist.New(size, cmp),
		wal:      w,
		cmp:      cmp,
	}
	m.references.Store(1)
	return m
}

// Add inserts an internal key-value pair into the memtable, logging it to
// the WAL first when one is configured.
func (m *MemTable) Add(kv base.InternalKV) error {
	m.writers.Add(1)
	defer m.writers.Done()

	if m.readOnly.Load() {
		return ErrMemtableFlushed
	}

	if m.wal != nil {
		if err := m.wal.Append(kv.V); err != nil {
			return err
		}
	}

	err := m.skiplist.Add(kv.K, kv.V)
	if err != nil {
		if errors.Is(err, skiplist.ErrBufferFull) {
			return ErrMemtableFlushed
		}
		if errors.Is(err, skiplist.ErrRecordExists) {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

// Put is a convenience wrapper over Add for callers that only care about the
// latest value for key: it stamps the write with a freshly issued sequence
// number and the Set kind.
func (m *MemTable) Put(key, value []byte) error {
	seq := m.nextSeq.Add(1)
	return m.Add(base.InternalKV{
		K: base.MakeInternalKey(key, seq, base.InternalKeyKindSet),
		V: value,
	})
}

// Delete writes a tombstone for key: a subsequent Get for key returns
// false until a later Put overwrites it.
func (m *MemTable) Delete(key []byte) error {
	seq := m.nextSeq.Add(1)
	return m.Add(base.InternalKV{
		K: base.MakeInternalKey(key, seq, base.InternalKeyKindDelete),
	})
}

// Get returns the most recently written, non-deleted value for key.
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	it := m.skiplist.NewIterator()
	kv := it.SeekGE(key)
	if kv == nil || m.cmp(kv.K.LogicalKey, key) != 0 {
		return nil, false
	}
	if kv.K.Trailer.Kind() == base.InternalKeyKindDelete {
		return nil, false
	}
	return kv.V, true
}

// NewIterator returns a fresh iterator over the memtable's contents. Safe to
// call after Flush: the skiplist itself is untouched by flushing, only the
// memtable's write path is closed off.
func (m *MemTable) NewIterator() *skiplist.Iterator {
	return m.skiplist.NewIterator()
}

func (m *MemTable) Size() uint {
	return m.skiplist.Size()
}

func (m *MemTable) Cap() uint {
	return m.skiplist.Arena().Cap()
}

// Flush marks the memtable read-only and hands flush an iterator over its
// contents. Flush is synchronous: an import has no background compaction
// goroutine to hand this work to, and nothing downstream reads the result
// back, so there is no benefit to flushing off the caller's goroutine.
func (m *MemTable) Flush(flush func(*skiplist.Iterator)) {
	if m.readOnly.CompareAndSwap(false, true) {
		m.writers.Wait()
		flush(m.skiplist.FlushIter())
		m.references.Add(^arch.UintToArchSize(0))
	}
}
