package refstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/skiplist"
	"bulkimport/pkg/memtable"
	"bulkimport/pkg/sstable"
	"bulkimport/pkg/wal"
)

// indexStore is the posting-list storage for one index within one
// container: a memtable fronting a chain of flushed sstables, the same
// write path a production engine's per-index column family would take,
// scoped to what a bulk import's write-once workload needs. Nothing in
// this package ever reads an sstable back — an import is restarted from
// scratch on crash, never resumed — so `flushed` is the store's actual
// read path for anything no longer in the active memtable, and the
// sstable file on disk exists only as the durable artifact a real engine
// would produce at this point.
type indexStore struct {
	mu      sync.Mutex
	dir     string
	name    string
	cmp     compare.Compare
	memSize uint

	active  *memtable.MemTable
	wal     *wal.WAL
	flushed map[string][]byte
	tables  []*sstable.SSTable
	seq     uint64
	closed  bool
}

func newIndexStore(dir, name string, cmp compare.Compare, memSize uint) (*indexStore, error) {
	is := &indexStore{
		dir:     dir,
		name:    name,
		cmp:     cmp,
		memSize: memSize,
		flushed: make(map[string][]byte),
	}
	if err := is.rotate(); err != nil {
		return nil, err
	}
	return is, nil
}

func (is *indexStore) rotate() error {
	walPath := filepath.Join(is.dir, fmt.Sprintf("%s-%d.wal", is.name, is.seq))
	w, err := wal.New(walPath)
	if err != nil {
		return fmt.Errorf("refstore: opening wal for %s: %w", is.name, err)
	}
	is.wal = w
	is.active = memtable.New(is.memSize, w, is.cmp)
	is.seq++
	return nil
}

// Get returns the most recently written value for key, or false if key has
// never been written (or was last written as a delete tombstone).
func (is *indexStore) Get(key []byte) ([]byte, bool) {
	is.mu.Lock()
	defer is.mu.Unlock()

	if v, ok := is.active.Get(key); ok {
		return v, true
	}
	v, ok := is.flushed[string(key)]
	return v, ok
}

// Put writes value for key, rotating the active memtable to a flushed
// sstable and starting a fresh one if it is full.
func (is *indexStore) Put(key, value []byte) error {
	is.mu.Lock()
	defer is.mu.Unlock()

	if err := is.active.Put(key, value); err != nil {
		if !errors.Is(err, memtable.ErrMemtableFlushed) {
			return err
		}
		if err := is.flushLocked(); err != nil {
			return err
		}
		if err := is.rotate(); err != nil {
			return err
		}
		if err := is.active.Put(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Delete writes a tombstone for key, using the same rotation path as Put.
func (is *indexStore) Delete(key []byte) error {
	is.mu.Lock()
	defer is.mu.Unlock()

	if err := is.active.Delete(key); err != nil {
		if !errors.Is(err, memtable.ErrMemtableFlushed) {
			return err
		}
		if err := is.flushLocked(); err != nil {
			return err
		}
		if err := is.rotate(); err != nil {
			return err
		}
		if err := is.active.Delete(key); err != nil {
			return err
		}
	}
	delete(is.flushed, string(key))
	return nil
}

// flushLocked drains the active memtable into the flushed mirror and into a
// real on-disk sstable, then closes its WAL. The caller holds is.mu and
// replaces is.active via rotate immediately afterward.
func (is *indexStore) flushLocked() error {
	old := is.active

	mirror := make(map[string][]byte)
	old.Flush(func(it *skiplist.Iterator) {
		seen := make(map[string]bool)
		for kv := it.First(); kv != nil; kv = it.Next() {
			// The newest version of a key comes first; skip older ones.
			if seen[string(kv.K.LogicalKey)] {
				continue
			}
			seen[string(kv.K.LogicalKey)] = true
			if kv.K.Trailer.Kind() == base.InternalKeyKindDelete {
				delete(mirror, string(kv.K.LogicalKey))
				continue
			}
			mirror[string(kv.K.LogicalKey)] = append([]byte(nil), kv.V...)
		}
	})
	for k, v := range mirror {
		is.flushed[k] = v
	}

	path := filepath.Join(is.dir, fmt.Sprintf("%s-%d.sst", is.name, is.seq))
	table, err := sstable.New(path, is.seq, uint64(len(is.tables)), old.NewIterator())
	if err != nil {
		return fmt.Errorf("refstore: flushing %s to sstable: %w", is.name, err)
	}
	is.tables = append(is.tables, table)

	if is.wal != nil {
		if err := is.wal.Close(); err != nil {
			return fmt.Errorf("refstore: closing wal for %s: %w", is.name, err)
		}
	}
	return nil
}

// Close flushes the active memtable and closes every sstable this index
// store opened.
func (is *indexStore) Close() error {
	is.mu.Lock()
	defer is.mu.Unlock()

	if is.closed {
		return nil
	}
	is.closed = true

	var errs []error
	if err := is.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	for _, t := range is.tables {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// entries returns a snapshot of every live (non-tombstoned) key/value pair,
// used by Cursor.
func (is *indexStore) entries() map[string][]byte {
	is.mu.Lock()
	defer is.mu.Unlock()

	out := make(map[string][]byte, len(is.flushed))
	for k, v := range is.flushed {
		out[k] = v
	}
	it := is.active.NewIterator()
	seen := make(map[string]bool)
	for kv := it.First(); kv != nil; kv = it.Next() {
		// The newest version of a key comes first; skip older ones.
		if seen[string(kv.K.LogicalKey)] {
			continue
		}
		seen[string(kv.K.LogicalKey)] = true
		if kv.K.Trailer.Kind() == base.InternalKeyKindDelete {
			delete(out, string(kv.K.LogicalKey))
			continue
		}
		out[string(kv.K.LogicalKey)] = kv.V
	}
	return out
}
