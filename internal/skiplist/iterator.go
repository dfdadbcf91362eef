package skiplist

import "bulkimport/internal/base"

// Iterator walks a Skiplist's entries in ascending (LogicalKey, descending
// Trailer) order — the order Add maintains. For a LogicalKey written more
// than once, the first entry SeekGE or First lands on for that key is
// always the most recently written version, since higher sequence numbers
// sort first among entries sharing a LogicalKey (see findSpliceForLevel).
//
// Only forward traversal is implemented: every consumer in this codebase
// (refstore's point lookups, its sstable flush) reads forward-only.
type Iterator struct {
	list *Skiplist
	nd   *node
}

// NewIterator returns an Iterator positioned before the first entry.
func (s *Skiplist) NewIterator() *Iterator {
	return &Iterator{list: s, nd: s.head}
}

// FlushIter is an alias for NewIterator used at the call site that drains a
// skiplist into an on-disk sstable, matching the naming a reader of
// MemTable.Flush expects.
func (s *Skiplist) FlushIter() *Iterator {
	return s.NewIterator()
}

// First resets the iterator and returns the lowest-ordered entry, or nil if
// the skiplist is empty.
func (it *Iterator) First() *base.InternalKV {
	it.nd = it.list.head
	return it.Next()
}

// Next advances the iterator and returns the entry it lands on, or nil once
// past the last entry.
func (it *Iterator) Next() *base.InternalKV {
	it.nd = it.list.getNext(it.nd, 0)
	if it.nd == it.list.tail {
		return nil
	}
	return it.decode()
}

// SeekGE advances the iterator to the first entry whose LogicalKey is
// greater than or equal to key and returns it, or nil if none exists. When
// multiple versions of key are present, SeekGE lands on the newest one.
func (it *Iterator) SeekGE(key []byte) *base.InternalKV {
	nd := it.list.head
	for {
		next := it.list.getNext(nd, 0)
		if next == it.list.tail {
			it.nd = next
			return nil
		}
		k := it.list.arena.GetBytes(next.keyOffset, next.keySize)
		if it.list.compare(k, key) >= 0 {
			it.nd = next
			return it.decode()
		}
		nd = next
	}
}

func (it *Iterator) decode() *base.InternalKV {
	a := it.list.arena
	return &base.InternalKV{
		K: base.InternalKey{
			LogicalKey: it.nd.getKey(a),
			Trailer:    it.nd.keyTrailer,
		},
		V: it.nd.getValue(a),
	}
}

// Close releases the iterator. The underlying skiplist and arena are
// unaffected; Close exists so Iterator satisfies the shape callers that
// hold a cursor over a store resource expect.
func (it *Iterator) Close() error {
	*it = Iterator{}
	return nil
}
