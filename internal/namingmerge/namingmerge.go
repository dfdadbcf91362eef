// Package namingmerge implements the naming-index merger (component J): a
// specialization of internal/runmerge that Phase 2 uses for every naming
// index merge, whether or not import workers resolved parent IDs at ingest
// time. It writes the naming index itself
// and, because the naming index's comparator guarantees every node's
// ancestors are seen before it, derives the CHILDREN and SUBTREE posting
// lists in the same single pass.
package namingmerge

import (
	"bytes"
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/dn"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/runmerge"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/store"
)

// Result tallies what the merge decided, beyond what it wrote to the store.
type Result struct {
	Loaded   int64
	Rejected int64
}

// parentEntry is one frame of the ancestor stack: the node's naming-index
// key bytes (dn.ToSortedBytes encoding) and its EntryID. The stack is kept
// sorted ascending by key length/content, which is always a valid ancestor
// chain: entries[i] is a strict ancestor of entries[i+1].
type parentEntry struct {
	key []byte
	id  base.EntryID
}

// Merge reads every run in path (the naming index's spill file), walks the
// globally sorted (name, id) stream, and writes the naming index plus the
// derived CHILDREN and SUBTREE posting lists into container.
func Merge(ctx context.Context, st store.Store, container store.ContainerID, base_ dn.Name, namingIndex, childrenIndex, subtreeIndex indexkey.IndexKey, path string, runs []spillwriter.RunIndex, counters *progress.Counters) (Result, error) {
	var result Result
	if len(runs) == 0 {
		return result, nil
	}

	limit := st.IndexEntryLimit(namingIndex)
	maintainCount := st.MaintainCount(namingIndex)

	f, err := os.Open(path)
	if err != nil {
		return result, fmt.Errorf("namingmerge: opening %s: %w", path, err)
	}
	defer f.Close()

	h := &nameHeap{}
	for _, run := range runs {
		cur, err := runmerge.OpenRunCursor(f, run, limit, maintainCount)
		if err != nil {
			return result, err
		}
		if cur.HasNext() {
			heap.Push(h, cur)
		}
	}

	baseBytes := dn.ToSortedBytes(base_)
	var stack []parentEntry
	children := make(map[string]*idset.Set)
	subtree := make(map[string]*idset.Set)

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		cur := heap.Pop(h).(*runmerge.Cursor)
		rec := cur.Peek()
		cur.Advance()
		if cur.HasNext() {
			heap.Push(h, cur)
		}

		if rec.Insert == nil || !rec.Insert.IsDefined() || rec.Insert.Size() != 1 {
			return result, fmt.Errorf("namingmerge: naming record at key %q does not carry exactly one EntryID", rec.Key)
		}
		id := rec.Insert.Members()[0]
		nameBytes := rec.Key

		if bytes.Equal(nameBytes, baseBytes) {
			stack = []parentEntry{{key: nameBytes, id: id}}
			if err := st.Put(ctx, container, namingIndex, nameBytes, id); err != nil {
				return result, err
			}
			result.Loaded++
			if counters != nil {
				counters.Loaded.Add(1)
			}
			continue
		}

		parentKey, ok := trimLastComponent(nameBytes)
		if !ok || len(stack) == 0 {
			result.Rejected++
			if counters != nil {
				counters.Rejected.Add(1)
			}
			continue
		}

		for len(stack) > 0 && len(stack[len(stack)-1].key) > len(parentKey) {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 || !bytes.Equal(stack[len(stack)-1].key, parentKey) {
			result.Rejected++
			if counters != nil {
				counters.Rejected.Add(1)
			}
			continue
		}
		parent := stack[len(stack)-1]

		addMember(children, idKey(parent.id), id, limit, maintainCount)
		for _, anc := range stack {
			addMember(subtree, idKey(anc.id), id, limit, maintainCount)
		}

		stack = append(stack, parentEntry{key: nameBytes, id: id})

		if err := st.Put(ctx, container, namingIndex, nameBytes, id); err != nil {
			return result, err
		}
		result.Loaded++
		if counters != nil {
			counters.Loaded.Add(1)
		}
	}

	if err := flushAccumulator(ctx, st, container, childrenIndex, children); err != nil {
		return result, err
	}
	if err := flushAccumulator(ctx, st, container, subtreeIndex, subtree); err != nil {
		return result, err
	}

	if err := os.Remove(path); err != nil {
		return result, fmt.Errorf("namingmerge: removing %s: %w", path, err)
	}

	return result, nil
}

func addMember(acc map[string]*idset.Set, key []byte, id base.EntryID, limit int, maintainCount bool) {
	k := string(key)
	set, ok := acc[k]
	if !ok {
		set = idset.New(limit, maintainCount)
		acc[k] = set
	}
	set.Add(id)
}

func flushAccumulator(ctx context.Context, st store.Store, container store.ContainerID, index indexkey.IndexKey, acc map[string]*idset.Set) error {
	for key, set := range acc {
		keyBytes := []byte(key)
		if err := st.Delete(ctx, container, index, keyBytes, idset.New(0, false)); err != nil {
			return fmt.Errorf("namingmerge: clearing %s at key %x: %w", index, keyBytes, err)
		}
		if err := st.Insert(ctx, container, index, keyBytes, set); err != nil {
			return fmt.Errorf("namingmerge: inserting into %s at key %x: %w", index, keyBytes, err)
		}
	}
	return nil
}

// idKey encodes an EntryID as the fixed 8-byte big-endian key CHILDREN and
// SUBTREE index on, rather than on a name.
func idKey(id base.EntryID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// trimLastComponent strips the trailing component of a dn.ToSortedBytes
// encoding, returning the immediate parent's encoding. It returns false
// only for a malformed (non-NUL-terminated) encoding; a single-component
// name (no earlier separator) yields an empty parent encoding, meaning "no
// parent within this suffix".
func trimLastComponent(encoded []byte) ([]byte, bool) {
	if len(encoded) == 0 || encoded[len(encoded)-1] != 0 {
		return nil, false
	}
	for i := len(encoded) - 2; i >= 0; i-- {
		if encoded[i] == 0 {
			return encoded[:i+1], true
		}
	}
	return nil, true
}

// nameHeap orders naming-run cursors by their current record's key under
// the naming index's own byte-lexicographic comparator (compare.ByteCompare
// — see internal/indexkey.IndexKey.Comparator).
type nameHeap struct {
	cursors []*runmerge.Cursor
}

func (h *nameHeap) Len() int { return len(h.cursors) }
func (h *nameHeap) Less(i, j int) bool {
	return compare.ByteCompare(h.cursors[i].Peek().Key, h.cursors[j].Peek().Key) < 0
}
func (h *nameHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *nameHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*runmerge.Cursor)) }
func (h *nameHeap) Pop() any {
	old := h.cursors
	n := len(old)
	it := old[n-1]
	h.cursors = old[:n-1]
	return it
}
