// Package runmerge implements Phase 2's k-way merge of one index's sorted
// spill runs into its posting lists, bulk-inserted into the target store.
package runmerge

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"os"

	"bulkimport/internal/indexkey"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/store"
)

type heapItem struct {
	cursor *Cursor
	rec    spillwriter.Record
}

// mergeHeap orders cursors by their current record's (key, indexID), the
// same secondary sort key internal/sortbuffer uses, under the index's own
// comparator.
type mergeHeap struct {
	items []*heapItem
	cmp   func(a, b []byte) int
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp(h.items[i].rec.Key, h.items[j].rec.Key)
	if c != 0 {
		return c < 0
	}
	return h.items[i].rec.IndexID < h.items[j].rec.IndexID
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(*heapItem)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// Merge reads every run in path (one temp file per index, one run per
// flushed sort buffer) and bulk-inserts the resulting posting lists into
// container's copy of index. Exactly one Delete and one Insert call is made
// per distinct (key, indexID), deletes unconditionally before inserts.
func Merge(ctx context.Context, st store.Store, container store.ContainerID, index indexkey.IndexKey, path string, runs []spillwriter.RunIndex) error {
	if len(runs) == 0 {
		return nil
	}

	limit := st.IndexEntryLimit(index)
	maintainCount := st.MaintainCount(index)
	cmp := st.Comparator(index)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("runmerge: opening %s: %w", path, err)
	}
	defer f.Close()

	h := &mergeHeap{cmp: cmp}
	for _, run := range runs {
		cur, err := OpenRunCursor(f, run, limit, maintainCount)
		if err != nil {
			return err
		}
		if cur.HasNext() {
			heap.Push(h, &heapItem{cursor: cur, rec: cur.Peek()})
		}
	}

	var acc spillwriter.Record
	haveAcc := false

	flush := func() error {
		if !haveAcc {
			return nil
		}
		if err := st.Delete(ctx, container, index, acc.Key, acc.Delete); err != nil {
			return fmt.Errorf("runmerge: deleting from %s at key %q: %w", index, acc.Key, err)
		}
		if err := st.Insert(ctx, container, index, acc.Key, acc.Insert); err != nil {
			return fmt.Errorf("runmerge: inserting into %s at key %q: %w", index, acc.Key, err)
		}
		return nil
	}

	for h.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		top := heap.Pop(h).(*heapItem)
		rec := top.rec

		top.cursor.Advance()
		if top.cursor.HasNext() {
			heap.Push(h, &heapItem{cursor: top.cursor, rec: top.cursor.Peek()})
		}

		if haveAcc && bytes.Equal(acc.Key, rec.Key) && acc.IndexID == rec.IndexID {
			acc.Insert.Merge(rec.Insert)
			acc.Delete.Merge(rec.Delete)
			continue
		}

		if err := flush(); err != nil {
			return err
		}
		acc = rec
		haveAcc = true
	}

	if err := flush(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("runmerge: removing %s: %w", path, err)
	}
	return nil
}
