// Package importworker implements the pool of import workers (component G)
// and the Emitter both import and migration workers drive to derive and
// spill index records for one admitted entry.
package importworker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/sortpool"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/schema"
	"bulkimport/pkg/store"
)

// ErrAborted is returned by Emit when a poison buffer is pulled from the
// free pool, the signal that the import has been cancelled elsewhere.
var ErrAborted = errors.New("importworker: import aborted")

// attributeKinds is every per-attribute index kind an Emitter checks the
// schema registry for, in no particular order: presence of an indexer, not
// position in this slice, decides whether a record is emitted.
var attributeKinds = []indexkey.Kind{
	indexkey.EQUALITY,
	indexkey.PRESENCE,
	indexkey.SUBSTRING,
	indexkey.ORDERING,
	indexkey.APPROXIMATE,
	indexkey.EXT_SUBSTRING,
	indexkey.EXT_SHARED,
}

// Emitter derives the naming-index and per-attribute index records for one
// admitted entry. Per-attribute records always feed the sort-buffer
// pipeline. The naming record does too, and CHILDREN/SUBTREE are left for
// internal/namingmerge to reconstruct from it — except when existing is
// set (an append into an already-populated container): namingmerge's
// ancestor-stack merge assumes it is rebuilding the whole tree in one pass,
// which an incremental append never supplies, so that case instead writes
// the naming record and maintains CHILDREN/SUBTREE directly against the
// store (see DESIGN.md).
type Emitter interface {
	Emit(ctx context.Context, id base.EntryID, entry model.Entry) (model.RejectReason, error)
}

type entryEmitter struct {
	suffix         model.Suffix
	registry       schema.Registry
	skipValidation bool
	names          *NameIndex
	existing       *ExistingIndex

	bufPool  *sortbuffer.Pool
	sortPool *sortpool.Pool
	ids      indexkey.IDs

	st        store.Store
	container store.ContainerID
	counters  *progress.Counters

	buffers map[indexkey.IndexKey]*sortbuffer.Buffer
}

// NewEmitter builds an Emitter for one suffix. bufPool is the shared free
// sort-buffer pool; sortPool is the sort executor records are submitted to
// once a buffer fills; ids maps every IndexKey the import will touch to its
// wire-format integer ID. existing is the pre-existing target container's
// naming-index snapshot for an append-mode run, or nil when there is none
// (a fresh or cleared container, or a shadow rebuild). st and container let
// a replace delete an existing entry's stale attribute postings and rewrite
// its naming record directly against the store, bypassing the sort buffers
// for those writes; the replacement's new attribute postings still go
// through the buffered pipeline. Each Emitter is single-threaded: callers
// construct one per worker goroutine.
func NewEmitter(suffix model.Suffix, registry schema.Registry, skipValidation bool, names *NameIndex, existing *ExistingIndex, bufPool *sortbuffer.Pool, sortPool *sortpool.Pool, ids indexkey.IDs, st store.Store, container store.ContainerID, counters *progress.Counters) Emitter {
	return &entryEmitter{
		suffix:         suffix,
		registry:       registry,
		skipValidation: skipValidation,
		names:          names,
		existing:       existing,
		bufPool:        bufPool,
		sortPool:       sortPool,
		ids:            ids,
		st:             st,
		container:      container,
		counters:       counters,
		buffers:        make(map[indexkey.IndexKey]*sortbuffer.Buffer),
	}
}

func (e *entryEmitter) Emit(ctx context.Context, id base.EntryID, entry model.Entry) (model.RejectReason, error) {
	nameKey := entry.Name.String()
	isBase := entry.Name.Equal(e.suffix.Base)

	// Append mode requires parent IDs at ingest time regardless of
	// SkipNameValidation: its direct CHILDREN/SUBTREE maintenance below has
	// no merge-time fallback to reconstruct them from later in a run.
	var parentID base.EntryID
	if (!e.skipValidation || e.existing != nil) && !isBase {
		parent, ok := dn.ParentWithinBase(entry.Name, e.suffix.Base)
		if !ok {
			return model.RejectMalformedEntry, nil
		}
		pid, exists := e.names.Lookup(parent.String())
		if !exists {
			return model.RejectMissingParent, nil
		}
		parentID = pid
	}

	if e.existing != nil && e.existing.Replace {
		if old, found := e.existing.Entries[nameKey]; found {
			return e.replace(ctx, old, entry)
		}
	}

	if !e.names.InsertIfAbsent(nameKey, id) {
		return model.RejectDuplicateName, nil
	}

	if e.existing != nil {
		if err := e.putDirect(ctx, entry, id, parentID, isBase); err != nil {
			return model.RejectNone, err
		}
	} else if err := e.put(ctx, indexkey.Naming(), dn.ToSortedBytes(entry.Name), id, sortbuffer.Insert); err != nil {
		return model.RejectNone, err
	}

	if err := e.forEachAttributeKey(entry, func(ik indexkey.IndexKey, key []byte) error {
		return e.put(ctx, ik, key, id, sortbuffer.Insert)
	}); err != nil {
		return model.RejectNone, err
	}

	if e.existing != nil && e.counters != nil {
		e.counters.Loaded.Add(1)
	}

	return model.RejectNone, nil
}

// putDirect writes the naming record for a genuinely new entry in append
// mode and incrementally maintains CHILDREN(parentID) and SUBTREE(ancestor)
// for every ancestor up to the suffix base, all directly against the store.
func (e *entryEmitter) putDirect(ctx context.Context, entry model.Entry, id, parentID base.EntryID, isBase bool) error {
	if err := e.st.Put(ctx, e.container, indexkey.Naming(), dn.ToSortedBytes(entry.Name), id); err != nil {
		return fmt.Errorf("importworker: writing naming record for %s: %w", entry.Name, err)
	}
	if isBase {
		return nil
	}

	if err := e.addMember(ctx, indexkey.Children(), parentID, id); err != nil {
		return err
	}
	for _, ancestor := range dn.StrictAncestors(entry.Name, e.suffix.Base) {
		ancestorID, exists := e.names.Lookup(ancestor.String())
		if !exists {
			return fmt.Errorf("importworker: ancestor %s of %s missing from name index", ancestor, entry.Name)
		}
		if err := e.addMember(ctx, indexkey.Subtree(), ancestorID, id); err != nil {
			return err
		}
	}
	return nil
}

func (e *entryEmitter) addMember(ctx context.Context, ik indexkey.IndexKey, owner, member base.EntryID) error {
	ids := idset.New(e.st.IndexEntryLimit(ik), e.st.MaintainCount(ik))
	ids.Add(member)
	return e.st.Insert(ctx, e.container, ik, entryIDKey(owner), ids)
}

// entryIDKey encodes id as the fixed 8-byte big-endian key CHILDREN and
// SUBTREE index on, matching internal/namingmerge's encoding for the same
// indexes when a full-tree rebuild derives them instead.
func entryIDKey(id base.EntryID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// forEachAttributeKey calls fn for every (index, key) pair entry derives
// across every attribute kind the schema registry indexes.
func (e *entryEmitter) forEachAttributeKey(entry model.Entry, fn func(ik indexkey.IndexKey, key []byte) error) error {
	for attr := range entry.Attributes {
		for _, kind := range attributeKinds {
			indexer, ok := e.registry.IndexerFor(attr, kind)
			if !ok {
				continue
			}
			ik := indexkey.Attr(attr, kind)
			for _, key := range indexer.Keys(entry) {
				if err := fn(ik, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// replace reindexes an entry already present in the pre-existing target
// container: its old attribute-index postings are deleted directly against
// the store and the new ones written in their place. The naming record is
// also written directly (like putDirect, not through the buffered sort
// pipeline: see Emitter's doc comment) but reuses the existing entry's
// EntryID rather than the freshly assigned one, so the Put is an overwrite
// of the same key with the same value, and CHILDREN/SUBTREE — keyed by
// that ID in their ancestors' posting lists — never need to change.
func (e *entryEmitter) replace(ctx context.Context, old ExistingEntry, entry model.Entry) (model.RejectReason, error) {
	err := e.forEachAttributeKey(old.Entry, func(ik indexkey.IndexKey, key []byte) error {
		ids := idset.New(e.st.IndexEntryLimit(ik), e.st.MaintainCount(ik))
		ids.Add(old.ID)
		return e.st.Delete(ctx, e.container, ik, key, ids)
	})
	if err != nil {
		return model.RejectNone, fmt.Errorf("importworker: clearing replaced entry's old postings: %w", err)
	}

	if err := e.st.Put(ctx, e.container, indexkey.Naming(), dn.ToSortedBytes(entry.Name), old.ID); err != nil {
		return model.RejectNone, fmt.Errorf("importworker: rewriting naming record for %s: %w", entry.Name, err)
	}
	if err := e.forEachAttributeKey(entry, func(ik indexkey.IndexKey, key []byte) error {
		return e.put(ctx, ik, key, old.ID, sortbuffer.Insert)
	}); err != nil {
		return model.RejectNone, err
	}

	if e.counters != nil {
		e.counters.Loaded.Add(1)
	}
	return model.RejectNone, nil
}

// put appends one record to key's current buffer, rotating to a fresh
// buffer through the pool and sort executor when the current one is full.
func (e *entryEmitter) put(ctx context.Context, key indexkey.IndexKey, keyBytes []byte, id base.EntryID, op sortbuffer.Op) error {
	buf, ok := e.buffers[key]
	if !ok {
		fresh, err := e.bufPool.Get(ctx)
		if err != nil {
			return err
		}
		if fresh.IsPoison() {
			return ErrAborted
		}
		buf = fresh
		e.buffers[key] = buf
	}

	if buf.Put(e.ids[key], keyBytes, id, op) {
		return nil
	}

	if err := e.sortPool.Submit(ctx, sortpool.Job{Key: key, Buf: buf}); err != nil {
		return err
	}
	fresh, err := e.bufPool.Get(ctx)
	if err != nil {
		return err
	}
	if fresh.IsPoison() {
		return ErrAborted
	}
	e.buffers[key] = fresh

	if !fresh.Put(e.ids[key], keyBytes, id, op) {
		return fmt.Errorf("importworker: record for index %s does not fit in a fresh sort buffer", key)
	}
	return nil
}

// Flush submits every buffer this Emitter still holds to the sort executor,
// even if not full. Called once per worker at end-of-stream.
func (e *entryEmitter) flush(ctx context.Context) error {
	for key, buf := range e.buffers {
		if buf.Len() == 0 {
			e.bufPool.Put(buf)
			continue
		}
		if err := e.sortPool.Submit(ctx, sortpool.Job{Key: key, Buf: buf}); err != nil {
			return err
		}
	}
	e.buffers = make(map[indexkey.IndexKey]*sortbuffer.Buffer)
	return nil
}

// Flush exposes flush for callers holding an Emitter through the interface.
func Flush(ctx context.Context, e Emitter) error {
	if ee, ok := e.(*entryEmitter); ok {
		return ee.flush(ctx)
	}
	return nil
}
