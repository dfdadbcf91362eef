package namingmerge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/dn"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/store"
)

type recordedSet struct {
	key []byte
	ids *idset.Set
}

type fakeStore struct {
	limit         int
	maintainCount bool

	put      map[string]base.EntryID
	inserted map[indexkey.IndexKey][]recordedSet
	deleted  map[indexkey.IndexKey][]recordedSet
}

func newFakeStore(limit int, maintainCount bool) *fakeStore {
	return &fakeStore{
		limit:         limit,
		maintainCount: maintainCount,
		put:           make(map[string]base.EntryID),
		inserted:      make(map[indexkey.IndexKey][]recordedSet),
		deleted:       make(map[indexkey.IndexKey][]recordedSet),
	}
}

func (s *fakeStore) Insert(ctx context.Context, container store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	s.inserted[index] = append(s.inserted[index], recordedSet{key, ids})
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, container store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	s.deleted[index] = append(s.deleted[index], recordedSet{key, ids})
	return nil
}

func (s *fakeStore) Put(ctx context.Context, container store.ContainerID, index indexkey.IndexKey, key []byte, id base.EntryID) error {
	s.put[string(key)] = id
	return nil
}

func (s *fakeStore) Cursor(context.Context, store.ContainerID, indexkey.IndexKey) (store.Cursor, error) {
	return nil, nil
}
func (s *fakeStore) Entries(context.Context, store.ContainerID) (store.EntryCursor, error) {
	return nil, nil
}
func (s *fakeStore) OpenContainer(context.Context, string, bool) (store.ContainerID, error) {
	return "", nil
}
func (s *fakeStore) LockContainer(context.Context, store.ContainerID) error   { return nil }
func (s *fakeStore) UnlockContainer(context.Context, store.ContainerID) error { return nil }
func (s *fakeStore) CloseContainer(context.Context, store.ContainerID) error  { return nil }
func (s *fakeStore) DeleteContainer(context.Context, store.ContainerID) error { return nil }
func (s *fakeStore) RegisterContainer(context.Context, store.ContainerID, string) error {
	return nil
}
func (s *fakeStore) UnregisterContainer(context.Context, store.ContainerID) error { return nil }
func (s *fakeStore) MarkIndexTrusted(context.Context, store.ContainerID, indexkey.IndexKey) error {
	return nil
}
func (s *fakeStore) IndexEntryLimit(indexkey.IndexKey) int        { return s.limit }
func (s *fakeStore) MaintainCount(indexkey.IndexKey) bool         { return s.maintainCount }
func (s *fakeStore) Comparator(indexkey.IndexKey) compare.Compare { return compare.ByteCompare }

// writeNamingRun spills one sorted naming-index buffer containing (name, id)
// pairs, in the exact wire shape importworker.Emit would have produced: a
// single-member insert set per record, empty delete set.
func writeNamingRun(t *testing.T, w *spillwriter.Writer, namingID uint32, entries []struct {
	name dn.Name
	id   base.EntryID
}) {
	t.Helper()
	b := sortbuffer.New(len(entries), 1<<12)
	b.SetComparator(compare.ByteCompare)
	for _, e := range entries {
		require.True(t, b.Put(namingID, dn.ToSortedBytes(e.name), e.id, sortbuffer.Insert))
	}
	require.NoError(t, b.Sort())
	require.NoError(t, w.Enqueue(context.Background(), b))
	require.NoError(t, w.Enqueue(context.Background(), sortbuffer.Poison()))
}

func TestMergeDerivesChildrenAndSubtree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naming.tmp")
	naming := indexkey.Naming()
	children := indexkey.Children()
	subtree := indexkey.Subtree()
	ids := indexkey.AssignIDs(naming, children, subtree)

	w, err := spillwriter.New(path, ids[naming], 1000, false, 4)
	require.NoError(t, err)

	base_ := dn.Parse("o=x")
	writeNamingRun(t, w, ids[naming], []struct {
		name dn.Name
		id   base.EntryID
	}{
		{base_, 1},
		{dn.Parse("a,o=x"), 2},
		{dn.Parse("b,o=x"), 3},
		{dn.Parse("c,b,o=x"), 4},
	})

	runs, err := w.Run(context.Background(), nil)
	require.NoError(t, err)

	fs := newFakeStore(1000, false)
	result, err := Merge(context.Background(), fs, store.ContainerID("c1"), base_, naming, children, subtree, path, runs, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(4), result.Loaded)
	assert.Equal(t, int64(0), result.Rejected)

	assert.Equal(t, base.EntryID(1), fs.put[string(dn.ToSortedBytes(base_))])
	assert.Equal(t, base.EntryID(4), fs.put[string(dn.ToSortedBytes(dn.Parse("c,b,o=x")))])

	childrenOf := func(id base.EntryID) []base.EntryID {
		for _, rec := range fs.inserted[children] {
			if string(rec.key) == string(idKey(id)) {
				return rec.ids.Members()
			}
		}
		return nil
	}
	assert.ElementsMatch(t, []base.EntryID{2, 3}, childrenOf(1))
	assert.ElementsMatch(t, []base.EntryID{4}, childrenOf(3))

	subtreeOf := func(id base.EntryID) []base.EntryID {
		for _, rec := range fs.inserted[subtree] {
			if string(rec.key) == string(idKey(id)) {
				return rec.ids.Members()
			}
		}
		return nil
	}
	assert.ElementsMatch(t, []base.EntryID{2, 3, 4}, subtreeOf(1))
	assert.ElementsMatch(t, []base.EntryID{4}, subtreeOf(3))
}

func TestMergeRejectsDanglingParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naming.tmp")
	naming := indexkey.Naming()
	children := indexkey.Children()
	subtree := indexkey.Subtree()
	ids := indexkey.AssignIDs(naming, children, subtree)

	w, err := spillwriter.New(path, ids[naming], 1000, false, 4)
	require.NoError(t, err)

	base_ := dn.Parse("o=x")
	writeNamingRun(t, w, ids[naming], []struct {
		name dn.Name
		id   base.EntryID
	}{
		{base_, 1},
		{dn.Parse("c,b,o=x"), 2}, // b,o=x was never admitted
	})

	runs, err := w.Run(context.Background(), nil)
	require.NoError(t, err)

	fs := newFakeStore(1000, false)
	counters := &progress.Counters{}
	result, err := Merge(context.Background(), fs, store.ContainerID("c1"), base_, naming, children, subtree, path, runs, counters)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Loaded)
	assert.Equal(t, int64(1), result.Rejected)
	assert.Equal(t, int64(1), counters.Rejected.Load())
}

func TestMergePostingListSpillsToUndefined(t *testing.T) {
	path := filepath.Join(t.TempDir(), "naming.tmp")
	naming := indexkey.Naming()
	children := indexkey.Children()
	subtree := indexkey.Subtree()
	ids := indexkey.AssignIDs(naming, children, subtree)

	w, err := spillwriter.New(path, ids[naming], 1000, false, 4)
	require.NoError(t, err)

	base_ := dn.Parse("o=x")
	entries := []struct {
		name dn.Name
		id   base.EntryID
	}{{base_, 1}}
	for i, leaf := range []string{"a", "b", "c", "d"} {
		entries = append(entries, struct {
			name dn.Name
			id   base.EntryID
		}{dn.Parse(leaf + ",o=x"), base.EntryID(i + 2)})
	}
	writeNamingRun(t, w, ids[naming], entries)

	runs, err := w.Run(context.Background(), nil)
	require.NoError(t, err)

	fs := newFakeStore(3, true) // L=3, so 4 children overflow to UNDEFINED
	_, err = Merge(context.Background(), fs, store.ContainerID("c1"), base_, naming, children, subtree, path, runs, nil)
	require.NoError(t, err)

	require.Len(t, fs.inserted[children], 1)
	rec := fs.inserted[children][0]
	assert.False(t, rec.ids.IsDefined())
	assert.Equal(t, 4, rec.ids.Size())
}
