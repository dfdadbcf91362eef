package runmerge

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/store"
)

type fakeStore struct {
	limit         int
	maintainCount bool

	inserted []struct {
		key []byte
		ids *idset.Set
	}
	deleted []struct {
		key []byte
		ids *idset.Set
	}
}

func (s *fakeStore) Insert(ctx context.Context, container store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	s.inserted = append(s.inserted, struct {
		key []byte
		ids *idset.Set
	}{key, ids})
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, container store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	s.deleted = append(s.deleted, struct {
		key []byte
		ids *idset.Set
	}{key, ids})
	return nil
}

func (s *fakeStore) Put(context.Context, store.ContainerID, indexkey.IndexKey, []byte, base.EntryID) error {
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
func (s *fakeStore) IndexEntryLimit(indexkey.IndexKey) int      { return s.limit }
func (s *fakeStore) MaintainCount(indexkey.IndexKey) bool       { return s.maintainCount }
func (s *fakeStore) Comparator(indexkey.IndexKey) compare.Compare { return compare.ByteCompare }

func writeBuffer(t *testing.T, w *spillwriter.Writer, recs []sortbuffer.Record) {
	t.Helper()
	b := sortbuffer.New(len(recs), 1<<10)
	b.SetComparator(compare.ByteCompare)
	for _, r := range recs {
		require.True(t, b.Put(r.IndexID, r.Key, r.EntryID, r.Op))
	}
	require.NoError(t, b.Sort())
	require.NoError(t, w.Enqueue(context.Background(), b))
}

func TestMergeAccumulatesAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cn.tmp")
	w, err := spillwriter.New(path, 5, 1000, false, 4)
	require.NoError(t, err)

	writeBuffer(t, w, []sortbuffer.Record{
		{IndexID: 5, Key: []byte("alice"), EntryID: base.EntryID(1), Op: sortbuffer.Insert},
	})
	writeBuffer(t, w, []sortbuffer.Record{
		{IndexID: 5, Key: []byte("alice"), EntryID: base.EntryID(2), Op: sortbuffer.Insert},
		{IndexID: 5, Key: []byte("bob"), EntryID: base.EntryID(3), Op: sortbuffer.Insert},
	})
	require.NoError(t, w.Enqueue(context.Background(), sortbuffer.Poison()))

	runs, err := w.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	fs := &fakeStore{limit: 1000}
	key := indexkey.Attr("cn", indexkey.EQUALITY)
	require.NoError(t, Merge(context.Background(), fs, store.ContainerID("c1"), key, path, runs))

	require.Len(t, fs.inserted, 2)
	require.Len(t, fs.deleted, 2)

	var aliceIDs, bobIDs []base.EntryID
	for _, ins := range fs.inserted {
		if bytes.Equal(ins.key, []byte("alice")) {
			aliceIDs = ins.ids.Members()
		}
		if bytes.Equal(ins.key, []byte("bob")) {
			bobIDs = ins.ids.Members()
		}
	}
	assert.Equal(t, []base.EntryID{1, 2}, aliceIDs)
	assert.Equal(t, []base.EntryID{3}, bobIDs)
}

func TestMergeAppliesDeleteBeforeInsertNetResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cn.tmp")
	w, err := spillwriter.New(path, 2, 1000, false, 4)
	require.NoError(t, err)

	writeBuffer(t, w, []sortbuffer.Record{
		{IndexID: 2, Key: []byte("k"), EntryID: base.EntryID(1), Op: sortbuffer.Insert},
		{IndexID: 2, Key: []byte("k"), EntryID: base.EntryID(1), Op: sortbuffer.Delete},
	})
	require.NoError(t, w.Enqueue(context.Background(), sortbuffer.Poison()))

	runs, err := w.Run(context.Background(), nil)
	require.NoError(t, err)

	fs := &fakeStore{limit: 1000}
	key := indexkey.Attr("k", indexkey.EQUALITY)
	require.NoError(t, Merge(context.Background(), fs, store.ContainerID("c1"), key, path, runs))

	require.Len(t, fs.deleted, 1)
	require.Len(t, fs.inserted, 1)
	assert.Equal(t, []base.EntryID{1}, fs.deleted[0].ids.Members())
	assert.Equal(t, []base.EntryID{1}, fs.inserted[0].ids.Members())
}
