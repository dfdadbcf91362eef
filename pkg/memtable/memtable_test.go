package memtable

import (
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
)

func TestMemtableFillsAndFlushes(t *testing.T) {
	m := New(directio.BlockSize*8, nil, compare.ByteCompare)

	var err error
	for i := 0; i < directio.BlockSize*64; i++ {
		kv := base.InternalKV{
			K: base.MakeInternalKey([]byte{}, base.SeqNum(i), base.InternalKeyKindSet),
			V: []byte{1, 0, 1, 0, 1, 0, 1},
		}
		if err = m.Add(kv); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrMemtableFlushed)
}

func TestMemtablePutGet(t *testing.T) {
	m := New(directio.BlockSize*8, nil, compare.ByteCompare)

	require.NoError(t, m.Put([]byte("a"), []byte("1")))
	require.NoError(t, m.Put([]byte("b"), []byte("2")))
	require.NoError(t, m.Put([]byte("a"), []byte("3")))

	v, ok := m.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)

	v, ok = m.Get([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)

	_, ok = m.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestMemtableDeleteIsTombstoned(t *testing.T) {
	m := New(directio.BlockSize*8, nil, compare.ByteCompare)

	require.NoError(t, m.Put([]byte("a"), []byte("1")))
	require.NoError(t, m.Add(base.InternalKV{
		K: base.MakeInternalKey([]byte("a"), m.nextSeq.Add(1), base.InternalKeyKindDelete),
	}))

	_, ok := m.Get([]byte("a"))
	assert.False(t, ok)
}
