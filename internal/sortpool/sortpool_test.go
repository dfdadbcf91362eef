package sortpool

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/spillwriter"
)

func TestPoolCreatesOneWriterPerIndexKey(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var created []indexkey.IndexKey
	factory := func(k indexkey.IndexKey) (*spillwriter.Writer, error) {
		created = append(created, k)
		return spillwriter.New(filepath.Join(dir, k.Name()+".tmp"), 1, 1000, false, 4)
	}

	var released []*sortbuffer.Buffer
	pool := New(ctx, 2, factory, func(b *sortbuffer.Buffer) { released = append(released, b) })

	eq := indexkey.Attr("cn", indexkey.EQUALITY)

	b1 := sortbuffer.New(4, 1<<10)
	require.True(t, b1.Put(1, []byte("a"), base.EntryID(1), sortbuffer.Insert))
	b2 := sortbuffer.New(4, 1<<10)
	require.True(t, b2.Put(1, []byte("b"), base.EntryID(2), sortbuffer.Insert))

	require.NoError(t, pool.Submit(ctx, Job{Key: eq, Buf: b1}))
	require.NoError(t, pool.Submit(ctx, Job{Key: eq, Buf: b2}))

	runs, err := pool.Finish(ctx)
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.Contains(t, runs, eq)
	assert.NotEmpty(t, runs[eq])
}

func TestPoolAggregatesWriterCreationFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("boom")
	factory := func(k indexkey.IndexKey) (*spillwriter.Writer, error) { return nil, boom }
	pool := New(ctx, 1, factory, func(*sortbuffer.Buffer) {})

	naming := indexkey.Naming()
	b := sortbuffer.New(1, 1<<10)
	require.True(t, b.Put(1, []byte("a"), base.EntryID(1), sortbuffer.Insert))

	require.NoError(t, pool.Submit(ctx, Job{Key: naming, Buf: b}))

	_, err := pool.Finish(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
