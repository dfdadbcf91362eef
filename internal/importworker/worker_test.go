package importworker

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/sortpool"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/entrysource"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
)

type fakeSource struct {
	mu      sync.Mutex
	entries []model.Entry
	base    dn.Name
	next    int
}

func (s *fakeSource) Next(ctx context.Context) (model.Entry, entrysource.SuffixHint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.entries) {
		return model.Entry{}, entrysource.SuffixHint{}, io.EOF
	}
	e := s.entries[s.next]
	s.next++
	return e, entrysource.SuffixHint{Base: s.base}, nil
}

func TestRunWorkersSpillsEveryAdmittedEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	base_ := dn.Parse("o=x")

	ids := indexkey.AssignIDs(indexkey.Naming())
	bufPool := sortbuffer.NewPool(16, 16, 1<<12)
	sortPool := sortpool.New(ctx, 2, func(k indexkey.IndexKey) (*spillwriter.Writer, error) {
		return spillwriter.New(filepath.Join(dir, k.Name()+".tmp"), ids[k], 1000, false, 4)
	}, func(b *sortbuffer.Buffer) { bufPool.Put(b) })

	names := NewNameIndex()
	suffix := model.Suffix{Base: base_}
	emitterFor := func(dn.Name) (Emitter, error) {
		return NewEmitter(suffix, fakeRegistry{}, false, names, nil, bufPool, sortPool, ids, nil, "", nil), nil
	}

	source := &fakeSource{
		base: base_,
		entries: []model.Entry{
			{Name: dn.Parse("o=x")},
			{Name: dn.Parse("a,o=x")},
			{Name: dn.Parse("b,o=x")},
		},
	}

	counters := &progress.Counters{}
	var entryIDs base.AtomicEntryID
	err := RunWorkers(ctx, 3, source, &entryIDs, emitterFor, counters)
	require.NoError(t, err)

	assert.Equal(t, int64(3), counters.Read.Load())
	// Loaded is tallied in Phase 2 by the naming merger, not by the workers.
	assert.Equal(t, int64(0), counters.Loaded.Load())
	assert.Equal(t, int64(0), counters.Rejected.Load())

	runs, err := sortPool.Finish(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, runs[indexkey.Naming()])
}
