package migrate

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
)

type fakeCursor struct {
	entries []model.Entry
	next    int
	closed  bool
}

func (c *fakeCursor) Next(ctx context.Context) (model.Entry, base.EntryID, bool, error) {
	if c.next >= len(c.entries) {
		return model.Entry{}, 0, false, nil
	}
	e := c.entries[c.next]
	c.next++
	return e, base.EntryID(c.next), true, nil
}

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

type recordingEmitter struct {
	seen []model.Entry
}

func (e *recordingEmitter) Emit(ctx context.Context, id base.EntryID, entry model.Entry) (model.RejectReason, error) {
	e.seen = append(e.seen, entry)
	return model.RejectNone, nil
}

var _ io.Closer = (*fakeCursor)(nil)

func TestRunFiltersAndClosesCursor(t *testing.T) {
	cursor := &fakeCursor{entries: []model.Entry{
		{Name: dn.Parse("o=x")},
		{Name: dn.Parse("a,o=x")},
		{Name: dn.Parse("b,o=x")},
	}}
	emitter := &recordingEmitter{}
	counters := &progress.Counters{}
	var ids base.AtomicEntryID

	filter := NotUnderAnyBranch([]dn.Name{dn.Parse("a,o=x")})
	err := Run(context.Background(), cursor, filter, ids.Next, emitter, counters)
	require.NoError(t, err)

	assert.True(t, cursor.closed)
	assert.Len(t, emitter.seen, 2)
	assert.Equal(t, int64(2), counters.Read.Load())
	assert.Equal(t, int64(2), counters.Migrated.Load())
}

func TestUnderAnyBranchKeepsOnlyExcludedSubtree(t *testing.T) {
	cursor := &fakeCursor{entries: []model.Entry{
		{Name: dn.Parse("o=x")},
		{Name: dn.Parse("c,a,o=x")},
	}}
	emitter := &recordingEmitter{}
	counters := &progress.Counters{}
	var ids base.AtomicEntryID

	filter := UnderAnyBranch([]dn.Name{dn.Parse("c,a,o=x")})
	err := Run(context.Background(), cursor, filter, ids.Next, emitter, counters)
	require.NoError(t, err)

	require.Len(t, emitter.seen, 1)
	assert.Equal(t, "c,a,o=x", emitter.seen[0].Name.String())
}
