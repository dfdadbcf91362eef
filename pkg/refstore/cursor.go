package refstore

import (
	"context"
	"sort"

	"bulkimport/internal/base"
	"bulkimport/internal/idset"
	"bulkimport/pkg/model"
)

// postingCursor walks a snapshot of one index's live entries in key order,
// decoding each value back into an *idset.Set.
type postingCursor struct {
	keys          []string
	values        [][]byte
	pos           int
	limit         int
	maintainCount bool
}

func newPostingCursor(entries map[string][]byte, limit int, maintainCount bool) *postingCursor {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = entries[k]
	}
	return &postingCursor{keys: keys, values: values, limit: limit, maintainCount: maintainCount}
}

func (c *postingCursor) Next(ctx context.Context) ([]byte, *idset.Set, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}
	if c.pos >= len(c.keys) {
		return nil, nil, false, nil
	}
	key := []byte(c.keys[c.pos])
	set, _, err := idset.Deserialize(c.values[c.pos], c.limit, c.maintainCount)
	if err != nil {
		return nil, nil, false, err
	}
	c.pos++
	return key, set, true, nil
}

func (c *postingCursor) Close() error { return nil }

// entryCursor walks a container's seeded entries, for migration workers
// reconstructing indexes for entries that survive the import unchanged.
type entryCursor struct {
	entries []seededEntry
	pos     int
}

func newEntryCursor(entries []seededEntry) *entryCursor {
	snapshot := make([]seededEntry, len(entries))
	copy(snapshot, entries)
	return &entryCursor{entries: snapshot}
}

func (c *entryCursor) Next(ctx context.Context) (model.Entry, base.EntryID, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Entry{}, 0, false, err
	}
	if c.pos >= len(c.entries) {
		return model.Entry{}, 0, false, nil
	}
	e := c.entries[c.pos]
	c.pos++
	return e.entry, e.id, true, nil
}

func (c *entryCursor) Close() error { return nil }
