package importworker

import (
	"context"
	"fmt"

	"bulkimport/internal/base"
	"bulkimport/pkg/model"
	"bulkimport/pkg/store"
)

// ExistingEntry is one pre-existing entry's naming-index record, snapshotted
// before Phase 1 runs for an append into a non-empty container.
type ExistingEntry struct {
	ID    base.EntryID
	Entry model.Entry
}

// ExistingIndex is a pre-existing target container's naming-index snapshot,
// consulted by an append-mode run so an incoming name that already exists
// there is rejected as a duplicate, or — when Replace is set — reindexed in
// place instead of silently overwritten (see DESIGN.md for why append mode
// otherwise has no way to see what a fresh, per-run NameIndex never recorded).
type ExistingIndex struct {
	Entries map[string]ExistingEntry
	Replace bool
}

// LoadExistingIndex walks every entry already stored in container and
// snapshots it, grounding append mode's duplicate/replace detection in the
// same EntryCursor primitive internal/migrate uses to rebuild a container's
// surviving entries.
func LoadExistingIndex(ctx context.Context, st store.Store, container store.ContainerID, replace bool) (*ExistingIndex, error) {
	cursor, err := st.Entries(ctx, container)
	if err != nil {
		return nil, fmt.Errorf("importworker: opening existing-entry cursor: %w", err)
	}
	defer cursor.Close()

	idx := &ExistingIndex{Entries: make(map[string]ExistingEntry), Replace: replace}
	for {
		entry, id, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("importworker: reading existing entries: %w", err)
		}
		if !ok {
			return idx, nil
		}
		idx.Entries[entry.Name.String()] = ExistingEntry{ID: id, Entry: entry}
	}
}

// Seed preloads names with every existing entry's (name, id) pair, so the
// usual in-run duplicate and parent-existence checks in Emit also see
// whatever the target container already holds, not just this run's stream.
func (idx *ExistingIndex) Seed(names *NameIndex) {
	if idx == nil {
		return
	}
	for name, rec := range idx.Entries {
		names.InsertIfAbsent(name, rec.ID)
	}
}
