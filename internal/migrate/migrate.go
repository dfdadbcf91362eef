// Package migrate implements the migration workers (component H): they
// stream surviving entries out of an existing container and drive them
// through the same importworker.Emitter import workers use, so every index
// is rebuilt identically regardless of where an entry came from.
package migrate

import (
	"context"
	"fmt"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/internal/importworker"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/store"
)

// Filter decides whether one source entry survives into the rebuilt
// container.
type Filter func(name dn.Name) bool

// NotUnderAnyBranch is the filter for the pre-ingest migration pass: every
// entry outside every include branch must be preserved verbatim, since the
// import workers only rebuild what falls under an include branch.
func NotUnderAnyBranch(branches []dn.Name) Filter {
	return func(name dn.Name) bool {
		for _, b := range branches {
			if name.Equal(b) || dn.IsAncestorOf(b, name) {
				return false
			}
		}
		return true
	}
}

// UnderAnyBranch is the filter for the post-ingest migration pass: the
// survivors of an excluded subtree, which were never streamed by the
// import workers because they sit inside an excluded branch.
func UnderAnyBranch(branches []dn.Name) Filter {
	return func(name dn.Name) bool {
		for _, b := range branches {
			if name.Equal(b) || dn.IsAncestorOf(b, name) {
				return true
			}
		}
		return false
	}
}

// Run streams every entry cursor yields that passes filter through emitter,
// assigning each a fresh EntryID (the source store's own IDs are not
// reused: the rebuilt container gets a fresh, densely-packed ID space).
// cursor is always closed, on every exit path.
func Run(ctx context.Context, cursor store.EntryCursor, filter Filter, nextID func() base.EntryID, emitter importworker.Emitter, counters *progress.Counters) error {
	defer cursor.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, _, ok, err := cursor.Next(ctx)
		if err != nil {
			return fmt.Errorf("migrate: reading source cursor: %w", err)
		}
		if !ok {
			return nil
		}
		if !filter(entry.Name) {
			continue
		}

		counters.Read.Add(1)
		id := nextID()

		reason, err := emitter.Emit(ctx, id, entry)
		if err != nil {
			return err
		}
		if reason != model.RejectNone {
			counters.Rejected.Add(1)
			continue
		}
		// Loaded is tallied by the naming merger once it reconciles this
		// entry's parent, not here; see internal/importworker.RunWorkers.
		counters.Migrated.Add(1)
	}
}
