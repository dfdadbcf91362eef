// Package store declares the key-value store collaborator the core bulk-
// loads into. The store is assumed exclusive to this process for the
// duration of an import. pkg/refstore provides a runnable implementation
// adapted from an embedded skiplist/WAL/sstable engine; production callers
// supply their own.
package store

import (
	"context"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/pkg/model"
)

// ContainerID names one backing container: the physical unit a suffix's
// indexes live in, opened either under its canonical name or a temporary
// shadow name during a rebuild.
type ContainerID string

// Cursor walks one index's posting lists in key order. The import itself
// never reads through it; it serves tests and diagnostics.
type Cursor interface {
	// Next advances the cursor and reports whether a record was returned.
	Next(ctx context.Context) (key []byte, ids *idset.Set, ok bool, err error)
	Close() error
}

// EntryCursor walks every entry currently stored in a container by its
// naming index, yielding full entries so a migration worker can re-derive
// every index for a surviving entry exactly as an import worker would.
type EntryCursor interface {
	Next(ctx context.Context) (entry model.Entry, id base.EntryID, ok bool, err error)
	Close() error
}

// Store is the bulk-load target. Insert and Delete operate on one index's
// posting list for one key; Put writes a single naming-index mapping.
type Store interface {
	Insert(ctx context.Context, container ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error
	Delete(ctx context.Context, container ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error
	Put(ctx context.Context, container ContainerID, namingIndex indexkey.IndexKey, key []byte, id base.EntryID) error

	Cursor(ctx context.Context, container ContainerID, index indexkey.IndexKey) (Cursor, error)
	// Entries streams every entry in container by its naming index, for
	// migration workers reconstructing indexes for surviving entries.
	Entries(ctx context.Context, container ContainerID) (EntryCursor, error)

	OpenContainer(ctx context.Context, name string, temporary bool) (ContainerID, error)
	LockContainer(ctx context.Context, container ContainerID) error
	UnlockContainer(ctx context.Context, container ContainerID) error
	CloseContainer(ctx context.Context, container ContainerID) error
	DeleteContainer(ctx context.Context, container ContainerID) error

	RegisterContainer(ctx context.Context, container ContainerID, canonicalName string) error
	UnregisterContainer(ctx context.Context, container ContainerID) error

	MarkIndexTrusted(ctx context.Context, container ContainerID, index indexkey.IndexKey) error
	IndexEntryLimit(index indexkey.IndexKey) int
	MaintainCount(index indexkey.IndexKey) bool
	Comparator(index indexkey.IndexKey) compare.Compare
}
