// Package refstore is a reference implementation of pkg/store.Store,
// adapted from the teacher's memtable/skiplist/WAL/sstable engine, so the
// bulk-import core is runnable and testable end-to-end without a
// production directory backend. Every posting list is backed by a
// per-index memtable that flushes to a real on-disk sstable once full;
// nothing here implements crash recovery or compaction, matching the
// core's own non-goals (a crashed import is restarted from scratch).
package refstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"bulkimport/internal/base"
	"bulkimport/internal/compare"
	"bulkimport/internal/idset"
	"bulkimport/internal/indexkey"
	"bulkimport/pkg/model"
	"bulkimport/pkg/store"
)

// DefaultIndexLimit is the posting-list entry limit used for any index
// that was not given an explicit limit via WithIndexLimit or
// WithDefaultLimit.
const DefaultIndexLimit = 4096

// DefaultMemtableSize is the per-index memtable arena size used when none
// is configured.
const DefaultMemtableSize uint = 4 << 20

type indexConfig struct {
	limit         int
	maintainCount bool
}

// Store is a reference pkg/store.Store implementation. It is safe for
// concurrent use by many import workers against many containers, matching
// the Store contract's "exclusive to this process" assumption.
type Store struct {
	baseDir string
	memSize uint

	mu           sync.Mutex
	defaultLimit indexConfig
	limits       map[indexkey.IndexKey]indexConfig
	containers   map[store.ContainerID]*container
	registry     map[string]store.ContainerID
	seq          atomic.Uint64
}

// Option configures a Store at construction.
type Option func(*Store)

// WithIndexLimit sets the posting-list entry limit for one specific index.
func WithIndexLimit(index indexkey.IndexKey, limit int, maintainCount bool) Option {
	return func(s *Store) { s.limits[index] = indexConfig{limit, maintainCount} }
}

// WithDefaultLimit sets the posting-list entry limit used for indexes with
// no specific override.
func WithDefaultLimit(limit int, maintainCount bool) Option {
	return func(s *Store) { s.defaultLimit = indexConfig{limit, maintainCount} }
}

// WithMemtableSize sets the per-index memtable arena size.
func WithMemtableSize(size uint) Option {
	return func(s *Store) { s.memSize = size }
}

// New returns a Store whose containers' on-disk artifacts (WALs, sstables)
// live under baseDir.
func New(baseDir string, opts ...Option) *Store {
	s := &Store{
		baseDir:      baseDir,
		memSize:      DefaultMemtableSize,
		defaultLimit: indexConfig{DefaultIndexLimit, false},
		limits:       make(map[indexkey.IndexKey]indexConfig),
		containers:   make(map[store.ContainerID]*container),
		registry:     make(map[string]store.ContainerID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) configFor(index indexkey.IndexKey) indexConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.limits[index]; ok {
		return c
	}
	return s.defaultLimit
}

func (s *Store) IndexEntryLimit(index indexkey.IndexKey) int { return s.configFor(index).limit }

func (s *Store) MaintainCount(index indexkey.IndexKey) bool { return s.configFor(index).maintainCount }

func (s *Store) Comparator(index indexkey.IndexKey) compare.Compare { return index.Comparator() }

func (s *Store) container(id store.ContainerID) (*container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, fmt.Errorf("refstore: unknown container %q", id)
	}
	return c, nil
}

// OpenContainer creates a new container backed by its own subdirectory of
// baseDir. temporary containers get a name distinguishing them as shadow
// copies during a rebuild.
func (s *Store) OpenContainer(ctx context.Context, name string, temporary bool) (store.ContainerID, error) {
	n := s.seq.Add(1)
	var id store.ContainerID
	if temporary {
		id = store.ContainerID(fmt.Sprintf("%s.shadow-%d", name, n))
	} else {
		id = store.ContainerID(fmt.Sprintf("%s-%d", name, n))
	}

	dir := filepath.Join(s.baseDir, string(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("refstore: creating container directory %s: %w", dir, err)
	}

	c := newContainer(id, name, dir, temporary)

	s.mu.Lock()
	s.containers[id] = c
	s.mu.Unlock()

	return id, nil
}

func (s *Store) LockContainer(ctx context.Context, id store.ContainerID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	c.lock.Lock()
	return nil
}

func (s *Store) UnlockContainer(ctx context.Context, id store.ContainerID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	c.lock.Unlock()
	return nil
}

func (s *Store) CloseContainer(ctx context.Context, id store.ContainerID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	return c.close()
}

// DeleteContainer closes the container (if not already closed), removes
// its on-disk files, and forgets it.
func (s *Store) DeleteContainer(ctx context.Context, id store.ContainerID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	closeErr := c.close()
	removeErr := c.removeFiles()

	s.mu.Lock()
	delete(s.containers, id)
	s.mu.Unlock()

	if closeErr != nil {
		return closeErr
	}
	return removeErr
}

// RegisterContainer records container as the backing for canonicalName,
// the name an embedding program later resolves a suffix's live container
// by.
func (s *Store) RegisterContainer(ctx context.Context, id store.ContainerID, canonicalName string) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.canonical = canonicalName
	s.registry[canonicalName] = id
	return nil
}

// UnregisterContainer removes whatever canonical-name mapping currently
// points at id, if any. It is not an error to unregister a container that
// was never registered, or whose registration was already replaced by a
// concurrent register under a different id (the registry entry simply
// isn't touched in that case) — this is the hook SwapContainer's
// re-check-and-restore relies on to detect that race.
func (s *Store) UnregisterContainer(ctx context.Context, id store.ContainerID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.canonical != "" && s.registry[c.canonical] == id {
		delete(s.registry, c.canonical)
	}
	c.canonical = ""
	return nil
}

// Resolve returns the container currently registered under canonicalName.
// Not part of pkg/store.Store; used by the orchestrator's container-swap
// re-check.
func (s *Store) Resolve(canonicalName string) (store.ContainerID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.registry[canonicalName]
	return id, ok
}

func (s *Store) MarkIndexTrusted(ctx context.Context, id store.ContainerID, index indexkey.IndexKey) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	c.markTrusted(index)
	return nil
}

// IsIndexTrusted reports whether index has been marked trusted in
// container. Not part of pkg/store.Store; exposed for tests and
// diagnostics.
func (s *Store) IsIndexTrusted(id store.ContainerID, index indexkey.IndexKey) (bool, error) {
	c, err := s.container(id)
	if err != nil {
		return false, err
	}
	return c.isTrusted(index), nil
}

// Insert unions ids into the posting list currently stored at key in
// index, creating it if absent.
func (s *Store) Insert(ctx context.Context, id store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	cfg := s.configFor(index)
	is, err := c.indexStoreFor(index, s.memSize)
	if err != nil {
		return err
	}

	current := idset.New(cfg.limit, cfg.maintainCount)
	if raw, ok := is.Get(key); ok {
		decoded, _, err := idset.Deserialize(raw, cfg.limit, cfg.maintainCount)
		if err != nil {
			return fmt.Errorf("refstore: decoding existing posting list at %x: %w", key, err)
		}
		current = decoded
	}
	current.Merge(ids)
	return is.Put(key, current.Serialize())
}

// Delete removes ids from the posting list currently stored at key in
// index. It is a no-op if key has no posting list, and a DEFINED list left
// with no members is removed outright.
func (s *Store) Delete(ctx context.Context, id store.ContainerID, index indexkey.IndexKey, key []byte, ids *idset.Set) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	cfg := s.configFor(index)
	is, err := c.indexStoreFor(index, s.memSize)
	if err != nil {
		return err
	}

	raw, ok := is.Get(key)
	if !ok {
		return nil
	}
	current, _, err := idset.Deserialize(raw, cfg.limit, cfg.maintainCount)
	if err != nil {
		return fmt.Errorf("refstore: decoding existing posting list at %x: %w", key, err)
	}
	if !current.IsDefined() {
		// An UNDEFINED set can't be reduced back to DEFINED by removing a
		// handful of members; it stays UNDEFINED until the whole key is
		// rewritten.
		return is.Put(key, current.Serialize())
	}
	if ids.IsDefined() {
		for _, memberID := range ids.Members() {
			current.Remove(memberID)
		}
	}
	if current.Size() == 0 {
		return is.Delete(key)
	}
	return is.Put(key, current.Serialize())
}

// Put writes the single EntryID naming index record for key.
func (s *Store) Put(ctx context.Context, id store.ContainerID, namingIndex indexkey.IndexKey, key []byte, entryID base.EntryID) error {
	c, err := s.container(id)
	if err != nil {
		return err
	}
	is, err := c.indexStoreFor(namingIndex, s.memSize)
	if err != nil {
		return err
	}
	return is.Put(key, encodeEntryID(entryID))
}

func encodeEntryID(id base.EntryID) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(id)
		id >>= 8
	}
	return buf
}

// Cursor walks index's live posting lists within container in key order.
func (s *Store) Cursor(ctx context.Context, id store.ContainerID, index indexkey.IndexKey) (store.Cursor, error) {
	c, err := s.container(id)
	if err != nil {
		return nil, err
	}
	cfg := s.configFor(index)
	is, err := c.indexStoreFor(index, s.memSize)
	if err != nil {
		return nil, err
	}
	return newPostingCursor(is.entries(), cfg.limit, cfg.maintainCount), nil
}

// Entries walks every entry seeded into container via Seed, for migration
// workers reconstructing indexes for entries that survive an import
// unchanged.
func (s *Store) Entries(ctx context.Context, id store.ContainerID) (store.EntryCursor, error) {
	c, err := s.container(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return newEntryCursor(c.seeded), nil
}

// Seed preloads container with entries as if they had already been loaded
// by a previous import, under the given starting EntryIDs. No Store.Insert/
// Delete/Put call ever carries full entry content — only derived index
// keys and posting lists do — so a reference store that wants to exercise
// migration (component H) needs a side channel to establish the
// "pre-existing container" state migration reads from. Production stores
// have this content already, from whatever wrote it originally.
func (s *Store) Seed(ctx context.Context, id store.ContainerID, entries []model.Entry, startID base.EntryID) ([]base.EntryID, error) {
	c, err := s.container(id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]base.EntryID, len(entries))
	next := startID
	for i, e := range entries {
		ids[i] = next
		c.seeded = append(c.seeded, seededEntry{id: next, entry: e})
		next++
	}
	return ids, nil
}
