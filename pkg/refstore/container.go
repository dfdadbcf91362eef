package refstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"bulkimport/internal/base"
	"bulkimport/internal/indexkey"
	"bulkimport/pkg/model"
	"bulkimport/pkg/store"
)

// container is one backing unit: the physical home for a suffix's indexes,
// opened either under its canonical name or a temporary shadow name during
// a rebuild (see SwapContainer in the root package).
type container struct {
	lock sync.Mutex

	id        store.ContainerID
	name      string
	temp      bool
	dir       string
	canonical string // set once RegisterContainer succeeds

	mu      sync.Mutex
	indexes map[indexkey.IndexKey]*indexStore
	trusted map[indexkey.IndexKey]bool
	seeded  []seededEntry
	closed  bool
}

// seededEntry is a pre-existing entry a test or embedding program loads
// into a container via Store.Seed before a migration-driving import, since
// no Store.Put/Insert call ever carries full entry content (see DESIGN.md).
type seededEntry struct {
	id    base.EntryID
	entry model.Entry
}

func newContainer(id store.ContainerID, name, dir string, temp bool) *container {
	return &container{
		id:      id,
		name:    name,
		dir:     dir,
		temp:    temp,
		indexes: make(map[indexkey.IndexKey]*indexStore),
		trusted: make(map[indexkey.IndexKey]bool),
	}
}

func (c *container) indexStoreFor(index indexkey.IndexKey, memSize uint) (*indexStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if is, ok := c.indexes[index]; ok {
		return is, nil
	}
	dir := filepath.Join(c.dir, index.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("refstore: creating index directory %s: %w", dir, err)
	}
	is, err := newIndexStore(dir, index.Name(), index.Comparator(), memSize)
	if err != nil {
		return nil, err
	}
	c.indexes[index] = is
	return is, nil
}

func (c *container) markTrusted(index indexkey.IndexKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trusted[index] = true
}

func (c *container) isTrusted(index indexkey.IndexKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trusted[index]
}

func (c *container) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for _, is := range c.indexes {
		if err := is.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *container) removeFiles() error {
	if c.dir == "" {
		return nil
	}
	return os.RemoveAll(c.dir)
}
