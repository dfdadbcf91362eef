package importworker

import (
	"sync"

	"bulkimport/internal/base"
)

// NameIndex is the in-memory name-to-EntryID table import and migration
// workers consult for parent-existence and duplicate-name checks while
// Phase 1 is still running, before any real index has been built. It is
// shared by every worker touching one suffix.
type NameIndex struct {
	mu   sync.Mutex
	seen map[string]base.EntryID
}

// NewNameIndex returns an empty table.
func NewNameIndex() *NameIndex {
	return &NameIndex{seen: make(map[string]base.EntryID)}
}

// Lookup reports whether key has already been admitted, and its EntryID.
func (n *NameIndex) Lookup(key string) (base.EntryID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok := n.seen[key]
	return id, ok
}

// InsertIfAbsent admits key with id, or reports false if key was already
// present. The check and insert are atomic so concurrent workers racing on
// the same name never both succeed.
func (n *NameIndex) InsertIfAbsent(key string, id base.EntryID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.seen[key]; ok {
		return false
	}
	n.seen[key] = id
	return true
}
