// Package schema declares the indexer-registry collaborator the core
// consults to decide which per-attribute indexes an entry participates in.
// Implementations are supplied by the caller of Import; the core only
// depends on this interface.
package schema

import (
	"bulkimport/internal/indexkey"
	"bulkimport/pkg/model"
)

// Indexer derives the index keys one attribute contributes for one entry. A
// PRESENCE indexer typically returns a single fixed sentinel key when the
// attribute has any value and nil otherwise; an EQUALITY indexer normalizes
// and returns one key per distinct value; a SUBSTRING indexer returns one
// key per n-gram.
type Indexer interface {
	Keys(entry model.Entry) [][]byte
}

// Registry answers whether an attribute has an indexer for a given index
// kind. The presence of an indexer is itself the decision of whether records
// are emitted for that (attribute, kind) pair: an absent indexer means the
// entry simply contributes nothing there, not an error.
type Registry interface {
	IndexerFor(attribute string, kind indexkey.Kind) (Indexer, bool)

	// Attributes enumerates every (attribute, kind) pair the registry holds
	// an indexer for. The orchestrator calls this once, before Phase 1
	// starts, to assign every per-attribute index a stable wire-format ID
	// alongside the structural NAMING/CHILDREN/SUBTREE indexes; nothing in
	// the hot ingest path calls it.
	Attributes() []indexkey.IndexKey
}

// IndexerFunc adapts a plain function to the Indexer interface.
type IndexerFunc func(entry model.Entry) [][]byte

func (f IndexerFunc) Keys(entry model.Entry) [][]byte { return f(entry) }
