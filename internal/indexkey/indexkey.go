// Package indexkey identifies the on-disk index that a given key belongs to.
// An IndexKey tags a stream of records with the (attribute, kind) pair that
// maps bijectively to exactly one index within one suffix.
package indexkey

import (
	"fmt"

	"bulkimport/internal/compare"
)

// Kind is the flavor of index a key belongs to. The naming, children, and
// subtree kinds are structural (derived from an entry's name alone); the
// remaining kinds are per-attribute and are only present when the schema's
// indexer registry has a matching indexer for that attribute.
type Kind uint8

const (
	NAMING Kind = iota
	CHILDREN
	SUBTREE
	EQUALITY
	PRESENCE
	SUBSTRING
	ORDERING
	APPROXIMATE
	EXT_SUBSTRING
	EXT_SHARED
)

func (k Kind) String() string {
	switch k {
	case NAMING:
		return "naming"
	case CHILDREN:
		return "children"
	case SUBTREE:
		return "subtree"
	case EQUALITY:
		return "equality"
	case PRESENCE:
		return "presence"
	case SUBSTRING:
		return "substring"
	case ORDERING:
		return "ordering"
	case APPROXIMATE:
		return "approximate"
	case EXT_SUBSTRING:
		return "ext-substring"
	case EXT_SHARED:
		return "ext-shared"
	default:
		return "unknown"
	}
}

// IndexKey is a value type pairing an attribute identifier with an index
// kind. It is comparable and safe to use directly as a Go map key, the same
// role played by the tag types in a trigram-indexed search engine (shard,
// field, view): a small struct comparison replaces a hand-rolled hash.
//
// SUBSTRING indexes additionally carry a fixed key-length hint (the n-gram
// size used to derive substring keys); it participates in equality so two
// substring indexes over the same attribute with different gram sizes are
// distinct indexes.
type IndexKey struct {
	Attribute     string
	Kind          Kind
	SubstringSize int
}

// Naming builds the IndexKey for the naming index of a suffix. The naming
// index has no attribute; all entries within a suffix share it.
func Naming() IndexKey { return IndexKey{Kind: NAMING} }

// Children builds the IndexKey for a suffix's children index.
func Children() IndexKey { return IndexKey{Kind: CHILDREN} }

// Subtree builds the IndexKey for a suffix's subtree index.
func Subtree() IndexKey { return IndexKey{Kind: SUBTREE} }

// Attr builds the IndexKey for a per-attribute index of the given kind.
func Attr(attribute string, kind Kind) IndexKey {
	return IndexKey{Attribute: attribute, Kind: kind}
}

// Substr builds the IndexKey for a substring index, which additionally
// carries the fixed n-gram length used to derive its keys.
func Substr(attribute string, size int) IndexKey {
	return IndexKey{Attribute: attribute, Kind: SUBSTRING, SubstringSize: size}
}

// Name yields a stable, filesystem-safe string for this IndexKey, used as
// the run file's name during Phase 1 and as a log field during both phases.
func (k IndexKey) Name() string {
	if k.Attribute == "" {
		return k.Kind.String()
	}
	if k.Kind == SUBSTRING {
		return fmt.Sprintf("%s.%s.%d", k.Attribute, k.Kind, k.SubstringSize)
	}
	return fmt.Sprintf("%s.%s", k.Attribute, k.Kind)
}

func (k IndexKey) String() string { return k.Name() }

// Comparator returns the comparator used to order keys of this index. Every
// kind shares the same byte-lexicographic comparator; the naming index's
// ancestor-before-descendant ordering comes from how its keys are encoded
// (dn.ToSortedBytes), not from a distinct comparator.
func (k IndexKey) Comparator() compare.Compare {
	return compare.ByteCompare
}

// IDs maps each distinct IndexKey an import touches to the small integer ID
// the run-file wire format and the sort-buffer secondary sort key use in
// place of the struct itself.
type IDs map[IndexKey]uint32

// AssignIDs assigns sequential IDs to keys in the order given. The naming,
// children, and subtree indexes should be assigned first by convention so
// their IDs stay stable across suffixes, but nothing depends on that beyond
// readability.
func AssignIDs(keys ...IndexKey) IDs {
	ids := make(IDs, len(keys))
	for i, k := range keys {
		ids[k] = uint32(i)
	}
	return ids
}
