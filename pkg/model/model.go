// Package model holds the core data-model types shared across the import
// pipeline: entries, suffixes, and the rejection/summary vocabulary used to
// report on a run.
package model

import (
	"time"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
)

// Entry is an addressable record identified by a hierarchical name, carrying
// attribute multi-values. Produced by the external entry-source collaborator
// and consumed once; the core never mutates an Entry after it is emitted.
type Entry struct {
	Name       dn.Name
	Attributes map[string][]string
}

// Values returns the entry's values for attribute, or nil if it has none.
func (e Entry) Values(attribute string) []string {
	return e.Attributes[attribute]
}

// Suffix is a loading context for one base name: the target container, an
// optional source container (when migrating), include/exclude branches, and
// its attribute-index map.
type Suffix struct {
	Base dn.Name

	// IncludeBranches are minimized: no branch is an ancestor of another.
	IncludeBranches []dn.Name
	// ExcludeBranches are restricted to those under some include branch.
	ExcludeBranches []dn.Name

	// Migrate is true when entries outside the include branches (or inside
	// exclude branches) must be streamed from an existing source container
	// rather than rebuilt.
	Migrate bool
	// Clear is true when the include branch equals Base and there are no
	// excludes: the existing container is cleared outright instead of
	// migrated.
	Clear bool
}

// PlanSuffix decides, for one suffix, whether the existing container should
// be cleared, migrated around, or left untouched, mirroring the
// include/exclude decision the orchestrator must make before Phase 1 starts.
func PlanSuffix(base dn.Name, include, exclude []dn.Name, appendToExisting bool) Suffix {
	s := Suffix{Base: base, IncludeBranches: minimizeBranches(include), ExcludeBranches: exclude}

	if len(s.IncludeBranches) == 1 && s.IncludeBranches[0].Equal(base) && len(exclude) == 0 {
		s.Clear = true
		return s
	}
	if !appendToExisting && len(s.IncludeBranches) > 0 {
		s.Migrate = true
	}
	return s
}

// minimizeBranches drops any branch that is a descendant of another branch
// in the set, per the Suffix invariant that include branches contain no
// ancestor/descendant pair.
func minimizeBranches(branches []dn.Name) []dn.Name {
	var out []dn.Name
	for i, b := range branches {
		shadowed := false
		for j, other := range branches {
			if i != j && dn.IsAncestorOf(other, b) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			out = append(out, b)
		}
	}
	return out
}

// RejectReason tags why an entry was not loaded, without allocating an error
// per rejection.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectDuplicateName
	RejectMissingParent
	RejectMalformedEntry
	RejectDanglingParentAtMerge
)

func (r RejectReason) String() string {
	switch r {
	case RejectDuplicateName:
		return "duplicate-name"
	case RejectMissingParent:
		return "missing-parent"
	case RejectMalformedEntry:
		return "malformed-entry"
	case RejectDanglingParentAtMerge:
		return "dangling-parent-at-merge"
	default:
		return "none"
	}
}

// Summary is the final report returned from an import run.
type Summary struct {
	EntriesRead      int64
	EntriesLoaded    int64
	EntriesRejected  int64
	EntriesIgnored   int64
	EntriesMigrated  int64
	Elapsed          time.Duration

	// Swapped is false only when a shadow rebuild's canonical name was
	// reassigned by another process during the run: the rebuild itself
	// still succeeded and is fully committed, but the suffix's canonical
	// name still points at the original container, not this run's result.
	// Always true for a run that never targeted a shadow container.
	Swapped bool
}

// Admitted is what an import or migration worker derives for one accepted
// entry: the ID it was assigned and the suffix it belongs to.
type Admitted struct {
	ID     base.EntryID
	Suffix *Suffix
	Entry  Entry
}
