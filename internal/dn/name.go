// Package dn implements the small amount of hierarchical-name algebra the
// core needs: parent/ancestor relationships and the reverse-component byte
// encoding that makes the naming index sort descendants immediately after
// their ancestors.
//
// A Name is a sequence of components ordered root-last, e.g. the name
// "c,b,o=x" has components ["c","b","o=x"]: "o=x" is the suffix base, "b" is
// its child, "c" is the leaf. This is deliberately a minimal algebra, not a
// full name-syntax parser — that belongs to the external parser collaborator
// (out of scope, §1).
package dn

import "strings"

// Name is a parsed hierarchical name, root-last.
type Name struct {
	components []string
}

// Parse splits a comma-separated textual name into components, trimming
// surrounding whitespace from each component.
func Parse(raw string) Name {
	parts := strings.Split(raw, ",")
	components := make([]string, len(parts))
	for i, p := range parts {
		components[i] = strings.TrimSpace(p)
	}
	return Name{components: components}
}

// String renders the name back to its textual form.
func (n Name) String() string {
	return strings.Join(n.components, ",")
}

// IsZero reports whether n has no components (the unparsed zero value).
func (n Name) IsZero() bool { return len(n.components) == 0 }

// Equal reports whether a and b have identical components.
func (a Name) Equal(b Name) bool {
	if len(a.components) != len(b.components) {
		return false
	}
	for i := range a.components {
		if a.components[i] != b.components[i] {
			return false
		}
	}
	return true
}

// Depth returns the number of components in the name.
func (n Name) Depth() int { return len(n.components) }

// Parent returns the immediate parent of n (n with its leaf component
// dropped) and whether n had a parent at all (a single-component name has
// none).
func (n Name) Parent() (Name, bool) {
	if len(n.components) <= 1 {
		return Name{}, false
	}
	return Name{components: n.components[1:]}, true
}

// ParentWithinBase returns n's parent, but only if that parent is equal to
// or a descendant of base (i.e. still inside the suffix being loaded). A
// suffix's own base name has no parent within itself.
func ParentWithinBase(n, base Name) (Name, bool) {
	parent, ok := n.Parent()
	if !ok {
		return Name{}, false
	}
	if !IsAncestorOf(base, parent) && !base.Equal(parent) {
		return Name{}, false
	}
	return parent, true
}

// IsAncestorOf reports whether a is a strict ancestor of b: b has strictly
// more components than a, and a's components are b's trailing (root-ward)
// components.
func IsAncestorOf(a, b Name) bool {
	if len(a.components) >= len(b.components) {
		return false
	}
	offset := len(b.components) - len(a.components)
	for i, c := range a.components {
		if b.components[offset+i] != c {
			return false
		}
	}
	return true
}

// StrictAncestors returns every strict ancestor of n within base, ordered
// from the immediate parent outward to base itself. Used to derive SUBTREE
// index records during import (one record per ancestor).
func StrictAncestors(n, base Name) []Name {
	var out []Name
	cur := n
	for {
		parent, ok := ParentWithinBase(cur, base)
		if !ok {
			break
		}
		out = append(out, parent)
		if parent.Equal(base) {
			break
		}
		cur = parent
	}
	return out
}

// nameSeparator delimits reversed components in the sorted-byte encoding. It
// must not appear in any component; 0x00 is safe for textual names.
const nameSeparator = 0x00

// ToSortedBytes encodes n so that byte-lexicographic order matches the
// naming index's required order: every ancestor sorts immediately before,
// and as a byte-prefix of, its descendants. This is achieved by reversing
// component order (root-first) and separating every component (including
// the last) with a sentinel byte, so an ancestor's encoding is always a
// proper prefix of any descendant's.
func ToSortedBytes(n Name) []byte {
	var buf []byte
	for i := len(n.components) - 1; i >= 0; i-- {
		buf = append(buf, n.components[i]...)
		buf = append(buf, nameSeparator)
	}
	return buf
}
