package compare

import (
	"bytes"
)

type Compare func(a, b []byte) int

// ByteCompare orders keys by plain byte-lexicographic comparison. Every
// index in the core uses this comparator: the naming index's "descendants
// immediately follow their ancestor" ordering is achieved by how
// dn.ToSortedBytes encodes a name, not by a different comparator, so the
// dispatch table keyed on IndexType collapses to this one function.
func ByteCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// SuffixCompare compares only the 7 bytes that precede the last byte of a
// and b: an internal key's sequence number, with the trailing kind byte
// ignored. The user-key prefix is not compared at all.
func SuffixCompare(a, b []byte) int {
	seqA := a[len(a)-8 : len(a)-1]
	seqB := b[len(b)-8 : len(b)-1]
	return bytes.Compare(seqA, seqB)
}
