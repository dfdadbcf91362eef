// Package idset implements the posting list attached to one index key: a
// sorted set of EntryIDs that collapses to a count-only sentinel once it
// grows past the index's configured entry limit.
package idset

import (
	"encoding/binary"
	"errors"
	"sort"

	"bulkimport/internal/base"
)

// undefinedLen is the sentinel insert-length that marks a serialized set as
// UNDEFINED, per the run-file wire format.
const undefinedLen = 0xFFFFFFFF

var ErrMalformed = errors.New("idset: malformed serialized set")

// Set is a sorted set of EntryIDs with a size limit L. Below the limit it is
// DEFINED and holds every member explicitly; once a merge would push it past
// L it becomes UNDEFINED and only a count (when maintainCount is set) is
// retained. UNDEFINED never reverts to DEFINED.
type Set struct {
	limit        int
	maintainCount bool

	defined bool
	ids     []base.EntryID // strictly ascending while defined
	count   int64          // valid once undefined, if maintainCount
}

// New returns an empty DEFINED set bounded by limit entries.
func New(limit int, maintainCount bool) *Set {
	return &Set{limit: limit, maintainCount: maintainCount, defined: true}
}

// IsDefined reports whether the set still holds its members explicitly.
func (s *Set) IsDefined() bool { return s.defined }

// Size returns the number of members. While UNDEFINED this is the maintained
// count (0 if count-maintenance is disabled, per spec — callers must not
// treat 0 as "empty" in that case).
func (s *Set) Size() int {
	if s.defined {
		return len(s.ids)
	}
	return int(s.count)
}

// Add inserts id into the set, transitioning to UNDEFINED if this would grow
// the set past the limit. On an already-UNDEFINED set this only advances the
// maintained count.
func (s *Set) Add(id base.EntryID) {
	if !s.defined {
		if s.maintainCount {
			s.count++
		}
		return
	}

	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return // already present
	}
	if len(s.ids)+1 > s.limit {
		s.becomeUndefined(int64(len(s.ids)) + 1)
		return
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}

// Remove deletes id from a DEFINED set. It is a no-op on an UNDEFINED set
// other than decrementing the maintained count, mirroring Add's asymmetry:
// once a set is UNDEFINED, individual membership is no longer tracked.
func (s *Set) Remove(id base.EntryID) {
	if !s.defined {
		if s.maintainCount && s.count > 0 {
			s.count--
		}
		return
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
}

func (s *Set) becomeUndefined(count int64) {
	s.defined = false
	s.ids = nil
	if s.maintainCount {
		s.count = count
	} else {
		s.count = 0
	}
}

// Merge unions other into s. The result is UNDEFINED if either operand is
// UNDEFINED or if the union would exceed the limit.
func (s *Set) Merge(other *Set) {
	if !s.defined || !other.defined {
		var count int64
		if s.maintainCount {
			count = s.unionCountEstimate(other)
		}
		s.becomeUndefined(count)
		return
	}

	merged := make([]base.EntryID, 0, len(s.ids)+len(other.ids))
	i, j := 0, 0
	for i < len(s.ids) && j < len(other.ids) {
		switch {
		case s.ids[i] < other.ids[j]:
			merged = append(merged, s.ids[i])
			i++
		case s.ids[i] > other.ids[j]:
			merged = append(merged, other.ids[j])
			j++
		default:
			merged = append(merged, s.ids[i])
			i++
			j++
		}
	}
	merged = append(merged, s.ids[i:]...)
	merged = append(merged, other.ids[j:]...)

	if len(merged) > s.limit {
		s.becomeUndefined(int64(len(merged)))
		return
	}
	s.ids = merged
}

// unionCountEstimate is used only when at least one operand is already
// UNDEFINED and exact membership is unavailable; it is the best maintainable
// count (sum of what each side can still report), matching the store engine's
// own behaviour of treating an UNDEFINED count as approximate once reached.
func (s *Set) unionCountEstimate(other *Set) int64 {
	return s.Size64() + other.Size64()
}

// Size64 is Size as an int64, used internally to avoid repeated conversions.
func (s *Set) Size64() int64 {
	if s.defined {
		return int64(len(s.ids))
	}
	return s.count
}

// Members returns the defined set's members. It panics if the set is
// UNDEFINED; callers must check IsDefined first.
func (s *Set) Members() []base.EntryID {
	if !s.defined {
		panic("idset: Members called on undefined set")
	}
	return s.ids
}

// Serialize writes the set in the run-file wire format:
// {len:4 | id:8 * (len/8)}, with len = 0xFFFFFFFF encoding UNDEFINED,
// optionally followed by an 8-byte count when maintainCount is set.
func (s *Set) Serialize() []byte {
	if !s.defined {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, undefinedLen)
		if s.maintainCount {
			count := make([]byte, 8)
			binary.BigEndian.PutUint64(count, uint64(s.count))
			buf = append(buf, count...)
		}
		return buf
	}

	buf := make([]byte, 4+8*len(s.ids))
	binary.BigEndian.PutUint32(buf, uint32(len(s.ids)*8))
	for i, id := range s.ids {
		binary.BigEndian.PutUint64(buf[4+8*i:], uint64(id))
	}
	return buf
}

// Deserialize reconstructs a Set from its wire form, reading exactly the
// bytes Serialize would have produced and returning the number consumed.
func Deserialize(buf []byte, limit int, maintainCount bool) (*Set, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrMalformed
	}
	length := binary.BigEndian.Uint32(buf)
	if length == undefinedLen {
		s := &Set{limit: limit, maintainCount: maintainCount, defined: false}
		consumed := 4
		if maintainCount {
			if len(buf) < 12 {
				return nil, 0, ErrMalformed
			}
			s.count = int64(binary.BigEndian.Uint64(buf[4:12]))
			consumed = 12
		}
		return s, consumed, nil
	}

	if length%8 != 0 || len(buf) < int(4+length) {
		return nil, 0, ErrMalformed
	}
	n := int(length / 8)
	ids := make([]base.EntryID, n)
	for i := 0; i < n; i++ {
		ids[i] = base.EntryID(binary.BigEndian.Uint64(buf[4+8*i:]))
	}
	return &Set{limit: limit, maintainCount: maintainCount, defined: true, ids: ids}, 4 + int(length), nil
}
