package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkimport/internal/base"
)

func TestSetAddStaysDefinedUnderLimit(t *testing.T) {
	s := New(3, true)
	s.Add(base.EntryID(5))
	s.Add(base.EntryID(1))
	s.Add(base.EntryID(3))

	require.True(t, s.IsDefined())
	assert.Equal(t, []base.EntryID{1, 3, 5}, s.Members())
}

func TestSetFlipsToUndefinedExactlyAtLimitPlusOne(t *testing.T) {
	s := New(3, true)
	s.Add(1)
	s.Add(2)
	s.Add(3)
	require.True(t, s.IsDefined())

	s.Add(4)
	require.False(t, s.IsDefined())
	assert.Equal(t, 4, s.Size())

	// Never flips back.
	s.Add(5)
	require.False(t, s.IsDefined())
}

func TestSetDuplicateAddIsNoop(t *testing.T) {
	s := New(3, true)
	s.Add(1)
	s.Add(1)
	assert.Equal(t, 1, s.Size())
}

func TestSetMergeUnionsAscending(t *testing.T) {
	a := New(10, false)
	a.Add(1)
	a.Add(3)
	b := New(10, false)
	b.Add(2)
	b.Add(3)

	a.Merge(b)
	assert.Equal(t, []base.EntryID{1, 2, 3}, a.Members())
}

func TestSetMergeUndefinedIfEitherSideIs(t *testing.T) {
	a := New(2, false)
	a.Add(1)
	a.Add(2)
	a.Add(3) // now undefined

	b := New(2, false)
	b.Add(9)

	b.Merge(a)
	assert.False(t, b.IsDefined())
}

func TestSetSerializeRoundTripDefined(t *testing.T) {
	s := New(10, false)
	s.Add(1)
	s.Add(2)
	s.Add(100)

	buf := s.Serialize()
	got, n, err := Deserialize(buf, 10, false)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.True(t, got.IsDefined())
	assert.Equal(t, s.Members(), got.Members())
}

func TestSetSerializeRoundTripUndefinedWithCount(t *testing.T) {
	s := New(2, true)
	s.Add(1)
	s.Add(2)
	s.Add(3)
	s.Add(4)

	buf := s.Serialize()
	got, n, err := Deserialize(buf, 2, true)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.False(t, got.IsDefined())
	assert.Equal(t, int64(4), got.count)
}

func TestDeserializeMalformedTruncated(t *testing.T) {
	_, _, err := Deserialize([]byte{0, 0}, 10, false)
	assert.ErrorIs(t, err, ErrMalformed)
}
