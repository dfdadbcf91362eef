package dn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParentWithinBase(t *testing.T) {
	base := Parse("o=x")
	c := Parse("c,b,o=x")

	parent, ok := ParentWithinBase(c, base)
	require.True(t, ok)
	assert.Equal(t, "b,o=x", parent.String())

	_, ok = ParentWithinBase(base, base)
	assert.False(t, ok)
}

func TestIsAncestorOf(t *testing.T) {
	base := Parse("o=x")
	b := Parse("b,o=x")
	c := Parse("c,b,o=x")

	assert.True(t, IsAncestorOf(base, b))
	assert.True(t, IsAncestorOf(base, c))
	assert.True(t, IsAncestorOf(b, c))
	assert.False(t, IsAncestorOf(c, b))
	assert.False(t, IsAncestorOf(base, base))
}

func TestStrictAncestors(t *testing.T) {
	base := Parse("o=x")
	c := Parse("c,b,o=x")

	anc := StrictAncestors(c, base)
	require.Len(t, anc, 2)
	assert.Equal(t, "b,o=x", anc[0].String())
	assert.Equal(t, "o=x", anc[1].String())
}

func TestToSortedBytesOrdersAncestorsBeforeDescendants(t *testing.T) {
	base := ToSortedBytes(Parse("o=x"))
	a := ToSortedBytes(Parse("a,o=x"))
	c := ToSortedBytes(Parse("c,b,o=x"))

	assert.True(t, bytes.Compare(base, a) < 0)
	assert.True(t, bytes.HasPrefix(a, base))
	assert.True(t, bytes.Compare(base, c) < 0)
}
