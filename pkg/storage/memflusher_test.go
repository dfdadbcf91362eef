package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeFlusherSatisfiesFlusher(t *testing.T) {
	var f Flusher = RuntimeFlusher{Budget: 64 << 20}
	assert.GreaterOrEqual(t, f.TotalBytes(), uint(64<<20-1))
	f.Flush()
}

func TestRuntimeFlusherZeroBudgetFallsBackToHeapStats(t *testing.T) {
	f := RuntimeFlusher{}
	assert.Greater(t, f.TotalBytes(), uint(0))
}
