// Package memplan derives Phase 1's sort-buffer size, store cache size, and
// log-buffer size from the memory available to the process, and Phase 2's
// per-run read-ahead cache size from its own, separately-budgeted share.
package memplan

import (
	"errors"
	"fmt"
)

const (
	kib = 1 << 10
	mib = 1 << 20

	maxStoreCache    = 128 * mib
	maxLogBuf        = 100 * mib
	fallbackStoreCache = 16 * mib
	minBufferSize    = 100 * kib
	maxBufferSize    = 48 * mib
	minReadAheadCache = 4 * kib

	phase1Fraction = 0.45
	phase2Fraction = 0.50

	// MinAvailableMemory is the hard floor below which planning aborts
	// outright rather than degrading further.
	MinAvailableMemory = 16 * mib
)

var ErrMemoryTooLow = errors.New("memplan: available memory below the minimum required to import")

// PlanResult is the result of sizing Phase 1's buffer pool for one import run.
type PlanResult struct {
	BufferSize      uint // per sort-buffer tail capacity, in bytes
	StoreCacheSize  uint
	LogBufferSize   uint // 0 means the log buffer is disabled
	BufferCount     int  // 2 * N * M (N indexes, M workers)
	warnedAtFloor   bool
}

// WarnedAtFloor reports whether the planner had to clamp buf_size to the
// hard floor after the store-cache fallback still didn't fit, the condition
// the original planner surfaces as a warning rather than an abort.
func (p PlanResult) WarnedAtFloor() bool { return p.warnedAtFloor }

// Plan derives Phase 1's buffer sizing from the available memory M, the
// number of distinct indexes N, and the worker count W. It aborts with
// ErrMemoryTooLow if M is below MinAvailableMemory.
func Plan(availableMemory uint, indexes, workers int) (PlanResult, error) {
	if availableMemory < MinAvailableMemory {
		return PlanResult{}, fmt.Errorf("%w: have %d bytes, need at least %d", ErrMemoryTooLow, availableMemory, MinAvailableMemory)
	}

	buffers := 2 * indexes * workers
	if buffers <= 0 {
		buffers = 1
	}

	storeCache := clampMax(availableMemory, maxStoreCache)
	logBuf := clampMax(availableMemory, maxLogBuf)
	bufSize := target(availableMemory, storeCache, logBuf, buffers)

	if bufSize < minBufferSize {
		// Fallback ladder: shrink the store cache and disable the log buffer,
		// then re-solve.
		storeCache = clampMax(availableMemory, fallbackStoreCache)
		logBuf = 0
		bufSize = target(availableMemory, storeCache, logBuf, buffers)

		if bufSize < minBufferSize {
			return PlanResult{
				BufferSize:     minBufferSize,
				StoreCacheSize: storeCache,
				LogBufferSize:  logBuf,
				BufferCount:    buffers,
				warnedAtFloor:  true,
			}, nil
		}
	}

	return PlanResult{
		BufferSize:     clamp(bufSize, minBufferSize, maxBufferSize),
		StoreCacheSize: storeCache,
		LogBufferSize:  logBuf,
		BufferCount:    buffers,
	}, nil
}

func target(availableMemory, storeCache, logBuf uint, buffers int) uint {
	budget := uint(float64(availableMemory) * phase1Fraction)
	if budget <= storeCache+logBuf {
		return 0
	}
	return (budget - storeCache - logBuf) / uint(buffers)
}

func clampMax(availableMemory, cap uint) uint {
	if availableMemory < cap {
		return availableMemory
	}
	return cap
}

func clamp(v, lo, hi uint) uint {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ReadAheadCacheSize splits Phase 2's separately-computed free-memory budget
// (phase2Fraction * M) equally among the currently live spill runs, floored
// at 4KiB and capped at the Phase 1 buffer size so Phase 2 never asks for
// more per-run cache than Phase 1 budgeted per buffer.
func ReadAheadCacheSize(availableMemory uint, liveRuns int, phase1BufferSize uint) uint {
	if liveRuns <= 0 {
		liveRuns = 1
	}
	budget := uint(float64(availableMemory) * phase2Fraction)
	perRun := budget / uint(liveRuns)
	return clamp(perRun, minReadAheadCache, phase1BufferSize)
}
