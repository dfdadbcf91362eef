// Package progress reports import progress as structured log entries on a
// fixed interval, and produces the final run summary.
package progress

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"bulkimport/pkg/model"
)

// Counters is the shared, lock-free tally a Reporter samples on each tick
// and workers update as they process entries.
type Counters struct {
	Read     atomic.Int64
	Loaded   atomic.Int64
	Rejected atomic.Int64
	Ignored  atomic.Int64
	Migrated atomic.Int64
}

// Snapshot freezes Counters at a point in time for Summary.
func (c *Counters) Snapshot() model.Summary {
	return model.Summary{
		EntriesRead:     c.Read.Load(),
		EntriesLoaded:   c.Loaded.Load(),
		EntriesRejected: c.Rejected.Load(),
		EntriesIgnored:  c.Ignored.Load(),
		EntriesMigrated: c.Migrated.Load(),
	}
}

// MemoryStats is sampled once per tick to report free memory and store
// cache behavior alongside entry counts. Every field is logged on each tick,
// zero or not; a zero field never causes an error.
type MemoryStats struct {
	AvailableBytes  uint
	StoreCacheMisses int64
	Evictions        int64
	CheckpointCount  int64
}

// StatsFunc samples the current MemoryStats; Reporter calls it once per
// tick, never from a hot path.
type StatsFunc func() MemoryStats

// Reporter logs a periodic progress line and can produce a final summary.
type Reporter struct {
	log      *logrus.Entry
	counters *Counters
	stats    StatsFunc
	interval time.Duration
	phase    string
	started  time.Time
}

// New creates a Reporter that logs under the given phase label (e.g.
// "phase1", "phase2") every interval.
func New(log *logrus.Entry, phase string, interval time.Duration, counters *Counters, stats StatsFunc) *Reporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reporter{
		log:      log,
		counters: counters,
		stats:    stats,
		interval: interval,
		phase:    phase,
		started:  time.Now(),
	}
}

// Run logs a tick every interval until ctx is cancelled. Intended to run in
// its own goroutine for the duration of a phase.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// Tick logs one progress line immediately.
func (r *Reporter) Tick() {
	elapsed := time.Since(r.started).Seconds()
	snap := r.counters.Snapshot()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(snap.EntriesRead) / elapsed
	}

	entry := r.log.WithFields(logrus.Fields{
		"phase":    r.phase,
		"read":     snap.EntriesRead,
		"loaded":   snap.EntriesLoaded,
		"rejected": snap.EntriesRejected,
		"ignored":  snap.EntriesIgnored,
		"rate":     rate,
	})
	if r.stats != nil {
		s := r.stats()
		entry = entry.WithFields(logrus.Fields{
			"free_memory":        s.AvailableBytes,
			"store_cache_misses": s.StoreCacheMisses,
			"evictions":          s.Evictions,
			"checkpoints":        s.CheckpointCount,
		})
	}
	entry.Info("import progress")
}

// Summary finalizes the run: stamps elapsed time and logs the closing line.
func (r *Reporter) Summary() model.Summary {
	s := r.counters.Snapshot()
	s.Elapsed = time.Since(r.started)
	r.log.WithFields(logrus.Fields{
		"read":     s.EntriesRead,
		"loaded":   s.EntriesLoaded,
		"rejected": s.EntriesRejected,
		"ignored":  s.EntriesIgnored,
		"migrated": s.EntriesMigrated,
		"elapsed":  s.Elapsed.Seconds(),
	}).Info("import complete")
	return s
}
