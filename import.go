// Package bulkimport is the orchestrator (component K): it sequences Phase 1
// (parse, derive index keys, sort, spill runs) and Phase 2 (k-way merge runs
// into posting lists, bulk-insert) for one suffix against a pkg/store.Store,
// and is the sole public entrypoint the rest of this module exists to serve.
package bulkimport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/internal/importworker"
	"bulkimport/internal/indexkey"
	"bulkimport/internal/memplan"
	"bulkimport/internal/migrate"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/sortpool"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/config"
	"bulkimport/pkg/entrysource"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/schema"
	"bulkimport/pkg/storage"
	"bulkimport/pkg/store"
)

// tickInterval is the progress reporter's logging cadence for both phases.
const tickInterval = 10 * time.Second

// sortHeaderRatio derives the sort-buffer header slot count from the
// planner's per-buffer byte budget: internal/memplan only sizes the tail's
// byte budget, not a slot count, so this assumes an average record header
// is around 64 bytes of tail space.
const sortHeaderRatio = 64

const minHeaderCapacity = 64

// Import runs one suffix's bulk load: it streams entries from source through
// schema-driven index derivation, spills sorted runs, merges them into
// posting lists, and bulk-inserts the result into st. On success every index
// touched is marked trusted and, for a suffix that rebuilt into a shadow
// container, the shadow is swapped into the canonical container's place.
func Import(ctx context.Context, cfg config.Config, st store.Store, source entrysource.Source, registry schema.Registry) (*model.Summary, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if cfg.ThreadCount <= 0 {
		cfg.ThreadCount = 2 * runtime.NumCPU()
	}

	suffix := model.PlanSuffix(cfg.SuffixBase, cfg.IncludeBranches, cfg.ExcludeBranches, cfg.AppendToExisting)
	if cfg.ClearBackend {
		suffix.Clear = true
		suffix.Migrate = false
	}

	log := logrus.WithField("suffix", suffix.Base.String())

	allIndexes := append([]indexkey.IndexKey{indexkey.Naming(), indexkey.Children(), indexkey.Subtree()}, registry.Attributes()...)
	ids := indexkey.AssignIDs(allIndexes...)

	flusher := storage.RuntimeFlusher{Budget: cfg.MemoryBudget}
	plan, err := memplan.Plan(flusher.AvailableBytes(), len(allIndexes), cfg.ThreadCount)
	if err != nil {
		return nil, fmt.Errorf("bulkimport: %w", err)
	}
	if plan.WarnedAtFloor() {
		log.Warn("memory planner clamped sort-buffer size to its hard floor")
	}

	if err := os.MkdirAll(cfg.TempDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("bulkimport: creating temp directory %s: %w", cfg.TempDirectory, err)
	}

	target, err := prepareContainer(ctx, st, suffix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.UnlockContainer(ctx, target.id) }()

	counters := &progress.Counters{}
	stats := func() progress.MemoryStats {
		return progress.MemoryStats{AvailableBytes: flusher.AvailableBytes()}
	}
	reporter := progress.New(log, "summary", tickInterval, counters, stats)

	headerCapacity := int(plan.BufferSize / sortHeaderRatio)
	if headerCapacity < minHeaderCapacity {
		headerCapacity = minHeaderCapacity
	}
	bufPool := sortbuffer.NewPool(plan.BufferCount, headerCapacity, plan.BufferSize)

	runs, err := runPhase1(ctx, phase1Input{
		cfg:      cfg,
		suffix:   suffix,
		target:   target,
		st:       st,
		source:   source,
		registry: registry,
		ids:      ids,
		bufPool:  bufPool,
		counters: counters,
		log:      log,
	})
	if err != nil {
		abortContainer(ctx, st, target)
		_ = os.RemoveAll(cfg.TempDirectory)
		return nil, fmt.Errorf("bulkimport: phase 1: %w", err)
	}

	if err := runPhase2(ctx, st, target.id, allIndexes, suffix, cfg.TempDirectory, runs, counters, log); err != nil {
		abortContainer(ctx, st, target)
		_ = os.RemoveAll(cfg.TempDirectory)
		return nil, fmt.Errorf("bulkimport: phase 2: %w", err)
	}

	for _, k := range allIndexes {
		if err := st.MarkIndexTrusted(ctx, target.id, k); err != nil {
			return nil, fmt.Errorf("bulkimport: marking %s trusted: %w", k, err)
		}
	}

	swapped := true
	if target.temporary {
		var err error
		swapped, err = SwapContainer(ctx, st, suffix.Base.String(), target.original, target.hasOriginal, target.id)
		if err != nil {
			return nil, fmt.Errorf("bulkimport: %w", err)
		}
		if !swapped {
			log.Warn("suffix name was reassigned by another process during rebuild; keeping the original in place and discarding this rebuild's shadow")
		}
	}

	_ = os.RemoveAll(cfg.TempDirectory)

	summary := reporter.Summary()
	summary.Swapped = swapped
	return &summary, nil
}

// validate checks the subset of config.Config's invariants that matter once
// it has already been built rather than assembled through config.Resolve's
// Option chain (ThreadCount's auto-default is handled separately by Import,
// since zero is a legal input here, not a validation failure).
func validate(cfg config.Config) error {
	if cfg.TempDirectory == "" {
		return fmt.Errorf("bulkimport: temp directory is required")
	}
	if cfg.ClearBackend && len(cfg.IncludeBranches) > 0 {
		return fmt.Errorf("bulkimport: clear-backend is contradictory with include-branches")
	}
	if cfg.SuffixBase.IsZero() {
		return fmt.Errorf("bulkimport: suffix base is required")
	}
	return nil
}

// preparedContainer is the target container Phase 1 and Phase 2 write into,
// plus what's needed to finalize or roll it back afterward.
type preparedContainer struct {
	id          store.ContainerID
	original    store.ContainerID
	hasOriginal bool
	temporary   bool

	// appended is true exactly when id is an already-populated container
	// reused in place (no clear, no migration shadow): runPhase1 then
	// preloads its naming index for duplicate/replace detection, since a
	// fresh per-run NameIndex alone has no way to see it.
	appended bool
}

// prepareContainer opens or resolves the container a suffix's rebuild
// targets, per its Clear/Migrate/append-to-existing plan, and locks it for
// the run's duration.
func prepareContainer(ctx context.Context, st store.Store, suffix model.Suffix) (preparedContainer, error) {
	name := suffix.Base.String()
	original, hasOriginal := resolveCanonical(st, name)

	switch {
	case suffix.Clear:
		if hasOriginal {
			if err := st.LockContainer(ctx, original); err != nil {
				return preparedContainer{}, fmt.Errorf("bulkimport: locking %s for clear: %w", name, err)
			}
			if err := st.CloseContainer(ctx, original); err != nil {
				return preparedContainer{}, fmt.Errorf("bulkimport: closing %s: %w", name, err)
			}
			if err := st.DeleteContainer(ctx, original); err != nil {
				return preparedContainer{}, fmt.Errorf("bulkimport: deleting %s: %w", name, err)
			}
		}
		id, err := st.OpenContainer(ctx, name, false)
		if err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: opening %s: %w", name, err)
		}
		if err := st.RegisterContainer(ctx, id, name); err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: registering %s: %w", name, err)
		}
		if err := st.LockContainer(ctx, id); err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: locking %s: %w", name, err)
		}
		return preparedContainer{id: id}, nil

	case suffix.Migrate:
		id, err := st.OpenContainer(ctx, name, true)
		if err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: opening shadow for %s: %w", name, err)
		}
		if err := st.LockContainer(ctx, id); err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: locking shadow for %s: %w", name, err)
		}
		return preparedContainer{id: id, original: original, hasOriginal: hasOriginal, temporary: true}, nil

	default:
		if hasOriginal {
			if err := st.LockContainer(ctx, original); err != nil {
				return preparedContainer{}, fmt.Errorf("bulkimport: locking %s: %w", name, err)
			}
			return preparedContainer{id: original, original: original, hasOriginal: true, appended: true}, nil
		}
		id, err := st.OpenContainer(ctx, name, false)
		if err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: opening %s: %w", name, err)
		}
		if err := st.RegisterContainer(ctx, id, name); err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: registering %s: %w", name, err)
		}
		if err := st.LockContainer(ctx, id); err != nil {
			return preparedContainer{}, fmt.Errorf("bulkimport: locking %s: %w", name, err)
		}
		return preparedContainer{id: id}, nil
	}
}

// abortContainer best-effort cleans up a shadow container on failure; a
// non-shadow container is left exactly as it is (its indexes were never
// marked trusted, which is the whole invariant a reader depends on).
func abortContainer(ctx context.Context, st store.Store, target preparedContainer) {
	if !target.temporary {
		return
	}
	_ = st.CloseContainer(ctx, target.id)
	_ = st.DeleteContainer(ctx, target.id)
}

type phase1Input struct {
	cfg      config.Config
	suffix   model.Suffix
	target   preparedContainer
	st       store.Store
	source   entrysource.Source
	registry schema.Registry
	ids      indexkey.IDs
	bufPool  *sortbuffer.Pool
	counters *progress.Counters
	log      *logrus.Entry
}

// runPhase1 drives migrate-existing, the import worker pool, and
// migrate-excluded in sequence against one shared sort-buffer pool and sort
// executor, then drains every spill writer.
func runPhase1(ctx context.Context, in phase1Input) (map[indexkey.IndexKey][]spillwriter.RunIndex, error) {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reporter := progress.New(in.log, "phase1", tickInterval, in.counters, nil)
	go reporter.Run(phaseCtx)

	workers := in.cfg.ThreadCount

	writerFactory := func(k indexkey.IndexKey) (*spillwriter.Writer, error) {
		path := runFilePath(in.cfg.TempDirectory, k)
		return spillwriter.New(path, in.ids[k], in.st.IndexEntryLimit(k), in.st.MaintainCount(k), workers)
	}
	sortPool := sortpool.New(phaseCtx, workers, writerFactory, in.bufPool.Put)

	names := importworker.NewNameIndex()
	idGen := &base.AtomicEntryID{}

	var errs *multierror.Error
	var existing *importworker.ExistingIndex
	if in.target.appended {
		idx, err := importworker.LoadExistingIndex(ctx, in.st, in.target.id, in.cfg.ReplaceExistingEntries)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("loading existing container state: %w", err))
		} else {
			idx.Seed(names)
			existing = idx
		}
	}

	emitterFor := func(base dn.Name) (importworker.Emitter, error) {
		return importworker.NewEmitter(in.suffix, in.registry, in.cfg.SkipNameValidation, names, existing, in.bufPool, sortPool, in.ids, in.st, in.target.id, in.counters), nil
	}

	if errs.ErrorOrNil() == nil && in.suffix.Migrate && in.target.hasOriginal {
		cursor, err := in.st.Entries(ctx, in.target.original)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("opening migrate-existing cursor: %w", err))
		} else {
			emitter, _ := emitterFor(in.suffix.Base)
			filter := migrate.NotUnderAnyBranch(in.suffix.IncludeBranches)
			if err := migrate.Run(ctx, cursor, filter, idGen.Next, emitter, in.counters); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("migrate-existing: %w", err))
			} else if err := importworker.Flush(ctx, emitter); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("migrate-existing flush: %w", err))
			}
		}
	}

	if errs.ErrorOrNil() == nil {
		if err := importworker.RunWorkers(ctx, workers, in.source, idGen, emitterFor, in.counters); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("import workers: %w", err))
		}
	}

	if errs.ErrorOrNil() == nil && in.suffix.Migrate && in.target.hasOriginal && len(in.suffix.ExcludeBranches) > 0 {
		cursor, err := in.st.Entries(ctx, in.target.original)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("opening migrate-excluded cursor: %w", err))
		} else {
			emitter, _ := emitterFor(in.suffix.Base)
			filter := migrate.UnderAnyBranch(in.suffix.ExcludeBranches)
			if err := migrate.Run(ctx, cursor, filter, idGen.Next, emitter, in.counters); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("migrate-excluded: %w", err))
			} else if err := importworker.Flush(ctx, emitter); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("migrate-excluded flush: %w", err))
			}
		}
	}

	runs, err := sortPool.Finish(ctx)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("draining sort executor: %w", err))
	}

	cancel()
	reporter.Tick()

	return runs, errs.ErrorOrNil()
}

func runFilePath(tempDir string, k indexkey.IndexKey) string {
	return filepath.Join(tempDir, k.Name()+".run")
}
