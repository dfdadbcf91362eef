package importworker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"bulkimport/internal/base"
	"bulkimport/internal/dn"
	"bulkimport/pkg/entrysource"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
)

// EmitterFactory returns the Emitter for one suffix base, constructing it
// lazily the first time a worker sees an entry under that base.
type EmitterFactory func(base dn.Name) (Emitter, error)

// RunWorkers starts the import pool: `workers` goroutines competing over
// source, each assigning entries a fresh EntryID and driving them through
// the Emitter for their suffix. It returns once every worker has stopped,
// each on source exhaustion or on its own failure, and aggregates those
// failures; one worker failing does not stop the others.
func RunWorkers(ctx context.Context, workers int, source entrysource.Source, ids *base.AtomicEntryID, emitterFor EmitterFactory, counters *progress.Counters) error {
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runWorker(ctx, source, emitterFor, ids.Next, counters); err != nil {
				errs <- err
			}
		}()
	}

	wg.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func runWorker(ctx context.Context, source entrysource.Source, emitterFor EmitterFactory, nextID func() base.EntryID, counters *progress.Counters) error {
	emitters := make(map[string]Emitter)

	flushAll := func() error {
		for _, e := range emitters {
			if err := Flush(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, hint, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return flushAll()
		}
		if err != nil {
			return err
		}

		key := hint.Base.String()
		emitter, ok := emitters[key]
		if !ok {
			emitter, err = emitterFor(hint.Base)
			if err != nil {
				return err
			}
			emitters[key] = emitter
		}

		counters.Read.Add(1)
		id := nextID()

		reason, err := emitter.Emit(ctx, id, entry)
		if err != nil {
			return err
		}
		if reason != model.RejectNone {
			counters.Rejected.Add(1)
			continue
		}
		// Not counted as Loaded here: the naming merger (internal/namingmerge)
		// is the sole authority on whether an entry actually ends up
		// committed to the naming index, since it alone can detect a
		// dangling parent when skip-name-validation left that unverified at
		// ingest. Counting here too would double-count every entry that
		// both layers agree on.
	}
}
