package bulkimport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"bulkimport/internal/indexkey"
	"bulkimport/internal/namingmerge"
	"bulkimport/internal/runmerge"
	"bulkimport/internal/spillwriter"
	"bulkimport/pkg/model"
	"bulkimport/pkg/progress"
	"bulkimport/pkg/store"
)

// runPhase2 merges every index's spilled runs into posting lists and bulk-
// inserts them into container, one merger task per index bounded by a pool
// of size 2*len(allIndexes) (component I/J run concurrently with each
// other, reusing the index-write concurrency budget rather than a separate
// pool for each).
func runPhase2(ctx context.Context, st store.Store, container store.ContainerID, allIndexes []indexkey.IndexKey, suffix model.Suffix, tempDir string, runs map[indexkey.IndexKey][]spillwriter.RunIndex, counters *progress.Counters, log *logrus.Entry) error {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reporter := progress.New(log, "phase2", tickInterval, counters, nil)
	go reporter.Run(phaseCtx)
	defer reporter.Tick()

	sem := make(chan struct{}, 2*len(allIndexes))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error

	namingKey, childrenKey, subtreeKey := indexkey.Naming(), indexkey.Children(), indexkey.Subtree()

	for _, k := range allIndexes {
		if k == childrenKey || k == subtreeKey {
			continue
		}

		k := k
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			var err error
			if k == namingKey {
				_, err = namingmerge.Merge(ctx, st, container, suffix.Base, namingKey, childrenKey, subtreeKey, runFilePath(tempDir, k), runs[k], counters)
			} else {
				err = runmerge.Merge(ctx, st, container, k, runFilePath(tempDir, k), runs[k])
			}
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", k, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errs.ErrorOrNil()
}
