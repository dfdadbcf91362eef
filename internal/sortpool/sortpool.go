// Package sortpool implements the sort executor: a bounded pool of workers
// that sort filled sort-buffers and route each one to the spill-run writer
// for its index, creating that writer the first time an index is seen.
package sortpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"bulkimport/internal/indexkey"
	"bulkimport/internal/sortbuffer"
	"bulkimport/internal/spillwriter"
)

// WriterFactory builds the spill-run writer for one index the first time the
// pool sees a buffer tagged with it.
type WriterFactory func(indexkey.IndexKey) (*spillwriter.Writer, error)

// Job is one filled buffer awaiting a sort and a spill.
type Job struct {
	Key indexkey.IndexKey
	Buf *sortbuffer.Buffer
}

type writerHandle struct {
	writer *spillwriter.Writer
	done   chan struct{}
	runs   []spillwriter.RunIndex
	err    error
}

// Pool is the sort executor. Its workers are stateless; all shared state
// lives in the writers map, guarded by mu, so writer creation stays
// idempotent regardless of which worker sees an index first.
type Pool struct {
	factory WriterFactory
	release func(*sortbuffer.Buffer)

	jobs chan Job

	mu      sync.Mutex
	writers map[indexkey.IndexKey]*writerHandle

	wg sync.WaitGroup
}

// New starts a pool of `workers` sort-executor goroutines against ctx.
// release returns a drained buffer to the shared free pool once its writer
// has consumed it.
func New(ctx context.Context, workers int, factory WriterFactory, release func(*sortbuffer.Buffer)) *Pool {
	p := &Pool{
		factory: factory,
		release: release,
		jobs:    make(chan Job, workers*2),
		writers: make(map[indexkey.IndexKey]*writerHandle),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	return p
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	job.Buf.SetComparator(job.Key.Comparator())
	if err := job.Buf.Sort(); err != nil {
		p.markFailed(job.Key, fmt.Errorf("sortpool: sorting buffer for %s: %w", job.Key, err))
		return
	}

	h, err := p.handleFor(ctx, job.Key)
	if err != nil {
		p.markFailed(job.Key, err)
		return
	}
	if err := h.writer.Enqueue(ctx, job.Buf); err != nil {
		p.markFailed(job.Key, err)
	}
}

// handleFor returns key's writer handle, creating and launching its drain
// goroutine on first use. Creation is idempotent under mu: whichever worker
// wins the race creates the writer, the rest just look it up.
func (p *Pool) handleFor(ctx context.Context, key indexkey.IndexKey) (*writerHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.writers[key]; ok {
		return h, nil
	}

	w, err := p.factory(key)
	if err != nil {
		return nil, fmt.Errorf("sortpool: creating spill writer for %s: %w", key, err)
	}
	h := &writerHandle{writer: w, done: make(chan struct{})}
	p.writers[key] = h

	go func() {
		defer close(h.done)
		h.runs, h.err = w.Run(ctx, p.release)
	}()

	return h, nil
}

func (p *Pool) markFailed(key indexkey.IndexKey, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.writers[key]; ok {
		if h.err == nil {
			h.err = err
		}
		return
	}
	h := &writerHandle{done: make(chan struct{}), err: err}
	close(h.done)
	p.writers[key] = h
}

// Submit hands one filled buffer to the pool's job queue, blocking while
// that queue (two jobs per worker) is full or until ctx is cancelled.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish closes the job queue, waits for every worker to drain, poisons
// every writer that was created, and waits for their drain goroutines to
// finish. It returns each index's completed run list and an aggregated
// error if any sort or writer failed.
func (p *Pool) Finish(ctx context.Context) (map[indexkey.IndexKey][]spillwriter.RunIndex, error) {
	close(p.jobs)
	p.wg.Wait()

	p.mu.Lock()
	handles := make(map[indexkey.IndexKey]*writerHandle, len(p.writers))
	for k, h := range p.writers {
		handles[k] = h
	}
	p.mu.Unlock()

	for _, h := range handles {
		if h.writer != nil {
			_ = h.writer.Enqueue(ctx, sortbuffer.Poison())
		}
	}

	var result *multierror.Error
	runs := make(map[indexkey.IndexKey][]spillwriter.RunIndex, len(handles))
	for key, h := range handles {
		<-h.done
		if h.err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", key, h.err))
			continue
		}
		runs[key] = h.runs
	}
	return runs, result.ErrorOrNil()
}
