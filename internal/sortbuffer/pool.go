package sortbuffer

import "context"

// Pool is the shared free-buffer queue: a multi-producer, multi-consumer
// FIFO of reset buffers. Import workers (producers of filled buffers, but
// also consumers of free ones) and the sort executor (consumer of filled
// buffers, producer of freed ones once drained) all share one Pool.
type Pool struct {
	free chan *Buffer
}

// NewPool preallocates count buffers of the given header capacity and tail
// size and seeds the free queue with them. Buffers are never allocated
// outside of this call; every later Get/Put recycles one of these.
func NewPool(count, headerCapacity int, tailSize uint) *Pool {
	p := &Pool{free: make(chan *Buffer, count)}
	for i := 0; i < count; i++ {
		p.free <- New(headerCapacity, tailSize)
	}
	return p
}

// Get pulls a free buffer, blocking until one is available or ctx is
// cancelled. A poison buffer pulled from the pool means the import has been
// aborted; callers must check IsPoison and propagate.
func (p *Pool) Get(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-p.free:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a drained buffer to the free queue after resetting it.
func (p *Pool) Put(b *Buffer) {
	b.Reset()
	p.free <- b
}

// Poison drops a zero-capacity poison buffer into the free queue so that a
// consumer blocked on Get observes it and propagates end-of-stream instead
// of a live buffer.
func (p *Pool) Poison() {
	p.free <- Poison()
}
