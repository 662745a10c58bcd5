package indexstore

import (
	"context"
)

// FlushResult is the outcome of one flush run. It is shared by every caller
// that joined the run.
type FlushResult struct {
	done chan struct{}

	// Set before done is closed.
	height   int64
	entities int
	skipped  bool
	err      error
}

func newFlushResult() *FlushResult {
	return &FlushResult{done: make(chan struct{})}
}

// completedResult returns a result that has already finished.
func completedResult(err error) *FlushResult {
	r := newFlushResult()
	r.finish(0, 0, err == nil, err)
	return r
}

func (r *FlushResult) finish(height int64, entities int, skipped bool, err error) {
	r.height, r.entities, r.skipped, r.err = height, entities, skipped, err
	close(r.done)
}

// Done is closed once the run finished.
func (r *FlushResult) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finished or ctx is done.
func (r *FlushResult) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run error. It must only be called after Done is closed.
func (r *FlushResult) Err() error { return r.err }

// Height returns the cut the run flushed up to.
func (r *FlushResult) Height() int64 { return r.height }

// Entities returns the number of entities the run wrote.
func (r *FlushResult) Entities() int { return r.entities }

// Skipped reports whether the run found nothing to flush.
func (r *FlushResult) Skipped() bool { return r.skipped }
