// Package claim hands out work indices to competing workers.
//
// A Queue is a shared counter over the index space [0, total). Each Claim
// returns a distinct index, so workers that loop until their claim is
// exhausted visit every index exactly once with no further coordination.
package claim

import (
	"context"
	"sync/atomic"
)

// Stop is returned by Claim after the queue was cancelled.
const Stop = -1

// Queue is safe for concurrent use.
type Queue struct {
	next    atomic.Int64
	stopped atomic.Bool
	total   int
}

// New returns a queue over [0, total). It panics if total is negative.
func New(total int) *Queue {
	if total < 0 {
		panic("claim: negative total")
	}
	return &Queue{total: total}
}

// Claim returns the next unclaimed index. Indices at or past Total mean the
// queue is drained; Stop means it was cancelled. Use Exhausted to test both.
func (q *Queue) Claim() int {
	if q.stopped.Load() {
		return Stop
	}
	return int(q.next.Add(1) - 1)
}

// Exhausted reports whether i is past the end of the queue or the Stop
// sentinel.
func (q *Queue) Exhausted(i int) bool { return Exhausted(i, q.total) }

// Total returns the size of the index space.
func (q *Queue) Total() int { return q.total }

// Claimed returns how many valid indices were handed out so far.
func (q *Queue) Claimed() int {
	return min(int(q.next.Load()), q.total)
}

// Cancel makes every later Claim return Stop. Indices already handed out
// are unaffected.
func (q *Queue) Cancel() { q.stopped.Store(true) }

// Cancelled reports whether Cancel was called.
func (q *Queue) Cancelled() bool { return q.stopped.Load() }

// BindContext cancels q when ctx is done. The returned function detaches the
// binding and reports whether it did so before ctx fired.
func (q *Queue) BindContext(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, q.Cancel)
}

// Exhausted reports whether index i lies outside [0, total).
func Exhausted(i, total int) bool { return i < 0 || i >= total }
