package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/slinger/internal/claim"
)

// workFunc handles one claimed index.
type workFunc func(ctx context.Context, index int) error

// runPool starts workers goroutines that claim indices from q until it is
// exhausted. newWorker is called once per goroutine so each can own private
// state. With failFast the first error is returned and the queue is
// cancelled; otherwise errors are left to the work function to record.
func runPool(ctx context.Context, q *claim.Queue, workers int, failFast bool, newWorker func(id int) workFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := q.BindContext(gctx)
	defer stop()

	for id := range max(workers, 1) {
		work := newWorker(id)
		g.Go(func() error {
			for i := q.Claim(); !q.Exhausted(i); i = q.Claim() {
				if err := work(gctx, i); err != nil && failFast {
					q.Cancel()
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
