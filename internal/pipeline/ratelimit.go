package pipeline

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// minBurst keeps small slots from turning every fill into its own wait.
const minBurst = 64 << 10

// NewBWLimiter returns a limiter shared by every pipeline of a run, capping
// their combined source reads to bytesPerSec. The burst is one slot (at least
// 64 KiB, at most one second of budget) so a slot fill usually costs a single
// wait.
func NewBWLimiter(bytesPerSec int64, slotSize int) *rate.Limiter {
	burst := int64(max(slotSize, minBurst))
	burst = max(min(burst, bytesPerSec), 1)
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
}

// throttledReader charges every byte read from the source against a shared
// limiter.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func newThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) *throttledReader {
	return &throttledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := waitBytes(t.ctx, t.limiter, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// waitBytes blocks until limiter admits n bytes. WaitN rejects requests over
// the burst, so larger counts are paid in burst-sized steps.
func waitBytes(ctx context.Context, limiter *rate.Limiter, n int) error {
	if limiter.Limit() == rate.Inf {
		return nil
	}
	burst := max(limiter.Burst(), 1)
	for n > 0 {
		step := min(n, burst)
		if err := limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
