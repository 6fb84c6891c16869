package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/slinger/internal/checksum"
	"github.com/bamsammich/slinger/internal/claim"
	"github.com/bamsammich/slinger/internal/event"
	"github.com/bamsammich/slinger/internal/pipeline"
)

// VerifyResult holds the outcome of the verification phase.
type VerifyResult struct {
	Verified   int64
	Failed     int64
	Skipped    bool // verification was turned off
	Mismatches []Mismatch
}

func (v VerifyResult) mismatched(i int) bool {
	_, ok := v.find(i)
	return ok
}

func (v VerifyResult) mismatch(i int) Mismatch {
	m, _ := v.find(i)
	return m
}

func (v VerifyResult) find(i int) (Mismatch, bool) {
	for _, m := range v.Mismatches {
		if m.Index == i {
			return m, true
		}
	}
	return Mismatch{}, false
}

// Verify hashes every source and destination file with two independent
// pools of VerifyWorkers goroutines each, then compares the checksum arrays
// index by index. Files whose copy left no destination are not hashed; they
// are already in the failure list. A destination that exists but failed the
// size check is still hashed and compared. The returned error wraps ErrVerifyFailed and names
// the first mismatching file.
func (o *Orchestrator) Verify(ctx context.Context) (VerifyResult, error) {
	if err := o.advance(Copying, Verifying); err != nil {
		return VerifyResult{}, err
	}

	if o.cfg.SkipVerify {
		o.verify = VerifyResult{Skipped: true}
		o.finish()
		return o.verify, nil
	}

	n := len(o.results)
	workers := o.cfg.VerifyWorkers
	o.log.Info("verify started", "files", n, "workers", workers, "algorithm", o.alg.String())
	emitEvent(o.cfg.Events, event.Event{Type: event.VerifyStarted, Index: -1, Total: int64(n)})

	sources := make([]string, n)
	dests := make([]string, n)
	for i := range o.results {
		sources[i] = o.results[i].Source
		dests[i] = o.results[i].Dest
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runPool(gctx, claim.New(n), workers, o.cfg.FailFast, o.hasher(sources, o.sourceSums, o.sourceErrs))
	})
	g.Go(func() error {
		return runPool(gctx, claim.New(n), workers, o.cfg.FailFast, o.hasher(dests, o.destSums, o.destErrs))
	})
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		o.setState(Failed)
		o.log.Error("verify aborted", "error", err)
		return VerifyResult{}, err
	}

	o.verify = o.compare()
	o.finish()
	emitEvent(o.cfg.Events, event.Event{Type: event.VerifyComplete, Index: -1, Total: o.verify.Verified})
	o.log.Info("verify finished", "verified", o.verify.Verified, "failed", o.verify.Failed)

	if len(o.verify.Mismatches) > 0 {
		first := o.verify.Mismatches[0]
		err := fmt.Errorf("%w: %s", ErrVerifyFailed, first)
		if o.verify.Failed > 1 {
			err = fmt.Errorf("%w (and %d more)", err, o.verify.Failed-1)
		}
		return o.verify, err
	}
	return o.verify, nil
}

// hasher returns a worker factory that fills sums[i] with the digest of
// paths[i]. Indices already holding a digest (inline hashing) are left
// alone.
func (o *Orchestrator) hasher(paths []string, sums []checksum.Digest, errs []error) func(int) workFunc {
	return func(int) workFunc {
		return func(ctx context.Context, i int) error {
			if !o.verifiable(i) || sums[i] != nil {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := checksum.HashFile(o.fs, paths[i], o.alg)
			if err != nil {
				errs[i] = err
				return err
			}
			sums[i] = d
			o.stats.AddBytesHashed(o.results[i].Size)
			return nil
		}
	}
}

// compare walks the checksum arrays in index order. It runs only after both
// hashing pools have joined.
func (o *Orchestrator) compare() VerifyResult {
	var vr VerifyResult
	for i := range o.results {
		res := &o.results[i]
		res.SourceSum = o.sourceSums[i]
		res.DestSum = o.destSums[i]
		if !o.verifiable(i) {
			continue
		}

		m := Mismatch{
			Index:       i,
			Source:      res.Source,
			Destination: res.Dest,
			SourceSum:   res.SourceSum,
			DestSum:     res.DestSum,
		}
		switch {
		case o.sourceErrs[i] != nil || o.destErrs[i] != nil:
			m.Err = errors.Join(o.sourceErrs[i], o.destErrs[i])
		case res.SourceSum.Equal(res.DestSum):
			res.Verified = true
			vr.Verified++
			o.stats.AddFilesVerified(1)
			emitEvent(o.cfg.Events, event.Event{Type: event.VerifyOK, Index: i, Path: res.Rel, Size: res.Size})
			continue
		}

		vr.Failed++
		vr.Mismatches = append(vr.Mismatches, m)
		o.stats.AddFilesVerifyFailed(1)
		o.log.Warn("checksum mismatch", "path", res.Rel, "source", m.SourceSum.String(), "destination", m.DestSum.String())
		emitEvent(o.cfg.Events, event.Event{Type: event.VerifyFailed, Index: i, Path: res.Rel, Error: m.Err})
	}
	return vr
}

// verifiable reports whether index i left a destination file to hash: the
// copy succeeded, or only its final size check failed.
func (o *Orchestrator) verifiable(i int) bool {
	err := o.results[i].Err
	return err == nil || errors.Is(err, pipeline.ErrSizeMismatch)
}

// finish moves Verifying to Done, or to Failed when any file failed.
func (o *Orchestrator) finish() {
	if o.copyFailures() > 0 || o.verify.Failed > 0 {
		o.setState(Failed)
		return
	}
	o.setState(Done)
}

func emitEvent(ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
