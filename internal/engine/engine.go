package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/bamsammich/slinger/internal/checksum"
	"github.com/bamsammich/slinger/internal/claim"
	"github.com/bamsammich/slinger/internal/event"
	"github.com/bamsammich/slinger/internal/pipeline"
	"github.com/bamsammich/slinger/internal/report"
	"github.com/bamsammich/slinger/internal/stats"
)

// Config describes a tree copy.
type Config struct {
	Src string
	Dst string

	// FS defaults to the OS filesystem.
	FS afero.Fs

	Workers       int
	VerifyWorkers int
	Slots         int
	SlotSize      int

	Algorithm  checksum.Algorithm
	HashInline bool
	SkipVerify bool

	Overwrite bool
	FailFast  bool
	BWLimit   int64

	// Contents copies the entries of a source directory straight into Dst
	// instead of into Dst/<basename(Src)>.
	Contents bool

	// Report, when set, receives a CSV line per file after verification.
	Report string

	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Stats     stats.Snapshot
	State     State
	Attempted int
	Succeeded int
	Failures  []Failure
	Verify    VerifyResult
	Files     []FileResult
	Err       error
}

// FileResult holds everything known about one file index.
type FileResult struct {
	Index     int
	Source    string
	Dest      string
	Rel       string
	Size      int64
	Written   int64
	Claims    int
	Skipped   bool
	Verified  bool
	SourceSum checksum.Digest
	DestSum   checksum.Digest
	Err       error
}

// Run stages, copies and verifies cfg.Src into cfg.Dst, blocking until done.
func Run(ctx context.Context, cfg Config) Result {
	o, err := New(cfg)
	if err != nil {
		return Result{State: Unstaged, Err: err}
	}
	defer o.tmp.Cleanup()

	if err := o.Stage(ctx); err != nil {
		return o.Result(err)
	}
	if err := o.Copy(ctx); err != nil {
		return o.Result(err)
	}
	_, err = o.Verify(ctx)

	if cfg.Report != "" {
		if rerr := o.WriteReport(cfg.Report); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return o.Result(err)
}

// Orchestrator drives one tree copy through its phases. Each phase method
// must be called once, in order: Stage, Copy, Verify.
type Orchestrator struct {
	cfg     Config
	fs      afero.Fs
	alg     checksum.Algorithm
	stats   *stats.Collector
	log     *slog.Logger
	tmp     *pipeline.TmpRegistry
	limiter *rate.Limiter

	mu    sync.Mutex
	state State

	dstRoot string
	skipped []string

	// Sized during staging. Workers write only the index they claimed.
	results    []FileResult
	sourceSums []checksum.Digest
	destSums   []checksum.Digest
	sourceErrs []error
	destErrs   []error

	verify VerifyResult
}

// New validates cfg and returns an unstaged orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.Src) == "" {
		return nil, ErrNoSource
	}
	if strings.TrimSpace(cfg.Dst) == "" {
		return nil, ErrNoDestination
	}
	alg, err := checksum.ParseAlgorithm(string(cfg.Algorithm))
	if err != nil {
		return nil, err
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = cfg.Workers
	}
	if cfg.Slots == 0 {
		cfg.Slots = pipeline.DefaultSlots
	}
	if cfg.Slots < 2 {
		return nil, fmt.Errorf("need at least 2 buffer slots, got %d", cfg.Slots)
	}
	if cfg.SlotSize <= 0 {
		cfg.SlotSize = pipeline.DefaultSlotSize
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:   cfg,
		fs:    cfg.FS,
		alg:   alg,
		stats: cfg.Stats,
		log:   cfg.Logger,
		tmp:   pipeline.NewTmpRegistry(cfg.FS),
		state: Unstaged,
	}
	if cfg.BWLimit > 0 {
		o.limiter = pipeline.NewBWLimiter(cfg.BWLimit, cfg.SlotSize)
	}
	return o, nil
}

// State returns the current phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// DestRoot returns the directory the tree is copied into, once staged.
func (o *Orchestrator) DestRoot() string { return o.dstRoot }

// Results returns the per-index results. Only valid between phases.
func (o *Orchestrator) Results() []FileResult { return o.results }

// CleanupTmp removes temp files of transfers that never committed.
func (o *Orchestrator) CleanupTmp() int { return o.tmp.Cleanup() }

// Stage enumerates the source, builds the destination directory skeleton and
// sizes every per-index array. On error the state stays Unstaged.
func (o *Orchestrator) Stage(ctx context.Context) error {
	if err := o.expect(Unstaged); err != nil {
		return err
	}
	emitEvent(o.cfg.Events, event.Event{Type: event.StageStarted, Index: -1})

	src := filepath.Clean(o.cfg.Src)
	dst := filepath.Clean(o.cfg.Dst)

	info, err := o.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	var files []Entry
	var dests []string
	switch {
	case info.IsDir():
		// The source's parent prefix is replaced by dst.
		dstRoot := filepath.Join(dst, filepath.Base(src))
		if o.cfg.Contents {
			dstRoot = dst
		}
		if within(src, dstRoot) {
			return fmt.Errorf("%w: %s is under %s", ErrDestInsideSource, dstRoot, src)
		}

		tree, err := Walk(ctx, o.fs, src)
		if err != nil {
			return fmt.Errorf("walk %s: %w", src, err)
		}
		if len(tree.Files) == 0 && len(tree.Dirs) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyRoot, src)
		}
		if err := o.makeDirs(dstRoot, info.Mode(), tree.Dirs); err != nil {
			return err
		}

		o.dstRoot = dstRoot
		o.skipped = tree.Skipped
		o.stats.AddEntriesSkipped(int64(len(tree.Skipped)))
		files = tree.Files
		dests = make([]string, len(files))
		for i, f := range files {
			dests[i] = filepath.Join(dstRoot, f.Rel)
		}

	case info.Mode().IsRegular():
		dest := dst
		if dstInfo, err := o.fs.Stat(dst); err == nil && dstInfo.IsDir() {
			dest = filepath.Join(dst, filepath.Base(src))
		}
		if err := o.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
		o.dstRoot = filepath.Dir(dest)
		files = []Entry{{Path: src, Rel: filepath.Base(src), Size: info.Size(), Mode: info.Mode()}}
		dests = []string{dest}

	default:
		return fmt.Errorf("source %s is not a regular file or directory", src)
	}

	n := len(files)
	var total int64
	o.results = make([]FileResult, n)
	for i, f := range files {
		o.results[i] = FileResult{Index: i, Source: f.Path, Dest: dests[i], Rel: f.Rel, Size: f.Size}
		total += f.Size
	}
	o.sourceSums = make([]checksum.Digest, n)
	o.destSums = make([]checksum.Digest, n)
	o.sourceErrs = make([]error, n)
	o.destErrs = make([]error, n)

	checkFreeSpace(ctx, o.fs, o.dstRoot, total, o.log)
	o.stats.SetTotals(int64(n), total)

	o.setState(Staged)
	o.log.Info("staged",
		"files", n,
		"bytes", stats.FormatBytes(total),
		"skipped_entries", len(o.skipped),
		"destination", o.dstRoot,
	)
	emitEvent(o.cfg.Events, event.Event{
		Type:      event.StageComplete,
		Index:     -1,
		Total:     int64(n),
		TotalSize: total,
	})
	return nil
}

func (o *Orchestrator) makeDirs(root string, rootMode os.FileMode, dirs []Entry) error {
	if err := o.fs.MkdirAll(root, rootMode.Perm()|0o700); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	for _, d := range dirs {
		if err := o.fs.MkdirAll(filepath.Join(root, d.Rel), d.Mode.Perm()|0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", d.Rel, err)
		}
		o.stats.AddDirsCreated(1)
		emitEvent(o.cfg.Events, event.Event{Type: event.DirCreated, Index: -1, Path: d.Rel})
	}
	return nil
}

// Copy runs the worker pool over the file index space. Each worker owns one
// pipeline for the whole phase. Per-file failures are recorded against their
// index; only in fail-fast mode does the first one end the phase early.
func (o *Orchestrator) Copy(ctx context.Context) error {
	if err := o.advance(Staged, Copying); err != nil {
		return err
	}

	workers := min(o.cfg.Workers, max(len(o.results), 1))
	o.log.Info("copy started", "files", len(o.results), "workers", workers)
	emitEvent(o.cfg.Events, event.Event{Type: event.CopyStarted, Index: -1, Total: int64(len(o.results))})

	pipes := make([]*pipeline.Pipeline, workers)
	for id := range pipes {
		p, err := pipeline.New(pipeline.Config{
			FS:         o.fs,
			SlotSize:   o.cfg.SlotSize,
			Slots:      o.cfg.Slots,
			Overwrite:  o.cfg.Overwrite,
			Algorithm:  o.inlineAlgorithm(),
			Limiter:    o.limiter,
			Tmp:        o.tmp,
			OnProgress: o.stats.AddBytesCopied,
		})
		if err != nil {
			o.setState(Failed)
			return fmt.Errorf("create pipeline: %w", err)
		}
		pipes[id] = p
	}
	defer func() {
		for _, p := range pipes {
			p.Reset()
		}
	}()

	q := claim.New(len(o.results))
	err := runPool(ctx, q, workers, o.cfg.FailFast, func(id int) workFunc {
		p := pipes[id]
		return func(ctx context.Context, i int) error {
			return o.copyOne(ctx, p, id, i)
		}
	})
	if err == nil {
		err = ctx.Err()
	}

	emitEvent(o.cfg.Events, event.Event{Type: event.CopyComplete, Index: -1})
	if err != nil {
		o.setState(Failed)
		o.log.Error("copy aborted", "error", err)
		return err
	}
	o.log.Info("copy finished", "failed", o.copyFailures())
	return nil
}

func (o *Orchestrator) inlineAlgorithm() checksum.Algorithm {
	if o.cfg.HashInline && !o.cfg.SkipVerify {
		return o.alg
	}
	return ""
}

func (o *Orchestrator) copyOne(ctx context.Context, p *pipeline.Pipeline, worker, i int) error {
	res := &o.results[i]
	res.Claims++
	emitEvent(o.cfg.Events, event.Event{
		Type:     event.FileStarted,
		Index:    i,
		Path:     res.Rel,
		Size:     res.Size,
		WorkerID: worker,
	})

	p.Reset()
	err := transfer(ctx, p, res.Source, res.Dest)
	res.Written = p.BytesWritten()
	res.Skipped = p.Skipped()

	if err != nil {
		res.Err = err
		o.stats.AddFilesFailed(1)
		o.log.Warn("copy failed", "path", res.Rel, "error", err)
		emitEvent(o.cfg.Events, event.Event{
			Type:     event.FileFailed,
			Index:    i,
			Path:     res.Rel,
			Error:    err,
			WorkerID: worker,
		})
		return fmt.Errorf("%s: %w", res.Rel, err)
	}

	if res.Skipped {
		o.stats.AddFilesSkipped(1)
		o.log.Debug("destination exists, skipped", "path", res.Rel)
		emitEvent(o.cfg.Events, event.Event{Type: event.FileSkipped, Index: i, Path: res.Rel, WorkerID: worker})
		return nil
	}

	if sum := p.Sum(); sum != nil {
		o.sourceSums[i] = sum
	}
	o.stats.AddFilesCopied(1)
	o.log.Debug("copied", "path", res.Rel, "bytes", res.Written)
	emitEvent(o.cfg.Events, event.Event{
		Type:     event.FileCompleted,
		Index:    i,
		Path:     res.Rel,
		Size:     res.Written,
		WorkerID: worker,
	})
	return nil
}

func transfer(ctx context.Context, p *pipeline.Pipeline, src, dst string) error {
	if err := p.OpenSource(src); err != nil {
		return err
	}
	if err := p.OpenDest(dst); err != nil {
		return err
	}
	_, err := p.Execute(ctx)
	return err
}

func (o *Orchestrator) copyFailures() int {
	n := 0
	for i := range o.results {
		if o.results[i].Err != nil {
			n++
		}
	}
	return n
}

// Result summarises the run so far. err is the phase error that ended it,
// if any.
func (o *Orchestrator) Result(err error) Result {
	r := Result{
		Stats:  o.stats.Snapshot(),
		State:  o.State(),
		Verify: o.verify,
		Files:  o.results,
	}

	failed := make(map[int]bool)
	for i := range o.results {
		res := &o.results[i]
		if res.Claims > 0 {
			r.Attempted++
		}
		if res.Err != nil {
			failed[i] = true
			r.Failures = append(r.Failures, Failure{Index: i, Path: res.Rel, Err: res.Err})
		}
	}
	for _, m := range o.verify.Mismatches {
		failed[m.Index] = true
		cause := m.Err
		if cause == nil {
			cause = fmt.Errorf("%w: source %s, destination %s", ErrVerifyFailed, m.SourceSum, m.DestSum)
		}
		r.Failures = append(r.Failures, Failure{Index: m.Index, Path: o.results[m.Index].Rel, Err: cause})
	}
	r.Succeeded = r.Attempted - len(failed)

	errs := []error{err}
	if copyFailed := o.copyFailures(); copyFailed > 0 && !errors.Is(err, ErrCopyFailed) {
		errs = append(errs, fmt.Errorf("%w: %d of %d files", ErrCopyFailed, copyFailed, len(o.results)))
	}
	r.Err = errors.Join(errs...)
	return r
}

// Records returns one report row per file index.
func (o *Orchestrator) Records() []report.Record {
	records := make([]report.Record, len(o.results))
	for i := range o.results {
		res := &o.results[i]
		rec := report.Record{
			Source:      res.Source,
			Destination: res.Dest,
			Checksum:    res.SourceSum,
			Err:         res.Err,
		}
		switch {
		case res.Err != nil:
			rec.Status = report.StatusCopyFailed
		case o.verify.mismatched(i):
			rec.Status = report.StatusMismatch
			rec.Err = o.verify.mismatch(i).Err
		case !res.Verified:
			rec.Status = report.StatusUnverified
		case res.Skipped:
			rec.Status = report.StatusSkipped
		default:
			rec.Status = report.StatusOK
		}
		records[i] = rec
	}
	return records
}

// WriteReport writes Records to path as CSV.
func (o *Orchestrator) WriteReport(path string) error {
	if err := report.WriteFile(o.fs, path, o.alg, o.Records()); err != nil {
		return err
	}
	o.log.Info("report written", "path", path)
	return nil
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
