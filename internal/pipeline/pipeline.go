// Package pipeline streams a single file from a source to a destination
// through a ring.Buffer, optionally hashing the bytes on the way.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/bamsammich/slinger/internal/checksum"
	"github.com/bamsammich/slinger/internal/ring"
)

const (
	DefaultSlotSize = 1 << 20
	DefaultSlots    = 4

	tmpSuffix = ".slinger-tmp"
)

var (
	// ErrSizeMismatch means the committed destination differs in size from
	// the source.
	ErrSizeMismatch = errors.New("source and destination sizes differ")
	// ErrBufferMismatch means both streams closed with bytes read != bytes
	// written. It signals a pipeline bug, not an I/O condition.
	ErrBufferMismatch = errors.New("bytes read and bytes written differ")
	// ErrStalledWrite means the destination accepted zero bytes without
	// reporting an error.
	ErrStalledWrite = errors.New("destination write made no progress")
	// ErrNotOpen means Pump or Execute ran before both streams were opened.
	ErrNotOpen = errors.New("source and destination must be opened first")
)

// Config configures a Pipeline. The zero value of every field but FS is
// usable.
type Config struct {
	FS        afero.Fs
	SlotSize  int
	Slots     int
	Overwrite bool

	// Algorithm enables the hashing tap. The writer then only drains bytes
	// that were already hashed.
	Algorithm checksum.Algorithm

	// Limiter throttles source reads. It may be shared across pipelines.
	Limiter *rate.Limiter

	// Tmp tracks in-flight temp files for cleanup on interrupt.
	Tmp *TmpRegistry

	// OnProgress receives the size of every chunk written to the destination.
	OnProgress func(n int64)
}

// Pipeline moves one file at a time. It owns its ring buffer and is reused
// across files with Reset. A Pipeline is not safe for concurrent use.
type Pipeline struct {
	cfg  Config
	buf  *ring.Buffer
	hash hash.Hash

	source  string
	dest    string
	tmpPath string
	mode    os.FileMode

	src afero.File
	r   io.Reader
	dst afero.File

	srcSize      int64
	dstSize      int64
	bytesRead    int64
	bytesWritten int64

	started   bool
	srcClosed bool
	dstClosed bool
	skipped   bool
}

// New builds a pipeline and allocates its buffer.
func New(cfg Config) (*Pipeline, error) {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.SlotSize <= 0 {
		cfg.SlotSize = DefaultSlotSize
	}
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.Slots < 2 {
		return nil, fmt.Errorf("pipeline: need at least 2 slots, got %d", cfg.Slots)
	}

	p := &Pipeline{
		cfg: cfg,
		buf: ring.New(cfg.SlotSize, cfg.Slots),
	}
	if cfg.Algorithm != "" {
		h, err := checksum.New(cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		p.hash = h
	}
	p.Reset()
	return p, nil
}

// Reset abandons any in-flight file, removing its temp file, and prepares
// the pipeline for the next one. The buffer storage is reused.
func (p *Pipeline) Reset() {
	p.abort()

	p.buf.Reset()
	if p.hash != nil {
		p.hash.Reset()
	}

	p.source, p.dest, p.tmpPath = "", "", ""
	p.mode = 0
	p.r = nil
	p.srcSize, p.dstSize = -1, -1
	p.bytesRead, p.bytesWritten = 0, 0
	p.started = false
	p.srcClosed, p.dstClosed = true, true
	p.skipped = false
}

// OpenSource opens path for reading.
func (p *Pipeline) OpenSource(path string) error {
	f, err := p.cfg.FS.Open(path)
	if err != nil {
		return fmt.Errorf("open source %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat source %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return fmt.Errorf("source %s is not a regular file", path)
	}

	adviseSequential(f)
	p.src = f
	p.r = f
	p.source = path
	p.mode = info.Mode().Perm()
	p.srcSize = info.Size()
	p.srcClosed = false
	return nil
}

// OpenDest prepares path for writing. When path already exists and
// Overwrite is off, the file is left untouched and the pipeline is marked
// skipped. Otherwise data goes to a hidden temp file in the same directory
// that is renamed over path once the transfer completes.
func (p *Pipeline) OpenDest(path string) error {
	p.dest = path

	if !p.cfg.Overwrite {
		info, err := p.cfg.FS.Stat(path)
		switch {
		case err == nil:
			if info.IsDir() {
				return fmt.Errorf("destination %s is a directory", path)
			}
			p.skipped = true
			return nil
		case !errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("stat destination %s: %w", path, err)
		}
	}

	mode := p.mode
	if mode == 0 {
		mode = 0o644
	}
	dir, base := filepath.Split(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", base, uuid.New().String()[:8], tmpSuffix))
	f, err := p.cfg.FS.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	p.cfg.Tmp.Register(tmp)

	p.dst = f
	p.tmpPath = tmp
	p.dstClosed = false
	return nil
}

// SourceSize returns the size of the open source, resolving it on first use.
func (p *Pipeline) SourceSize() (int64, error) {
	if p.srcSize >= 0 {
		return p.srcSize, nil
	}
	if p.src == nil {
		return 0, ErrNotOpen
	}
	info, err := p.src.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source %s: %w", p.source, err)
	}
	p.srcSize = info.Size()
	return p.srcSize, nil
}

// Execute transfers the opened file, commits the destination and checks
// that both sides agree. It returns the destination size.
func (p *Pipeline) Execute(ctx context.Context) (int64, error) {
	if p.src == nil || (p.dst == nil && !p.skipped) {
		return 0, ErrNotOpen
	}
	size, err := p.SourceSize()
	if err != nil {
		p.abort()
		return 0, err
	}

	if p.skipped {
		return p.finishSkipped(size)
	}

	preallocate(p.dst, size)
	if p.cfg.Limiter != nil {
		p.r = newThrottledReader(ctx, p.src, p.cfg.Limiter)
	}

	if err := p.Pump(ctx); err != nil {
		return 0, err
	}

	if p.bytesRead != p.bytesWritten {
		return 0, fmt.Errorf("%s: %w (read %d, wrote %d)",
			p.source, ErrBufferMismatch, p.bytesRead, p.bytesWritten)
	}
	return p.checkDestSize(size)
}

// Pump moves data until the transfer is complete: fill the buffer from the
// source, feed the hashing tap, drain to the destination, and commit the
// destination once the source hit EOF and the buffer is empty. The context
// is checked once per iteration.
func (p *Pipeline) Pump(ctx context.Context) error {
	if p.src == nil || p.dst == nil {
		return ErrNotOpen
	}
	p.started = true

	for !p.Complete() {
		if err := ctx.Err(); err != nil {
			p.abort()
			return err
		}
		if err := p.fill(); err != nil {
			p.abort()
			return err
		}
		p.tap()
		if err := p.drain(); err != nil {
			p.abort()
			return err
		}
		if p.srcClosed && p.buf.Buffered() == 0 && !p.dstClosed {
			if err := p.commit(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Complete reports whether both streams closed after every byte read from
// the source reached the destination.
func (p *Pipeline) Complete() bool {
	return p.started && p.srcClosed && p.dstClosed &&
		p.bytesRead == p.bytesWritten && p.buf.Buffered() == 0
}

// Sum returns the digest of the bytes that passed through the hashing tap,
// or nil when hashing is off or the file was skipped.
func (p *Pipeline) Sum() checksum.Digest {
	if p.hash == nil || p.skipped || !p.Complete() {
		return nil
	}
	return checksum.Digest(p.hash.Sum(nil))
}

// Source returns the path passed to OpenSource.
func (p *Pipeline) Source() string { return p.source }

// Dest returns the final destination path passed to OpenDest.
func (p *Pipeline) Dest() string { return p.dest }

// Skipped reports whether OpenDest found an existing destination and left it
// alone.
func (p *Pipeline) Skipped() bool { return p.skipped }

// Started reports whether the pump has moved any bytes since the last Reset.
func (p *Pipeline) Started() bool { return p.started }

// BytesRead returns the bytes read from the source since the last Reset.
func (p *Pipeline) BytesRead() int64 { return p.bytesRead }

// BytesWritten returns the bytes written to the destination since the last
// Reset.
func (p *Pipeline) BytesWritten() int64 { return p.bytesWritten }

// DestSize returns the destination size seen by the final size check.
func (p *Pipeline) DestSize() int64 { return p.dstSize }

// fill reads from the source until the buffer is full or the source ends.
// A short read is treated as end of file.
func (p *Pipeline) fill() error {
	for !p.srcClosed {
		view := p.buf.WritableView()
		if len(view) == 0 {
			return nil
		}
		n, err := io.ReadFull(p.r, view)
		p.buf.CommitWrite(n)
		p.bytesRead += int64(n)

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			p.closeSource()
		default:
			return fmt.Errorf("read %s: %w", p.source, err)
		}
	}
	return nil
}

func (p *Pipeline) tap() {
	if p.hash == nil {
		return
	}
	for view := p.buf.Unprocessed(); len(view) > 0; view = p.buf.Unprocessed() {
		p.hash.Write(view)
		p.buf.MarkProcessed(len(view))
	}
}

// drain writes one slot's worth of buffered bytes. With hashing on, only
// bytes that went through the tap are eligible.
func (p *Pipeline) drain() error {
	limit := p.buf.Buffered()
	if p.hash != nil {
		limit = p.buf.Processed()
	}
	view := p.buf.ReadableView(limit)
	if len(view) == 0 {
		return nil
	}

	n, err := p.dst.Write(view)
	if n > 0 {
		p.buf.CommitRead(n)
		p.bytesWritten += int64(n)
		if p.cfg.OnProgress != nil {
			p.cfg.OnProgress(int64(n))
		}
	}
	switch {
	case err != nil:
		return fmt.Errorf("write %s: %w", p.dest, err)
	case n == 0:
		return fmt.Errorf("write %s: %w", p.dest, ErrStalledWrite)
	case n < len(view):
		return fmt.Errorf("write %s: %w", p.dest, io.ErrShortWrite)
	}
	return nil
}

// commit closes the temp file and renames it over the destination.
func (p *Pipeline) commit() error {
	err := p.dst.Close()
	p.dst = nil
	p.dstClosed = true
	if err != nil {
		p.removeTmp()
		return fmt.Errorf("close %s: %w", p.tmpPath, err)
	}
	if err := p.cfg.FS.Rename(p.tmpPath, p.dest); err != nil {
		p.removeTmp()
		return fmt.Errorf("rename %s: %w", p.dest, err)
	}
	p.cfg.Tmp.Deregister(p.tmpPath)
	p.tmpPath = ""
	return nil
}

func (p *Pipeline) finishSkipped(size int64) (int64, error) {
	p.started = true
	p.closeSource()
	return p.checkDestSize(size)
}

func (p *Pipeline) checkDestSize(size int64) (int64, error) {
	info, err := p.cfg.FS.Stat(p.dest)
	if err != nil {
		return 0, fmt.Errorf("stat destination %s: %w", p.dest, err)
	}
	p.dstSize = info.Size()
	if p.dstSize != size {
		return p.dstSize, fmt.Errorf("%s: %w (source %d, destination %d)",
			p.dest, ErrSizeMismatch, size, p.dstSize)
	}
	return p.dstSize, nil
}

func (p *Pipeline) closeSource() {
	if p.src != nil {
		p.src.Close()
		p.src = nil
	}
	p.srcClosed = true
}

// abort closes both streams and discards any uncommitted temp file.
func (p *Pipeline) abort() {
	p.closeSource()
	if p.dst != nil {
		p.dst.Close()
		p.dst = nil
	}
	p.dstClosed = true
	p.removeTmp()
}

func (p *Pipeline) removeTmp() {
	if p.tmpPath == "" {
		return
	}
	_ = p.cfg.FS.Remove(p.tmpPath)
	p.cfg.Tmp.Deregister(p.tmpPath)
	p.tmpPath = ""
}
