package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks run statistics. File counters are lock-free atomics;
// transferred bytes go through the mutex-guarded Progress accumulator.
type Collector struct {
	filesTotal        atomic.Int64
	filesCopied       atomic.Int64
	filesFailed       atomic.Int64
	filesSkipped      atomic.Int64
	entriesSkipped    atomic.Int64
	dirsCreated       atomic.Int64
	filesVerified     atomic.Int64
	filesVerifyFailed atomic.Int64
	bytesHashed       atomic.Int64
	progress          Progress
	startTime         time.Time

	// Sample ring, written only by the presenter's Tick.
	mu         sync.Mutex
	throughput [ringSize]int64
	filesPer   [ringSize]int64
	ringIdx    int
	ringCount  int
	lastBytes  int64
	lastFiles  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records staging totals.
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesTotal.Store(files)
	c.progress.SetTotal(bytes)
}

func (c *Collector) AddFilesCopied(n int64)       { c.filesCopied.Add(n) }
func (c *Collector) AddFilesFailed(n int64)       { c.filesFailed.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)      { c.filesSkipped.Add(n) }
func (c *Collector) AddEntriesSkipped(n int64)    { c.entriesSkipped.Add(n) }
func (c *Collector) AddDirsCreated(n int64)       { c.dirsCreated.Add(n) }
func (c *Collector) AddFilesVerified(n int64)     { c.filesVerified.Add(n) }
func (c *Collector) AddFilesVerifyFailed(n int64) { c.filesVerifyFailed.Add(n) }
func (c *Collector) AddBytesHashed(n int64)       { c.bytesHashed.Add(n) }

// AddBytesCopied feeds the progress accumulator.
func (c *Collector) AddBytesCopied(n int64) { c.progress.Add(n) }

// Progress exposes the bytes-copied accumulator.
func (c *Collector) Progress() *Progress { return &c.progress }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesTotal        int64
	FilesCopied       int64
	FilesFailed       int64
	FilesSkipped      int64
	EntriesSkipped    int64
	DirsCreated       int64
	FilesVerified     int64
	FilesVerifyFailed int64
	BytesCopied       int64
	BytesTotal        int64
	BytesHashed       int64
	Elapsed           time.Duration
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	done, total := c.progress.Value()
	return Snapshot{
		FilesTotal:        c.filesTotal.Load(),
		FilesCopied:       c.filesCopied.Load(),
		FilesFailed:       c.filesFailed.Load(),
		FilesSkipped:      c.filesSkipped.Load(),
		EntriesSkipped:    c.entriesSkipped.Load(),
		DirsCreated:       c.dirsCreated.Load(),
		FilesVerified:     c.filesVerified.Load(),
		FilesVerifyFailed: c.filesVerifyFailed.Load(),
		BytesCopied:       done,
		BytesTotal:        total,
		BytesHashed:       c.bytesHashed.Load(),
		Elapsed:           c.Elapsed(),
	}
}

// Tick records byte/file deltas into the sample ring. Called once a second by
// the presenter.
func (c *Collector) Tick() {
	currentBytes, _ := c.progress.Value()
	currentFiles := c.filesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = currentBytes - c.lastBytes
	c.filesPer[c.ringIdx] = currentFiles - c.lastFiles
	c.lastBytes = currentBytes
	c.lastFiles = currentFiles

	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.throughput[:], seconds)
}

// RollingFilesPerSec returns average files/sec over the last n samples.
func (c *Collector) RollingFilesPerSec(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingAvg(c.filesPer[:], seconds)
}

func (c *Collector) rollingAvg(buf []int64, n int) float64 {
	count := min(n, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		sum += buf[(c.ringIdx-1-i+ringSize)%ringSize]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining copy time from the rolling speed.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	done, total := c.progress.Value()
	remaining := total - done
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"files=%d copied=%d failed=%d skipped=%d bytes=%d dirs=%d verified=%d mismatched=%d",
		s.FilesTotal, s.FilesCopied, s.FilesFailed, s.FilesSkipped,
		s.BytesCopied, s.DirsCreated, s.FilesVerified, s.FilesVerifyFailed,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
