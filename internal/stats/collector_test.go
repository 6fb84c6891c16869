package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range opsPerGoroutine {
				c.AddFilesCopied(1)
				c.AddFilesFailed(1)
				c.AddFilesSkipped(1)
				c.AddBytesCopied(256)
				c.AddDirsCreated(1)
				c.AddFilesVerified(1)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.FilesCopied)
	assert.Equal(t, expected, s.FilesFailed)
	assert.Equal(t, expected, s.FilesSkipped)
	assert.Equal(t, expected*256, s.BytesCopied)
	assert.Equal(t, expected, s.DirsCreated)
	assert.Equal(t, expected, s.FilesVerified)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{
		FilesTotal:        10,
		FilesCopied:       8,
		FilesFailed:       1,
		FilesSkipped:      1,
		BytesCopied:       4096,
		DirsCreated:       3,
		FilesVerified:     7,
		FilesVerifyFailed: 1,
	}
	expected := "files=10 copied=8 failed=1 skipped=1 bytes=4096 dirs=3 verified=7 mismatched=1"
	assert.Equal(t, expected, s.String())
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
		{1073741824, "1.0 GiB"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, FormatBytes(tt.input))
		})
	}
}

func TestSetTotals(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 1024*1024)
	s := c.Snapshot()
	assert.Equal(t, int64(100), s.FilesTotal)
	assert.Equal(t, int64(1024*1024), s.BytesTotal)
}

func TestTickAndRollingSpeed(t *testing.T) {
	c := NewCollector()

	for range 5 {
		c.AddBytesCopied(1000)
		c.AddFilesCopied(10)
		c.Tick()
	}

	assert.InDelta(t, 1000.0, c.RollingSpeed(5), 0.01)
	assert.InDelta(t, 10.0, c.RollingFilesPerSec(5), 0.01)
}

func TestRollingSpeedPartialWindow(t *testing.T) {
	c := NewCollector()

	c.AddBytesCopied(500)
	c.Tick()
	c.AddBytesCopied(500)
	c.Tick()

	// Ask for 10 but only have 2.
	assert.InDelta(t, 500.0, c.RollingSpeed(10), 0.01)
}

func TestRollingSpeedNoSamples(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 0.0, c.RollingSpeed(5))
}

func TestRingWraparound(t *testing.T) {
	c := NewCollector()
	for i := range ringSize + 10 {
		c.AddBytesCopied(int64(i + 1))
		c.Tick()
	}
	// Last sample is ringSize+10 bytes.
	assert.InDelta(t, float64(ringSize+10), c.RollingSpeed(1), 0.01)
}

func TestETA(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)

	for range 5 {
		c.AddBytesCopied(1000)
		c.Tick()
	}

	assert.InDelta(t, 5.0, c.ETA().Seconds(), 1.0)
}

func TestETANoSpeed(t *testing.T) {
	c := NewCollector()
	c.SetTotals(100, 10000)
	assert.Equal(t, time.Duration(0), c.ETA())
}

func TestETAComplete(t *testing.T) {
	c := NewCollector()
	c.SetTotals(1, 1000)
	c.AddBytesCopied(1000)
	c.Tick()
	assert.Equal(t, time.Duration(0), c.ETA())
}
