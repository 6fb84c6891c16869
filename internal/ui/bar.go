package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/slinger/internal/stats"
)

const (
	progressBarWidth = 30
	barMinInterval   = 50 * time.Millisecond
	minPathWidth     = 16
	// Columns taken by everything on the copy line except the path.
	barFixedWidth = 96
)

// pathWidth is the room left for the current path on a terminal of the given
// width.
func pathWidth(termWidth int) int {
	return max(termWidth-barFixedWidth, minPathWidth)
}

// barPresenter draws a single progress line that redraws in place on the
// terminal. Failures, mismatches and (with verbose) completed files scroll
// above it.
type barPresenter struct {
	w       io.Writer
	stats   *stats.Collector
	verbose bool
	pal     palette

	pathWidth int

	drawn    bool
	lastDraw time.Time
	current  string

	verifying bool
	verified  int64
	verifyN   int64
}

func (p *barPresenter) Run(events <-chan Event) error {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	redraw := time.NewTicker(100 * time.Millisecond)
	defer redraw.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clear()
				return nil
			}
			p.handleEvent(ev)
			if time.Since(p.lastDraw) >= barMinInterval {
				p.draw()
			}
		case <-redraw.C:
			p.draw()
		case <-secTicker.C:
			p.stats.Tick()
		}
	}
}

func (p *barPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileStarted:
		p.current = ev.Path
	case FileCompleted:
		if p.verbose {
			p.feed("%s  %s  %10s", p.pal.ok.Sprint("✓"), ev.Path, FormatBytes(ev.Size))
		}
	case FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		p.feed("%s  %s  %s", p.pal.bad.Sprint("✗"), ev.Path, errMsg)
	case FileSkipped:
		if p.verbose {
			p.feed("%s  %s  %s", p.pal.dim.Sprint("–"), ev.Path, p.pal.dim.Sprint("skipped"))
		}
	case VerifyStarted:
		p.verifying = true
		p.verifyN = ev.Total
		p.current = ""
	case VerifyOK:
		p.verified++
	case VerifyFailed:
		p.verified++
		p.feed("%s  %s  %s", p.pal.bad.Sprint("✗"), ev.Path, p.pal.bad.Sprint("CHECKSUM MISMATCH"))
	case VerifyComplete:
		p.verifying = false
	}
}

// feed prints a scrolling line above the bar.
func (p *barPresenter) feed(format string, args ...any) {
	p.clear()
	fmt.Fprintf(p.w, format+"\n", args...)
	p.draw()
}

func (p *barPresenter) draw() {
	p.clear()
	fmt.Fprint(p.w, p.line())
	p.drawn = true
	p.lastDraw = time.Now()
}

func (p *barPresenter) line() string {
	if p.verifying {
		var pct float64
		if p.verifyN > 0 {
			pct = float64(p.verified) / float64(p.verifyN)
		}
		return fmt.Sprintf("verify %3.0f%%  %s  %s / %s files",
			pct*100, ProgressBar(pct, progressBarWidth),
			FormatCount(p.verified), FormatCount(p.verifyN))
	}

	snap := p.stats.Snapshot()
	pct := p.stats.Progress().Fraction()
	return fmt.Sprintf("copy   %3.0f%%  %s  %s / %s  %s  eta %s  %s",
		pct*100, ProgressBar(pct, progressBarWidth),
		FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
		FormatRate(p.stats.RollingSpeed(10)),
		FormatETA(p.stats.ETA()),
		p.pal.dim.Sprint(truncPath(p.current, max(p.pathWidth, minPathWidth))))
}

func (p *barPresenter) clear() {
	if !p.drawn {
		return
	}
	// Return to column 0 and clear the line.
	fmt.Fprint(p.w, "\r\033[K")
	p.drawn = false
}

func (p *barPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
