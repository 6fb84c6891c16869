package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/slinger/internal/stats"
)

const plainProgressInterval = 5 * time.Second

// plainPresenter outputs one line per finished file to stdout, and periodic
// progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
	pal     palette

	verifying bool
	verified  int64
	verifyN   int64
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(plainProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case StageComplete:
		fmt.Fprintf(p.w, "staged %s files  %s\n", FormatCount(ev.Total), FormatBytes(ev.TotalSize))
	case FileCompleted:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), FormatRate(speed))
	case FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "%s  %s  %s\n", ev.Path, FormatBytes(ev.Size), p.pal.bad.Sprint(errMsg))
	case FileSkipped:
		fmt.Fprintf(p.w, "%s  %s\n", ev.Path, p.pal.dim.Sprint("skipped"))
	case DirCreated:
		if p.verbose {
			fmt.Fprintf(p.w, "%s/\n", ev.Path)
		}
	case VerifyStarted:
		p.verifying = true
		p.verifyN = ev.Total
		fmt.Fprintln(p.w, "verifying...")
	case VerifyOK:
		p.verified++
		if p.verbose {
			fmt.Fprintf(p.w, "%s  %s\n", ev.Path, p.pal.ok.Sprint("ok"))
		}
	case VerifyFailed:
		p.verified++
		fmt.Fprintf(p.w, "%s %s\n", p.pal.bad.Sprint("MISMATCH:"), ev.Path)
	case VerifyComplete:
		p.verifying = false
	}
}

func (p *plainPresenter) printProgress() {
	if p.verifying {
		fmt.Fprintf(p.errW, "verify: %s/%s files\n", FormatCount(p.verified), FormatCount(p.verifyN))
		return
	}
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal) * 100
		speed := p.stats.RollingSpeed(10)
		eta := p.stats.ETA()
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s %s/%s files %s eta %s\n",
			pct,
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
			FormatCount(snap.FilesCopied), FormatCount(snap.FilesTotal),
			FormatRate(speed),
			FormatETA(eta),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s copied %s files\n",
			FormatBytes(snap.BytesCopied),
			FormatCount(snap.FilesCopied),
		)
	}
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
