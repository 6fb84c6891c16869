package ui

import (
	"io"

	"github.com/fatih/color"

	"github.com/bamsammich/slinger/internal/event"
	"github.com/bamsammich/slinger/internal/stats"
)

// Event is the engine progress event consumed by presenters.
type Event = event.Event

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer
	ErrWriter  io.Writer
	Stats      *stats.Collector
	IsTTY      bool
	Width      int
	Quiet      bool
	Verbose    bool
	NoProgress bool
	NoColor    bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{stats: cfg.Stats}
	}
	pal := newPalette(cfg.IsTTY && !cfg.NoColor)
	if !cfg.IsTTY || cfg.NoProgress {
		return &plainPresenter{
			w:       cfg.Writer,
			errW:    cfg.ErrWriter,
			stats:   cfg.Stats,
			verbose: cfg.Verbose,
			pal:     pal,
		}
	}
	return &barPresenter{
		w:         cfg.ErrWriter, // the bar renders to stderr (the TTY)
		stats:     cfg.Stats,
		verbose:   cfg.Verbose,
		pal:       pal,
		pathWidth: pathWidth(cfg.Width),
	}
}

// palette colors the status markers of feed lines.
type palette struct {
	ok, warn, bad, dim *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		ok:   color.New(color.FgGreen),
		warn: color.New(color.FgYellow),
		bad:  color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}
