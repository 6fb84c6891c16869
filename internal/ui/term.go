package ui

import (
	"io"

	"golang.org/x/term"
)

// fdWriter is satisfied by *os.File.
type fdWriter interface {
	io.Writer
	Fd() uintptr
}

// IsTTY reports whether w writes to a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(fdWriter)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TermWidth returns the terminal width of w in columns, or 80 if it cannot be
// determined.
func TermWidth(w io.Writer) int {
	f, ok := w.(fdWriter)
	if !ok {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}
