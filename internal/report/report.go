// Package report writes the per-file outcome of a run as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/bamsammich/slinger/internal/checksum"
)

// Status is the final outcome of one file.
type Status string

const (
	StatusOK         Status = "ok"
	StatusSkipped    Status = "skipped"
	StatusCopyFailed Status = "copy-failed"
	StatusMismatch   Status = "mismatch"
	StatusUnverified Status = "unverified"
)

// Record is one row of the report.
type Record struct {
	Source      string
	Destination string
	Checksum    checksum.Digest
	Status      Status
	Err         error
}

// Writer emits records as CSV. The header is written before the first
// record.
type Writer struct {
	w      *csv.Writer
	alg    checksum.Algorithm
	header bool
}

// NewWriter returns a Writer whose checksum column is labelled after alg.
func NewWriter(w io.Writer, alg checksum.Algorithm) *Writer {
	return &Writer{w: csv.NewWriter(w), alg: alg}
}

// Header returns the column names.
func (w *Writer) Header() []string {
	return []string{
		"Source",
		"Destination",
		strings.ToUpper(w.alg.String()) + " Checksum",
		"Status",
		"Error",
	}
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if !w.header {
		if err := w.w.Write(w.Header()); err != nil {
			return err
		}
		w.header = true
	}

	var sum, msg string
	if !r.Checksum.IsZero() {
		sum = r.Checksum.String()
	}
	if r.Err != nil {
		msg = r.Err.Error()
	}
	return w.w.Write([]string{r.Source, r.Destination, sum, string(r.Status), msg})
}

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	if !w.header {
		if err := w.w.Write(w.Header()); err != nil {
			return err
		}
		w.header = true
	}
	w.w.Flush()
	return w.w.Error()
}

// WriteFile writes records to path on fs, replacing any existing file.
func WriteFile(fs afero.Fs, path string, alg checksum.Algorithm, records []Record) (err error) {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report %s: %w", path, cerr)
		}
	}()

	w := NewWriter(f, alg)
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return fmt.Errorf("write report %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
