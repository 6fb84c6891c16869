package engine

import (
	"errors"
	"fmt"

	"github.com/bamsammich/slinger/internal/checksum"
)

var (
	ErrNoSource         = errors.New("source path not set")
	ErrNoDestination    = errors.New("destination path not set")
	ErrEmptyRoot        = errors.New("source directory has no entries")
	ErrDestInsideSource = errors.New("destination lies inside the source tree")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrCopyFailed       = errors.New("copy failed")
	ErrVerifyFailed     = errors.New("checksum verification failed")
)

// Mismatch records a file whose destination does not match its source.
// Err is set when one side could not be hashed at all.
type Mismatch struct {
	Index       int
	Source      string
	Destination string
	SourceSum   checksum.Digest
	DestSum     checksum.Digest
	Err         error
}

func (m Mismatch) String() string {
	if m.Err != nil {
		return fmt.Sprintf("%s: %v", m.Source, m.Err)
	}
	return fmt.Sprintf("%s: source %s, destination %s", m.Source, m.SourceSum, m.DestSum)
}

// Failure is one entry in the run's failure list.
type Failure struct {
	Index int
	Path  string
	Err   error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}
