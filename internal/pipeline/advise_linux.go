//go:build linux

package pipeline

import (
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for f without changing its length.
// Errors are ignored: fallocate is not supported on every filesystem.
//
//nolint:gosec // G115: fd values are small non-negative integers
func preallocate(f afero.File, size int64) {
	osf, ok := f.(*os.File)
	if !ok || size <= 0 {
		return
	}
	//nolint:errcheck // advisory
	unix.Fallocate(int(osf.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}

// adviseSequential tells the kernel f will be read front to back.
//
//nolint:gosec // G115: fd values are small non-negative integers
func adviseSequential(f afero.File) {
	osf, ok := f.(*os.File)
	if !ok {
		return
	}
	//nolint:errcheck // advisory
	unix.Fadvise(int(osf.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
