//go:build !linux

package pipeline

import "github.com/spf13/afero"

// preallocate is a no-op outside Linux.
func preallocate(_ afero.File, _ int64) {}

// adviseSequential is a no-op outside Linux.
func adviseSequential(_ afero.File) {}
