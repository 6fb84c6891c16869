package pipeline

import (
	"sync"

	"github.com/spf13/afero"
)

// TmpRegistry tracks temp files that have not been committed yet, so an
// interrupted run can remove them. It is owned by one run; a nil registry
// ignores every call.
type TmpRegistry struct {
	fs    afero.Fs
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewTmpRegistry returns an empty registry that removes files through fs.
func NewTmpRegistry(fs afero.Fs) *TmpRegistry {
	return &TmpRegistry{fs: fs, paths: make(map[string]struct{})}
}

// Register records path as in flight.
func (r *TmpRegistry) Register(path string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.paths[path] = struct{}{}
	r.mu.Unlock()
}

// Deregister forgets path.
func (r *TmpRegistry) Deregister(path string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.paths, path)
	r.mu.Unlock()
}

// Len returns the number of tracked paths.
func (r *TmpRegistry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Cleanup removes every tracked file and empties the registry. It returns
// how many files were removed.
func (r *TmpRegistry) Cleanup() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	paths := make([]string, 0, len(r.paths))
	for p := range r.paths {
		paths = append(paths, p)
	}
	clear(r.paths)
	r.mu.Unlock()

	removed := 0
	for _, p := range paths {
		if r.fs.Remove(p) == nil {
			removed++
		}
	}
	return removed
}
