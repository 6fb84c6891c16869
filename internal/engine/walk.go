package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Entry is one item found under the source root.
type Entry struct {
	Path string // absolute source path
	Rel  string // path relative to the root
	Size int64
	Mode os.FileMode
}

// Tree is the result of walking a source root. Files and Dirs are sorted by
// relative path, which fixes the file index space for the whole run.
type Tree struct {
	Root    string
	Files   []Entry
	Dirs    []Entry
	Skipped []string // non-regular entries, relative paths
	Bytes   int64
}

// Walk enumerates root in parallel. Symlinks, devices, sockets and other
// non-regular entries are recorded in Skipped and not descended into.
func Walk(ctx context.Context, fs afero.Fs, root string) (Tree, error) {
	w := &walker{
		fs:      fs,
		root:    root,
		workers: min(runtime.NumCPU(), 8),
		tree:    Tree{Root: root},
	}
	w.run(ctx)

	if err := ctx.Err(); err != nil {
		return Tree{}, err
	}
	if len(w.errs) > 0 {
		return Tree{}, errors.Join(w.errs...)
	}

	byRel := func(a, b Entry) int { return strings.Compare(a.Rel, b.Rel) }
	slices.SortFunc(w.tree.Files, byRel)
	slices.SortFunc(w.tree.Dirs, byRel)
	slices.Sort(w.tree.Skipped)
	return w.tree, nil
}

type walker struct {
	fs      afero.Fs
	root    string
	workers int

	mu   sync.Mutex
	tree Tree
	errs []error
}

func (w *walker) run(ctx context.Context) {
	workQueue := make(chan string, w.workers*2)
	var outstanding sync.WaitGroup // directories queued but not yet read

	var workerWg sync.WaitGroup
	for range w.workers {
		workerWg.Add(1)
		go func() {
			defer workerWg.Done()
			for dir := range workQueue {
				w.readDir(ctx, dir, workQueue, &outstanding)
				outstanding.Done()
			}
		}()
	}

	outstanding.Add(1)
	workQueue <- w.root

	outstanding.Wait()
	close(workQueue)
	workerWg.Wait()
}

func (w *walker) readDir(ctx context.Context, dir string, workQueue chan<- string, outstanding *sync.WaitGroup) {
	if ctx.Err() != nil {
		return
	}

	infos, err := afero.ReadDir(w.fs, dir)
	if err != nil {
		w.fail(fmt.Errorf("readdir %s: %w", dir, err))
		return
	}

	for _, info := range infos {
		path := filepath.Join(dir, info.Name())
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			w.fail(fmt.Errorf("rel path for %s: %w", path, err))
			continue
		}
		entry := Entry{Path: path, Rel: rel, Size: info.Size(), Mode: info.Mode()}

		switch mode := info.Mode(); {
		case mode.IsDir():
			w.add(func(t *Tree) { t.Dirs = append(t.Dirs, entry) })
			outstanding.Add(1)
			select {
			case workQueue <- path:
			default:
				// Every worker may be blocked here; hand off instead of waiting.
				go func() { workQueue <- path }()
			}

		case mode.IsRegular():
			w.add(func(t *Tree) {
				t.Files = append(t.Files, entry)
				t.Bytes += entry.Size
			})

		default:
			slog.Debug("skipping non-regular entry", "path", rel, "mode", mode.String())
			w.add(func(t *Tree) { t.Skipped = append(t.Skipped, rel) })
		}
	}
}

func (w *walker) add(fn func(*Tree)) {
	w.mu.Lock()
	fn(&w.tree)
	w.mu.Unlock()
}

func (w *walker) fail(err error) {
	w.mu.Lock()
	w.errs = append(w.errs, err)
	w.mu.Unlock()
}
