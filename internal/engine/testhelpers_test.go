package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/slinger/internal/event"
)

// writeTree creates files (relative path -> content) under root.
func writeTree(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
}

// manyFiles returns n files spread over a few directories.
func manyFiles(n int) map[string]string {
	files := make(map[string]string, n)
	for i := range n {
		files[fmt.Sprintf("d%d/f%03d.txt", i%5, i)] = strings.Repeat(string(rune('a'+i%26)), i*37%300)
	}
	return files
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

// assertNoTmpFiles fails if an uncommitted temp file is left under root.
func assertNoTmpFiles(t *testing.T, fs afero.Fs, root string) {
	t.Helper()
	_ = afero.Walk(fs, root, func(path string, _ os.FileInfo, err error) error {
		if err == nil {
			assert.False(t, strings.HasSuffix(path, ".slinger-tmp"), "leftover temp file %s", path)
		}
		return nil
	})
}

// snapshotTree returns the content of every regular file under root, keyed
// by path.
func snapshotTree(t *testing.T, fs afero.Fs, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			out[path] = readFile(t, fs, path)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func drainEvents(ch chan event.Event) []event.Event {
	close(ch)
	var out []event.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func countEvents(events []event.Event, typ event.Type) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// brokenFs refuses to open the paths in bad.
type brokenFs struct {
	afero.Fs
	bad map[string]bool
}

func (b brokenFs) Open(name string) (afero.File, error) {
	if b.bad[name] {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return b.Fs.Open(name)
}
