package engine

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/slinger/internal/checksum"
	"github.com/bamsammich/slinger/internal/event"
	"github.com/bamsammich/slinger/internal/pipeline"
	"github.com/bamsammich/slinger/internal/stats"
)

func TestRun_CopiesAndVerifiesTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), nil, 0o644))

	result := Run(context.Background(), Config{Src: src, Dst: dst, Workers: 2})

	require.NoError(t, result.Err)
	assert.Equal(t, Done, result.State)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Failures)
	assert.Equal(t, int64(2), result.Verify.Verified)
	assert.Equal(t, int64(1), result.Stats.DirsCreated)

	got, err := os.ReadFile(filepath.Join(dst, "src", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	info, err := os.Stat(filepath.Join(dst, "src", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	for _, f := range result.Files {
		assert.True(t, f.SourceSum.Equal(f.DestSum), f.Rel)
	}
	assertNoTmpFiles(t, afero.NewOsFs(), dst)
}

func TestRun_ReplacesSourceParentWithDestination(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/data/photos", map[string]string{"x.jpg": "jpeg", "y/z.png": "png"})

	o, err := New(Config{FS: fs, Src: "/data/photos", Dst: "/backup"})
	require.NoError(t, err)
	require.NoError(t, o.Stage(context.Background()))
	assert.Equal(t, "/backup/photos", o.DestRoot())
	require.NoError(t, o.Copy(context.Background()))
	_, err = o.Verify(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "jpeg", readFile(t, fs, "/backup/photos/x.jpg"))
	assert.Equal(t, "png", readFile(t, fs, "/backup/photos/y/z.png"))
	exists, err := afero.Exists(fs, "/backup/x.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRun_Contents(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/data/photos", map[string]string{"x.jpg": "jpeg", "y/z.png": "png"})

	result := Run(context.Background(), Config{FS: fs, Src: "/data/photos", Dst: "/backup", Contents: true})
	require.NoError(t, result.Err)

	assert.Equal(t, "jpeg", readFile(t, fs, "/backup/x.jpg"))
	assert.Equal(t, "png", readFile(t, fs, "/backup/y/z.png"))
}

func TestRun_SingleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/", map[string]string{"src.txt": "single file copy"})

	result := Run(context.Background(), Config{FS: fs, Src: "/src.txt", Dst: "/out/dst.txt", Workers: 4})
	require.NoError(t, result.Err)
	assert.Equal(t, int64(1), result.Stats.FilesCopied)
	assert.Equal(t, "single file copy", readFile(t, fs, "/out/dst.txt"))
}

func TestRun_SingleFileIntoDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/", map[string]string{"src.txt": "data"})
	require.NoError(t, fs.MkdirAll("/dest", 0o755))

	result := Run(context.Background(), Config{FS: fs, Src: "/src.txt", Dst: "/dest"})
	require.NoError(t, result.Err)
	assert.Equal(t, "data", readFile(t, fs, "/dest/src.txt"))
}

func TestRun_SecondRunSkipsEverything(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", manyFiles(20))

	first := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 3})
	require.NoError(t, first.Err)
	assert.Equal(t, int64(20), first.Stats.FilesCopied)
	once := snapshotTree(t, fs, "/dst")
	require.Len(t, once, 20)

	second := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 3})
	require.NoError(t, second.Err)
	assert.Equal(t, Done, second.State)
	assert.Equal(t, int64(20), second.Stats.FilesSkipped)
	assert.Zero(t, second.Stats.FilesCopied)
	assert.Zero(t, second.Stats.BytesCopied)
	assert.Equal(t, int64(20), second.Verify.Verified)
	assert.Equal(t, once, snapshotTree(t, fs, "/dst"))
}

func TestRun_SkippedDifferentFileFailsVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a.txt": "abc", "sub/b.txt": ""})
	writeTree(t, fs, "/dst/src", map[string]string{"a.txt": "xyz"})

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 2})

	require.ErrorIs(t, result.Err, ErrVerifyFailed)
	assert.Contains(t, result.Err.Error(), "a.txt")
	assert.Equal(t, Failed, result.State)
	assert.Equal(t, "xyz", readFile(t, fs, "/dst/src/a.txt"), "skipped file must be untouched")

	require.Len(t, result.Verify.Mismatches, 1)
	m := result.Verify.Mismatches[0]
	assert.Equal(t, 0, m.Index)
	assert.False(t, m.SourceSum.Equal(m.DestSum))
	assert.True(t, result.Files[0].Skipped)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "a.txt", result.Failures[0].Path)
	assert.Equal(t, 1, result.Succeeded)
}

func TestRun_SkippedFileOfDifferentLengthFailsVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a.txt": "abc", "sub/b.txt": ""})
	writeTree(t, fs, "/dst/src", map[string]string{"a.txt": "longer content"})

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 2})

	require.ErrorIs(t, result.Err, ErrVerifyFailed)
	require.ErrorIs(t, result.Err, ErrCopyFailed)
	assert.Equal(t, Failed, result.State)
	assert.Equal(t, "longer content", readFile(t, fs, "/dst/src/a.txt"))

	a := result.Files[0]
	require.Equal(t, "a.txt", a.Rel)
	assert.True(t, a.Skipped)
	assert.ErrorIs(t, a.Err, pipeline.ErrSizeMismatch)

	require.Len(t, result.Verify.Mismatches, 1)
	m := result.Verify.Mismatches[0]
	assert.Equal(t, 0, m.Index)
	assert.NoError(t, m.Err)
	assert.False(t, m.SourceSum.IsZero())
	assert.False(t, m.DestSum.IsZero())
	assert.False(t, m.SourceSum.Equal(m.DestSum))
	assert.Equal(t, int64(1), result.Verify.Verified)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)
}

func TestRun_Overwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a.txt": "abc"})
	writeTree(t, fs, "/dst/src", map[string]string{"a.txt": "xyz"})

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Overwrite: true})
	require.NoError(t, result.Err)
	assert.Equal(t, "abc", readFile(t, fs, "/dst/src/a.txt"))
}

func TestRun_CopyFailureIsReportedNotDropped(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeTree(t, mem, "/src", map[string]string{"ok1.txt": "one", "bad.txt": "nope", "ok2.txt": "two"})
	fs := brokenFs{Fs: mem, bad: map[string]bool{"/src/bad.txt": true}}

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 2})

	require.ErrorIs(t, result.Err, ErrCopyFailed)
	assert.Equal(t, Failed, result.State)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bad.txt", result.Failures[0].Path)
	assert.ErrorIs(t, result.Failures[0].Err, os.ErrPermission)
	assert.Equal(t, int64(2), result.Verify.Verified)
	assert.Equal(t, "one", readFile(t, mem, "/dst/src/ok1.txt"))
}

func TestRun_FailFast(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeTree(t, mem, "/src", map[string]string{"bad.txt": "nope"})
	fs := brokenFs{Fs: mem, bad: map[string]bool{"/src/bad.txt": true}}

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", FailFast: true})
	require.ErrorIs(t, result.Err, os.ErrPermission)
	assert.Equal(t, Failed, result.State)
	assert.Zero(t, result.Verify.Verified)
}

func TestRun_SkipVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a": "1"})

	result := Run(context.Background(), Config{FS: fs, Src: "/src", Dst: "/dst", SkipVerify: true})
	require.NoError(t, result.Err)
	assert.Equal(t, Done, result.State)
	assert.True(t, result.Verify.Skipped)
	assert.Zero(t, result.Verify.Verified)
}

func TestRun_ProgressAndEvents(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := manyFiles(30)
	writeTree(t, fs, "/src", files)
	var total int64
	for _, c := range files {
		total += int64(len(c))
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 1024)
	result := Run(context.Background(), Config{
		FS:       fs,
		Src:      "/src",
		Dst:      "/dst",
		Workers:  4,
		SlotSize: 64,
		Stats:    collector,
		Events:   events,
	})
	require.NoError(t, result.Err)

	done, expected := collector.Progress().Value()
	assert.Equal(t, total, done)
	assert.Equal(t, total, expected)

	evs := drainEvents(events)
	assert.Equal(t, 1, countEvents(evs, event.StageComplete))
	assert.Equal(t, 5, countEvents(evs, event.DirCreated))
	assert.Equal(t, 30, countEvents(evs, event.FileStarted))
	assert.Equal(t, 30, countEvents(evs, event.FileCompleted))
	assert.Equal(t, 30, countEvents(evs, event.VerifyOK))
	assert.Equal(t, 1, countEvents(evs, event.VerifyComplete))
}

func TestRun_Report(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a.txt": "abc", "b.txt": "def"})

	result := Run(context.Background(), Config{
		FS:        fs,
		Src:       "/src",
		Dst:       "/dst",
		Algorithm: checksum.SHA256,
		Report:    "/report.csv",
	})
	require.NoError(t, result.Err)

	rows, err := csv.NewReader(strings.NewReader(readFile(t, fs, "/report.csv"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "SHA256 Checksum", rows[0][2])
	assert.Equal(t, []string{
		"/src/a.txt",
		"/dst/src/a.txt",
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		"ok",
		"",
	}, rows[1])
}

func TestRun_SkipsNonRegularEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "real.txt"), []byte("real"), 0o644))
	require.NoError(t, os.Symlink("real.txt", filepath.Join(src, "link")))

	result := Run(context.Background(), Config{Src: src, Dst: filepath.Join(dir, "dst")})
	require.NoError(t, result.Err)
	assert.Equal(t, int64(1), result.Stats.EntriesSkipped)
	assert.Len(t, result.Files, 1)

	_, err := os.Lstat(filepath.Join(dir, "dst", "src", "link"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNew_ConfigurationErrors(t *testing.T) {
	_, err := New(Config{Dst: "/dst"})
	require.ErrorIs(t, err, ErrNoSource)

	_, err = New(Config{Src: "/src", Dst: "  "})
	require.ErrorIs(t, err, ErrNoDestination)

	_, err = New(Config{Src: "/src", Dst: "/dst", Algorithm: "crc32"})
	require.Error(t, err)

	_, err = New(Config{Src: "/src", Dst: "/dst", Slots: 1})
	require.Error(t, err)

	result := Run(context.Background(), Config{Src: "/src"})
	require.ErrorIs(t, result.Err, ErrNoDestination)
	assert.Equal(t, Unstaged, result.State)
}

func TestStage_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/empty", 0o755))
	writeTree(t, fs, "/src", map[string]string{"a": "1"})

	tests := []struct {
		name string
		src  string
		dst  string
		want error
	}{
		{"missing source", "/nope", "/dst", os.ErrNotExist},
		{"empty root", "/empty", "/dst", ErrEmptyRoot},
		{"destination inside source", "/src", "/src/backup", ErrDestInsideSource},
		{"destination is source", "/src", "/src", ErrDestInsideSource},
		{"destination is source parent", "/src", "/", ErrDestInsideSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(Config{FS: fs, Src: tt.src, Dst: tt.dst})
			require.NoError(t, err)
			require.ErrorIs(t, o.Stage(context.Background()), tt.want)
			assert.Equal(t, Unstaged, o.State())
		})
	}
}

func TestPhasesMustRunInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a": "1"})
	ctx := context.Background()

	o, err := New(Config{FS: fs, Src: "/src", Dst: "/dst"})
	require.NoError(t, err)

	require.ErrorIs(t, o.Copy(ctx), ErrInvalidState)
	_, err = o.Verify(ctx)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, o.Stage(ctx))
	assert.Equal(t, Staged, o.State())
	require.ErrorIs(t, o.Stage(ctx), ErrInvalidState)
	_, err = o.Verify(ctx)
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, o.Copy(ctx))
	assert.Equal(t, Copying, o.State())

	_, err = o.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, Done, o.State())
	require.ErrorIs(t, o.Copy(ctx), ErrInvalidState)
}

func TestCopy_EveryIndexClaimedOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", manyFiles(200))

	o, err := New(Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 8, SlotSize: 32, Slots: 2})
	require.NoError(t, err)
	require.NoError(t, o.Stage(context.Background()))
	require.NoError(t, o.Copy(context.Background()))

	for _, r := range o.Results() {
		require.Equal(t, 1, r.Claims, "index %d (%s)", r.Index, r.Rel)
		require.NoError(t, r.Err)
	}
}

func TestCopy_CancelledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", manyFiles(40))

	o, err := New(Config{FS: fs, Src: "/src", Dst: "/dst", Workers: 4})
	require.NoError(t, err)
	require.NoError(t, o.Stage(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, o.Copy(ctx), context.Canceled)
	assert.Equal(t, Failed, o.State())
	assert.Zero(t, o.CleanupTmp())
	assertNoTmpFiles(t, fs, "/dst")
}

func TestWithin(t *testing.T) {
	assert.True(t, within("/a", "/a"))
	assert.True(t, within("/a", "/a/b"))
	assert.False(t, within("/a", "/ab"))
	assert.False(t, within("/a/b", "/a"))
	assert.False(t, within("/a", "/c/..a"))
}
