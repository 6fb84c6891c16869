package engine

import (
	"context"
	"log/slog"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/afero"

	"github.com/bamsammich/slinger/internal/stats"
)

// checkFreeSpace warns when the filesystem holding path has less free space
// than need. It only applies to the OS filesystem and reports whether the
// tree is known to fit.
func checkFreeSpace(ctx context.Context, fs afero.Fs, path string, need int64, log *slog.Logger) bool {
	if _, ok := fs.(*afero.OsFs); !ok || need <= 0 {
		return true
	}

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		log.Debug("free space check unavailable", "path", path, "error", err)
		return true
	}
	if usage.Free >= uint64(need) {
		return true
	}

	log.Warn("destination may not have enough free space",
		"path", path,
		"need", stats.FormatBytes(need),
		"free", stats.FormatBytes(int64(usage.Free)), //nolint:gosec // free bytes fit in int64
	)
	return false
}
