// Package diskguard refuses work when the output volume is nearly full.
package diskguard

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/shirou/gopsutil/v4/disk"
)

var diskUsage = disk.Usage

// Guard checks free space on the volume holding a path.
type Guard struct {
	minFree uint64
	logger  hclog.Logger
}

// New creates a guard. A minFree of zero disables the check.
func New(minFree uint64, logger hclog.Logger) *Guard {
	return &Guard{minFree: minFree, logger: logger.Named("diskguard")}
}

// Check returns a filesystem error wrapping ErrLowDiskSpace when the volume
// holding path has less than the configured free space. Paths that do not
// exist yet are measured at their nearest existing ancestor.
func (g *Guard) Check(path string) error {
	if g.minFree == 0 {
		return nil
	}

	target := existingAncestor(path)
	usage, err := diskUsage(target)
	if err != nil {
		// Unknown free space never blocks ingest.
		g.logger.Warn("failed to read disk usage", "path", target, "error", err)
		return nil
	}

	if usage.Free < g.minFree {
		return ferrors.Filesystem("check_space", ferrors.ErrLowDiskSpace).
			WithPath(path).
			WithDetail("free_bytes", usage.Free).
			WithDetail("min_free_bytes", g.minFree)
	}
	return nil
}

// String describes the threshold for startup logs.
func (g *Guard) String() string {
	if g.minFree == 0 {
		return "disabled"
	}
	return fmt.Sprintf("%d MiB free required", g.minFree/(1024*1024))
}

func existingAncestor(path string) string {
	dir := filepath.Clean(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
