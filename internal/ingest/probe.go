package ingest

import (
	"os"
	"time"

	ferrors "github.com/mantonx/framegrab/internal/errors"
)

// ProbeResult is the outcome of a single stability check.
type ProbeResult struct {
	Ready   bool
	Size    int64
	ModTime time.Time
	Err     error
}

// StabilityProbe checks whether a source can be read right now. It never
// waits; callers decide when to look again.
type StabilityProbe struct{}

// Probe reports ready only for a non-empty regular file that opens for
// reading and is not exclusively locked by another process.
func (StabilityProbe) Probe(path string) ProbeResult {
	info, err := os.Stat(path)
	if err != nil {
		return notReady(path, err)
	}
	if !info.Mode().IsRegular() {
		return notReady(path, ferrors.ErrNotRegular)
	}
	if info.Size() == 0 {
		return notReady(path, ferrors.ErrEmptyFile)
	}

	f, err := os.Open(path)
	if err != nil {
		return notReady(path, err)
	}
	defer f.Close()

	if err := tryShareLock(f); err != nil {
		return notReady(path, err)
	}

	return ProbeResult{Ready: true, Size: info.Size(), ModTime: info.ModTime()}
}

func notReady(path string, err error) ProbeResult {
	return ProbeResult{Err: ferrors.NotReady("probe", err).WithPath(path)}
}
