//go:build unix

package ingest

import (
	"errors"
	"os"

	ferrors "github.com/mantonx/framegrab/internal/errors"
	"golang.org/x/sys/unix"
)

// tryShareLock takes and drops a non-blocking shared advisory lock. A writer
// holding an exclusive lock makes the file not ready.
func tryShareLock(f *os.File) error {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return ferrors.ErrLocked
		}
		return err
	}
	return unix.Flock(fd, unix.LOCK_UN)
}
