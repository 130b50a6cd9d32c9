//go:build unix

package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestStabilityProbe_ExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copying.mp4")
	require.NoError(t, os.WriteFile(path, []byte("partial"), 0644))

	writer, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, unix.Flock(int(writer.Fd()), unix.LOCK_EX))

	res := StabilityProbe{}.Probe(path)
	assert.False(t, res.Ready)
	assert.True(t, errors.Is(res.Err, ferrors.ErrLocked))

	require.NoError(t, unix.Flock(int(writer.Fd()), unix.LOCK_UN))
	assert.True(t, StabilityProbe{}.Probe(path).Ready)
}
