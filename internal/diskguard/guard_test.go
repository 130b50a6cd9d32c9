package diskguard

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubUsage(t *testing.T, free uint64, err error) *[]string {
	t.Helper()
	var seen []string
	original := diskUsage
	diskUsage = func(path string) (*disk.UsageStat, error) {
		seen = append(seen, path)
		if err != nil {
			return nil, err
		}
		return &disk.UsageStat{Path: path, Free: free}, nil
	}
	t.Cleanup(func() { diskUsage = original })
	return &seen
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		minFree uint64
		free    uint64
		usErr   error
		wantErr bool
	}{
		{name: "plenty of space", minFree: 100, free: 1000},
		{name: "exactly at threshold", minFree: 100, free: 100},
		{name: "below threshold", minFree: 100, free: 99, wantErr: true},
		{name: "disabled", minFree: 0, free: 0},
		{name: "usage unavailable", minFree: 100, usErr: errors.New("statfs failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubUsage(t, tt.free, tt.usErr)
			err := New(tt.minFree, hclog.NewNullLogger()).Check(t.TempDir())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ferrors.ErrLowDiskSpace))
			assert.Equal(t, ferrors.KindFilesystem, ferrors.GetKind(err))
			assert.Equal(t, tt.free, ferrors.GetDetails(err)["free_bytes"])
			assert.True(t, ferrors.IsRetryable(err))
		})
	}
}

func TestCheck_MissingOutputRootUsesAncestor(t *testing.T) {
	seen := stubUsage(t, 1<<40, nil)
	base := t.TempDir()

	require.NoError(t, New(1, hclog.NewNullLogger()).Check(filepath.Join(base, "screenshots", "Default")))
	require.Len(t, *seen, 1)
	assert.Equal(t, base, (*seen)[0])
}

func TestCheck_RealVolume(t *testing.T) {
	assert.NoError(t, New(1, hclog.NewNullLogger()).Check(t.TempDir()))
}

func TestString(t *testing.T) {
	assert.Equal(t, "disabled", New(0, hclog.NewNullLogger()).String())
	assert.Equal(t, "100 MiB free required", New(100*1024*1024, hclog.NewNullLogger()).String())
}
