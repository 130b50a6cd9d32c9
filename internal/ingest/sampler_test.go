package ingest

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertWindow(t *testing.T, stamps []float64, lo, hi float64, count int) {
	t.Helper()
	require.Len(t, stamps, count)
	assert.True(t, sort.Float64sAreSorted(stamps), "ascending order")

	seen := make(map[float64]bool, len(stamps))
	for _, ts := range stamps {
		assert.GreaterOrEqual(t, ts, lo)
		assert.Less(t, ts, hi)
		assert.False(t, seen[ts], "duplicate timestamp %v", ts)
		seen[ts] = true
	}
}

func TestSampleTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		offset   float64
		count    int
		lo, hi   float64
	}{
		{name: "offset inside media", duration: 600, offset: 300, count: 20, lo: 300, hi: 600},
		{name: "offset beyond media", duration: 120, offset: 300, count: 20, lo: 0, hi: 120},
		{name: "offset equals duration", duration: 300, offset: 300, count: 5, lo: 0, hi: 300},
		{name: "fractional duration", duration: 20.5, offset: 0, count: 20, lo: 0, hi: 20.5},
		{name: "window too short for whole seconds", duration: 5.5, offset: 0, count: 20, lo: 0, hi: 5.5},
		{name: "sub-second media", duration: 0.4, offset: 300, count: 3, lo: 0, hi: 0.4},
		{name: "implausibly long media", duration: 1e12, offset: 300, count: 20, lo: 300, hi: 1e12},
		{name: "duration beyond float precision", duration: 1e300, offset: 300, count: 20, lo: 300, hi: 1e300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for seed := int64(0); seed < 25; seed++ {
				stamps, err := SampleTimestamps(tt.duration, tt.offset, tt.count, rand.New(rand.NewSource(seed)))
				require.NoError(t, err)
				assertWindow(t, stamps, tt.lo, tt.hi, tt.count)
			}
		})
	}
}

func TestSampleTimestamps_ExactFitUsesEverySecond(t *testing.T) {
	stamps, err := SampleTimestamps(10, 0, 10, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, stamps)
}

func TestSampleTimestamps_FractionalOffsetRoundsUp(t *testing.T) {
	stamps, err := SampleTimestamps(20, 10.2, 9, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 13, 14, 15, 16, 17, 18, 19}, stamps)
}

func TestSampleTimestamps_SkipsPartialLastSecond(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		stamps, err := SampleTimestamps(10.9, 0, 10, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, stamps)
	}
}

func TestSampleTimestamps_TruncatedWindowFallsBackToEvenSpacing(t *testing.T) {
	stamps, err := SampleTimestamps(9.9, 0, 10, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assertWindow(t, stamps, 0, 9.9, 10)
	assert.Equal(t, 0.0, stamps[0])
	assert.InDelta(t, 8.91, stamps[9], 1e-9)
}

func TestPickDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(3))

	all := pickDistinct(8, 8, rng)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7}, all)

	for seed := int64(0); seed < 25; seed++ {
		picked := pickDistinct(1<<40, 50, rand.New(rand.NewSource(seed)))
		require.Len(t, picked, 50)
		seen := make(map[int64]bool, len(picked))
		for _, v := range picked {
			assert.GreaterOrEqual(t, v, int64(0))
			assert.Less(t, v, int64(1<<40))
			assert.False(t, seen[v], "duplicate %d", v)
			seen[v] = true
		}
	}
}

func TestSampleTimestamps_NoDuration(t *testing.T) {
	for _, d := range []float64{0, -1} {
		_, err := SampleTimestamps(d, 0, 3, rand.New(rand.NewSource(1)))
		require.Error(t, err)
		assert.Equal(t, ferrors.KindDecode, ferrors.GetKind(err))
		assert.True(t, errors.Is(err, ferrors.ErrNoDuration))
	}
}
