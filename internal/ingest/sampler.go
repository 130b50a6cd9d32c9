package ingest

import (
	"math"
	"math/rand"
	"sort"

	ferrors "github.com/mantonx/framegrab/internal/errors"
)

// maxCandidates bounds the whole-second window so every candidate stays
// exactly representable as a float64 offset.
const maxCandidates = 1 << 52

// SampleTimestamps picks count distinct timestamps in [start, duration),
// sorted ascending. start is offset, or zero when offset does not fit inside
// the media. Whole seconds below the truncated duration are drawn at random
// without replacement when the window holds enough of them; shorter windows
// get count evenly spaced points instead. Cost depends on count only.
func SampleTimestamps(duration, offset float64, count int, rng *rand.Rand) ([]float64, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, ferrors.Decode("sample_timestamps", ferrors.ErrNoDuration).
			WithDetail("duration", duration)
	}
	if count <= 0 {
		return nil, nil
	}

	start := offset
	if start < 0 || start >= duration {
		start = 0
	}

	// The partial last second is left out: the container duration can run
	// past the final video frame.
	first := math.Ceil(start)
	span := math.Floor(duration) - first
	if span > maxCandidates {
		span = maxCandidates
	}

	stamps := make([]float64, 0, count)
	if span >= float64(count) {
		for _, i := range pickDistinct(int64(span), count, rng) {
			stamps = append(stamps, first+float64(i))
		}
		sort.Float64s(stamps)
		return stamps, nil
	}

	step := (duration - start) / float64(count)
	for i := 0; i < count; i++ {
		stamps = append(stamps, start+step*float64(i))
	}
	return stamps, nil
}

// pickDistinct returns k distinct values from [0, n) using Floyd's
// algorithm. Requires k <= n.
func pickDistinct(n int64, k int, rng *rand.Rand) []int64 {
	chosen := make(map[int64]struct{}, k)
	out := make([]int64, 0, k)
	for j := n - int64(k); j < n; j++ {
		v := rng.Int63n(j + 1)
		if _, dup := chosen[v]; dup {
			v = j
		}
		chosen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
