package ingest

import (
	"context"
	"image"
	"time"
)

// Media is an opened source that can report its length and decode frames.
type Media interface {
	// Duration returns the media length in seconds.
	Duration() float64
	// FrameAt decodes the frame shown at the given timestamp in seconds.
	FrameAt(ctx context.Context, seconds float64) (image.Image, error)
	Close() error
}

// MediaOpener opens source files for frame extraction.
type MediaOpener interface {
	Open(ctx context.Context, path string) (Media, error)
}

// ArtifactWriter produces the still and preview artifacts.
type ArtifactWriter interface {
	// ResizeAndEncode scales img to fit within width x height and writes it
	// to outputPath. The format follows the writer's configuration.
	ResizeAndEncode(img image.Image, width, height int, outputPath string) error
	// ComposeAnimation writes a looping animation built from the images at
	// paths, in order, showing each for frameDelayMs milliseconds.
	ComposeAnimation(paths []string, frameDelayMs int, outputPath string) error
}

// PoisonList records sources whose retries were exhausted so they are not
// admitted again while unchanged.
type PoisonList interface {
	Blocked(ctx context.Context, path string, size int64, modTime time.Time) (bool, error)
	Add(ctx context.Context, path string, size int64, modTime time.Time, attempts int, reason string) error
}

// SpaceChecker reports whether the volume holding path can take more
// artifacts.
type SpaceChecker interface {
	Check(path string) error
}

// Processor runs one attempt of a task.
type Processor interface {
	Process(ctx context.Context, task *Task) (*ArtifactSet, error)
}

// Submitter admits a candidate source into the pipeline.
type Submitter interface {
	Submit(path string, size int64) bool
}
