// Package media extracts durations and frames from video files by shelling
// out to ffprobe and ffmpeg.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/framegrab/internal/config"
	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/mantonx/framegrab/internal/ingest"
)

// execCommand is a variable to allow mocking of exec.CommandContext in tests.
var execCommand = exec.CommandContext

// ErrNoVideoStream is returned for containers without a video track.
var ErrNoVideoStream = errors.New("no video stream found")

// probeOutput is the subset of ffprobe's JSON this package reads.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Opener opens sources through the ffmpeg tools.
type Opener struct {
	ffmpeg  string
	ffprobe string
	logger  hclog.Logger
}

// NewOpener creates an opener using the configured binaries.
func NewOpener(cfg config.MediaConfig, logger hclog.Logger) *Opener {
	ffmpeg, ffprobe := cfg.FFmpegPath, cfg.FFprobePath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Opener{ffmpeg: ffmpeg, ffprobe: ffprobe, logger: logger.Named("media")}
}

// Open probes path and returns a handle for frame extraction.
func (o *Opener) Open(ctx context.Context, path string) (ingest.Media, error) {
	cmd := execCommand(ctx, o.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, ferrors.Decode("probe_media", fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))).
			WithPath(path)
	}

	var result probeOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, ferrors.Decode("probe_media", fmt.Errorf("failed to parse ffprobe output: %w", err)).WithPath(path)
	}

	duration, width, height, err := result.video()
	if err != nil {
		return nil, ferrors.Decode("probe_media", err).WithPath(path)
	}

	o.logger.Debug("opened media", "path", path, "duration", duration, "width", width, "height", height)
	return &Source{opener: o, path: path, duration: duration, width: width, height: height}, nil
}

// video returns the container duration, falling back to the video stream's,
// and the video dimensions.
func (p probeOutput) video() (float64, int, int, error) {
	for _, s := range p.Streams {
		if s.CodecType != "video" {
			continue
		}
		raw := p.Format.Duration
		if raw == "" || raw == "N/A" {
			raw = s.Duration
		}
		duration, err := strconv.ParseFloat(raw, 64)
		if err != nil || duration <= 0 {
			return 0, 0, 0, ferrors.ErrNoDuration
		}
		return duration, s.Width, s.Height, nil
	}
	return 0, 0, 0, ErrNoVideoStream
}

// Source is an opened video file.
type Source struct {
	opener   *Opener
	path     string
	duration float64
	width    int
	height   int
}

// Duration returns the length in seconds.
func (s *Source) Duration() float64 { return s.duration }

// Size returns the video dimensions reported by ffprobe.
func (s *Source) Size() (int, int) { return s.width, s.height }

// FrameAt decodes a single frame at seconds into the media.
func (s *Source) FrameAt(ctx context.Context, seconds float64) (image.Image, error) {
	cmd := execCommand(ctx, s.opener.ffmpeg,
		"-nostdin",
		"-v", "error",
		"-ss", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, ferrors.Decode("frame_at", fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))).
			WithPath(s.path).
			WithDetail("timestamp", seconds)
	}
	if stdout.Len() == 0 {
		return nil, ferrors.Decode("frame_at", fmt.Errorf("no frame at %.3fs", seconds)).
			WithPath(s.path).
			WithDetail("timestamp", seconds)
	}

	img, err := imaging.Decode(&stdout)
	if err != nil {
		return nil, ferrors.Decode("frame_at", fmt.Errorf("failed to decode frame: %w", err)).
			WithPath(s.path).
			WithDetail("timestamp", seconds)
	}
	return img, nil
}

// Close releases the source. Each frame runs its own process, so there is
// nothing held open.
func (s *Source) Close() error { return nil }
