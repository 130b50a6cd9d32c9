package ingest

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/mantonx/framegrab/internal/layout"
)

// PipelineConfig holds the per-file processing settings.
type PipelineConfig struct {
	SampleCount    int
	StartOffset    time.Duration
	Preview        bool
	PreviewFrames  int
	PreviewDelayMs int
	DeleteSource   bool
}

// Pipeline runs one attempt for a task: probe, sample, write artifacts and
// optionally delete the source.
type Pipeline struct {
	cfg    PipelineConfig
	layout *layout.Layout
	probe  StabilityProbe
	opener MediaOpener
	writer ArtifactWriter
	space  SpaceChecker
	logger hclog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithSpaceChecker makes every attempt verify free space on the output
// volume before writing.
func WithSpaceChecker(space SpaceChecker) PipelineOption {
	return func(p *Pipeline) { p.space = space }
}

// WithRand fixes the sampling source.
func WithRand(rng *rand.Rand) PipelineOption {
	return func(p *Pipeline) { p.rng = rng }
}

// NewPipeline creates a pipeline writing into l.
func NewPipeline(cfg PipelineConfig, l *layout.Layout, opener MediaOpener, writer ArtifactWriter, logger hclog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		layout: l,
		opener: opener,
		writer: writer,
		logger: logger.Named("pipeline"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs a single attempt. The task's state is advanced to Probing and
// Extracting as the attempt progresses; settling the outcome is up to the
// caller.
func (p *Pipeline) Process(ctx context.Context, task *Task) (*ArtifactSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, ferrors.Internal("process", ferrors.ErrShuttingDown).WithPath(task.SourcePath)
	}

	task.State = StateProbing
	plan, err := p.layout.Plan(task.SourcePath)
	if err != nil {
		return nil, err
	}

	probe := p.probe.Probe(task.SourcePath)
	if !probe.Ready {
		return nil, probe.Err
	}
	if probe.Size != task.ObservedSize {
		previous := task.ObservedSize
		task.ObservedSize = probe.Size
		return nil, ferrors.NotReady("probe", ferrors.ErrSizeChanged).
			WithPath(task.SourcePath).
			WithDetail("previous_size", previous).
			WithDetail("size", probe.Size)
	}

	task.State = StateExtracting
	if p.space != nil {
		if err := p.space.Check(p.layout.OutputRoot); err != nil {
			return nil, ferrors.Wrap(err, ferrors.KindFilesystem, "check_space")
		}
	}

	set, err := p.extract(ctx, task, plan)
	if err != nil {
		return nil, err
	}

	if p.cfg.DeleteSource {
		if err := os.Remove(task.SourcePath); err != nil {
			// Artifacts are already durable; the attempt still succeeds.
			p.logger.Warn("failed to delete source",
				"path", task.SourcePath,
				"error", ferrors.Filesystem("delete_source", err).WithPath(task.SourcePath))
		}
	}

	return set, nil
}

func (p *Pipeline) extract(ctx context.Context, task *Task, plan *layout.Plan) (*ArtifactSet, error) {
	media, err := p.opener.Open(ctx, task.SourcePath)
	if err != nil {
		return nil, p.wrap(err, ferrors.KindDecode, "open_media", task)
	}
	defer media.Close()

	stamps, err := p.sample(media.Duration())
	if err != nil {
		return nil, p.wrap(err, ferrors.KindDecode, "sample_timestamps", task)
	}

	if err := plan.EnsureDirs(); err != nil {
		return nil, err
	}

	set := &ArtifactSet{Stills: make(map[string][]string, len(p.layout.Variants))}
	for i, ts := range stamps {
		if err := ctx.Err(); err != nil {
			return nil, ferrors.Internal("extract", ferrors.ErrShuttingDown).WithPath(task.SourcePath)
		}

		frame, err := media.FrameAt(ctx, ts)
		if err != nil {
			return nil, p.wrap(err, ferrors.KindDecode, "frame_at", task).WithDetail("timestamp", ts)
		}

		for _, v := range p.layout.Variants {
			out := plan.StillPath(v.Name, i)
			if err := p.writer.ResizeAndEncode(frame, v.Width, v.Height, out); err != nil {
				return nil, p.wrap(err, ferrors.KindEncode, "write_still", task).WithDetail("output", out)
			}
			set.Stills[v.Name] = append(set.Stills[v.Name], out)
		}
	}

	if p.cfg.Preview {
		stills := set.Stills[p.layout.Variants[0].Name]
		if n := min(p.cfg.PreviewFrames, len(stills)); n > 0 {
			out := plan.PreviewPath()
			if err := p.writer.ComposeAnimation(stills[:n], p.cfg.PreviewDelayMs, out); err != nil {
				return nil, p.wrap(err, ferrors.KindEncode, "write_preview", task).WithDetail("output", out)
			}
			set.Preview = out
		}
	}

	return set, nil
}

func (p *Pipeline) sample(duration float64) ([]float64, error) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return SampleTimestamps(duration, p.cfg.StartOffset.Seconds(), p.cfg.SampleCount, p.rng)
}

// wrap classifies err unless a collaborator already did, and attaches the
// task's path.
func (p *Pipeline) wrap(err error, kind ferrors.Kind, op string, task *Task) *ferrors.IngestError {
	var iErr *ferrors.IngestError
	if !errors.As(err, &iErr) {
		iErr = ferrors.New(kind, op, err)
	}
	if iErr.Path == "" {
		iErr.Path = task.SourcePath
	}
	return iErr
}
