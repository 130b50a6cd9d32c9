package ingest

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"
	"time"
)

type fakeMedia struct {
	duration float64

	mu    sync.Mutex
	asked []float64
}

func (m *fakeMedia) Duration() float64 { return m.duration }

func (m *fakeMedia) FrameAt(_ context.Context, seconds float64) (image.Image, error) {
	m.mu.Lock()
	m.asked = append(m.asked, seconds)
	m.mu.Unlock()
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

func (m *fakeMedia) Close() error { return nil }

func (m *fakeMedia) timestamps() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.asked...)
}

// fakeOpener fails the first failures opens, then hands out media.
type fakeOpener struct {
	media    *fakeMedia
	failures int
	err      error

	mu    sync.Mutex
	opens int
}

func (o *fakeOpener) Open(context.Context, string) (Media, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.opens <= o.failures {
		if o.err != nil {
			return nil, o.err
		}
		return nil, errors.New("moov atom not found")
	}
	return o.media, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

type stillCall struct {
	Path          string
	Width, Height int
}

type animationCall struct {
	Paths   []string
	DelayMs int
	Output  string
}

type fakeWriter struct {
	err error

	mu         sync.Mutex
	stills     []stillCall
	animations []animationCall
}

func (w *fakeWriter) ResizeAndEncode(_ image.Image, width, height int, outputPath string) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.stills = append(w.stills, stillCall{Path: outputPath, Width: width, Height: height})
	w.mu.Unlock()
	return os.WriteFile(outputPath, []byte("still"), 0644)
}

func (w *fakeWriter) ComposeAnimation(paths []string, frameDelayMs int, outputPath string) error {
	w.mu.Lock()
	w.animations = append(w.animations, animationCall{
		Paths:   append([]string(nil), paths...),
		DelayMs: frameDelayMs,
		Output:  outputPath,
	})
	w.mu.Unlock()
	return os.WriteFile(outputPath, []byte("gif"), 0644)
}

type fakeSpace struct{ err error }

func (s fakeSpace) Check(string) error { return s.err }

type poisonRecord struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Attempts int
	Reason   string
}

type fakePoison struct {
	mu      sync.Mutex
	records map[string]poisonRecord
}

func newFakePoison() *fakePoison {
	return &fakePoison{records: make(map[string]poisonRecord)}
}

// Blocked mirrors the persisted store: a changed file clears its record.
func (p *fakePoison) Blocked(_ context.Context, path string, size int64, modTime time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[path]
	if !ok {
		return false, nil
	}
	if rec.Size == size && rec.ModTime.Equal(modTime) {
		return true, nil
	}
	delete(p.records, path)
	return false, nil
}

func (p *fakePoison) Add(_ context.Context, path string, size int64, modTime time.Time, attempts int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records[path] = poisonRecord{Path: path, Size: size, ModTime: modTime, Attempts: attempts, Reason: reason}
	return nil
}

func (p *fakePoison) get(path string) (poisonRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.records[path]
	return r, ok
}

// processorFunc adapts a function to Processor.
type processorFunc func(ctx context.Context, task *Task) (*ArtifactSet, error)

func (f processorFunc) Process(ctx context.Context, task *Task) (*ArtifactSet, error) {
	return f(ctx, task)
}

type recordingSubmitter struct {
	mu    sync.Mutex
	paths []string
	sizes []int64
}

func (r *recordingSubmitter) Submit(path string, size int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.sizes = append(r.sizes, size)
	return true
}

func (r *recordingSubmitter) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}
