package artifact

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func newTestWriter(t *testing.T, format string) *Writer {
	t.Helper()
	w, err := NewWriter(format, 85, hclog.NewNullLogger())
	require.NoError(t, err)
	return w
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(dir, ".*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestResizeAndEncode(t *testing.T) {
	tests := []struct {
		name          string
		format        string
		src           image.Image
		width, height int
		wantW, wantH  int
	}{
		{name: "landscape into portrait box", format: FormatJPEG, src: testFrame(1280, 720), width: 420, height: 560, wantW: 420, wantH: 236},
		{name: "dual variant", format: FormatJPEG, src: testFrame(1920, 1080), width: 1280, height: 720, wantW: 1280, wantH: 720},
		{name: "never enlarged", format: FormatJPEG, src: testFrame(100, 50), width: 420, height: 560, wantW: 100, wantH: 50},
		{name: "webp", format: FormatWebP, src: testFrame(640, 360), width: 320, height: 320, wantW: 320, wantH: 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			out := filepath.Join(dir, "clip_1."+tt.format)

			w := newTestWriter(t, tt.format)
			require.NoError(t, w.ResizeAndEncode(tt.src, tt.width, tt.height, out))

			img, err := imaging.Open(out)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
			assertNoTempFiles(t, dir)
		})
	}
}

func TestResizeAndEncode_MissingDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "clip_1.jpg")
	err := newTestWriter(t, FormatJPEG).ResizeAndEncode(testFrame(10, 10), 5, 5, out)
	require.Error(t, err)
	assert.Equal(t, ferrors.KindFilesystem, ferrors.GetKind(err))
}

func TestComposeAnimation(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, FormatJPEG)

	var stills []string
	for i, size := range []image.Point{{64, 36}, {64, 36}, {32, 18}} {
		p := filepath.Join(dir, "clip_"+string(rune('1'+i))+".jpg")
		require.NoError(t, w.ResizeAndEncode(testFrame(size.X, size.Y), 420, 560, p))
		stills = append(stills, p)
	}

	out := filepath.Join(dir, "clip.gif")
	require.NoError(t, w.ComposeAnimation(stills, 100, out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	anim, err := gif.DecodeAll(f)
	require.NoError(t, err)
	require.Len(t, anim.Image, 3)
	assert.Equal(t, []int{10, 10, 10}, anim.Delay)
	assert.Equal(t, 0, anim.LoopCount)
	for _, frame := range anim.Image {
		assert.Equal(t, image.Rect(0, 0, 64, 36), frame.Bounds())
	}
	assertNoTempFiles(t, dir)
}

func TestComposeAnimation_Failures(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, FormatJPEG)

	err := w.ComposeAnimation(nil, 100, filepath.Join(dir, "empty.gif"))
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEncode, ferrors.GetKind(err))

	err = w.ComposeAnimation([]string{filepath.Join(dir, "missing.jpg")}, 100, filepath.Join(dir, "clip.gif"))
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEncode, ferrors.GetKind(err))
	assert.NoFileExists(t, filepath.Join(dir, "clip.gif"))
}

func TestWriteAtomic_EncodeFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip_1.jpg")

	err := writeAtomic(out, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("encoder exploded")
	})
	require.Error(t, err)
	assert.Equal(t, ferrors.KindEncode, ferrors.GetKind(err))
	assert.NoFileExists(t, out)
	assertNoTempFiles(t, dir)
}

func TestWriteAtomic_ReplacesExisting(t *testing.T) {
	out := filepath.Join(t.TempDir(), "clip_1.jpg")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0644))

	require.NoError(t, writeAtomic(out, func(w io.Writer) error {
		_, err := w.Write([]byte("new"))
		return err
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestNewWriter(t *testing.T) {
	_, err := NewWriter("bmp", 90, hclog.NewNullLogger())
	assert.Error(t, err)

	w, err := NewWriter(FormatWebP, 500, hclog.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, 100, w.quality)
	assert.Equal(t, "webp", w.Ext())
}
