// Package artifact writes the derived images: resized stills and the
// animated preview.
package artifact

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	ferrors "github.com/mantonx/framegrab/internal/errors"
)

// Supported still formats.
const (
	FormatJPEG = "jpg"
	FormatWebP = "webp"
)

// Writer encodes stills in a fixed format. Every file is written to a
// temporary sibling and renamed into place, so readers never see a partial
// artifact.
type Writer struct {
	format  string
	quality int
	logger  hclog.Logger
}

// NewWriter creates a writer. quality applies to both jpg and lossy webp.
func NewWriter(format string, quality int, logger hclog.Logger) (*Writer, error) {
	if format != FormatJPEG && format != FormatWebP {
		return nil, fmt.Errorf("unsupported still format: %s", format)
	}
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Writer{format: format, quality: quality, logger: logger.Named("artifact")}, nil
}

// Ext returns the file extension for stills, without the dot.
func (w *Writer) Ext() string {
	return w.format
}

// ResizeAndEncode scales img down to fit width x height, keeping its aspect
// ratio, and writes it to outputPath. Smaller images are not enlarged.
func (w *Writer) ResizeAndEncode(img image.Image, width, height int, outputPath string) error {
	resized := imaging.Fit(img, width, height, imaging.Lanczos)

	return writeAtomic(outputPath, func(out io.Writer) error {
		switch w.format {
		case FormatWebP:
			return webp.Encode(out, resized, &webp.Options{Quality: float32(w.quality)})
		default:
			return imaging.Encode(out, resized, imaging.JPEG, imaging.JPEGQuality(w.quality))
		}
	})
}

// ComposeAnimation builds a looping GIF from the stills at paths. Frames are
// scaled to the first frame's size when they differ.
func (w *Writer) ComposeAnimation(paths []string, frameDelayMs int, outputPath string) error {
	if len(paths) == 0 {
		return ferrors.Encode("compose_animation", fmt.Errorf("no frames")).WithPath(outputPath)
	}

	anim := &gif.GIF{LoopCount: 0}
	var size image.Point
	for i, path := range paths {
		frame, err := imaging.Open(path)
		if err != nil {
			return ferrors.Encode("compose_animation", fmt.Errorf("failed to open frame: %w", err)).
				WithPath(outputPath).
				WithDetail("frame", path)
		}
		if i == 0 {
			size = frame.Bounds().Size()
		} else if frame.Bounds().Size() != size {
			frame = imaging.Resize(frame, size.X, size.Y, imaging.Lanczos)
		}

		anim.Image = append(anim.Image, toPaletted(frame))
		anim.Delay = append(anim.Delay, frameDelayMs/10) // GIF delays are in 1/100s
	}
	anim.Config = image.Config{Width: size.X, Height: size.Y, ColorModel: anim.Image[0].Palette}

	err := writeAtomic(outputPath, func(out io.Writer) error {
		return gif.EncodeAll(out, anim)
	})
	if err == nil {
		w.logger.Debug("wrote preview", "path", outputPath, "frames", len(paths))
	}
	return err
}

func toPaletted(img image.Image) *image.Paletted {
	bounds := image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())
	dst := image.NewPaletted(bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(dst, bounds, img, img.Bounds().Min)
	return dst
}

// writeAtomic encodes into a hidden temporary file next to path and renames
// it over path once complete.
func writeAtomic(path string, encode func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return ferrors.Filesystem("create_artifact", err).WithPath(path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err = encode(tmp); err != nil {
		_ = tmp.Close()
		return ferrors.Encode("encode_artifact", err).WithPath(path)
	}
	if err = tmp.Close(); err != nil {
		return ferrors.Filesystem("write_artifact", err).WithPath(path)
	}
	if err = os.Chmod(tmpName, 0644); err != nil {
		return ferrors.Filesystem("write_artifact", err).WithPath(path)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return ferrors.Filesystem("rename_artifact", err).WithPath(path)
	}
	return nil
}
