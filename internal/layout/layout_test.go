package layout

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	ferrors "github.com/mantonx/framegrab/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	defaultVariant = Variant{Name: "Default", Width: 420, Height: 560}
	stbVariant     = Variant{Name: "STB", Width: 1280, Height: 720}
)

func TestPlan_MirrorsRelativeDirectory(t *testing.T) {
	l := New("/videos", "/out", "jpg", []Variant{defaultVariant, stbVariant})

	p, err := l.Plan("/videos/sub/clip.mp4")
	require.NoError(t, err)

	assert.Equal(t, "clip", p.BaseName)
	assert.Equal(t, "sub", p.RelDir)

	var defaults, stbs []string
	for i := 0; i < 3; i++ {
		defaults = append(defaults, p.StillPath("Default", i))
		stbs = append(stbs, p.StillPath("STB", i))
	}
	assert.Equal(t, []string{
		filepath.FromSlash("/out/Default/sub/clip/clip_1.jpg"),
		filepath.FromSlash("/out/Default/sub/clip/clip_2.jpg"),
		filepath.FromSlash("/out/Default/sub/clip/clip_3.jpg"),
	}, defaults)
	assert.Equal(t, []string{
		filepath.FromSlash("/out/STB/sub/clip/clip_1.jpg"),
		filepath.FromSlash("/out/STB/sub/clip/clip_2.jpg"),
		filepath.FromSlash("/out/STB/sub/clip/clip_3.jpg"),
	}, stbs)
	assert.Equal(t, filepath.FromSlash("/out/Default/clip.gif"), p.PreviewPath())
}

func TestPlan_FileAtRoot(t *testing.T) {
	l := New("/videos", "/out", ".webp", []Variant{defaultVariant})

	p, err := l.Plan("/videos/movie.night.mkv")
	require.NoError(t, err)

	assert.Equal(t, "movie.night", p.BaseName)
	assert.Equal(t, filepath.FromSlash("/out/Default/movie.night"), p.Dir("Default"))
	assert.Equal(t, filepath.FromSlash("/out/Default/movie.night/movie.night_1.webp"), p.StillPath("Default", 0))
}

func TestPlan_RejectsOutsideRoot(t *testing.T) {
	l := New("/videos", "/out", "jpg", []Variant{defaultVariant})

	for _, source := range []string{"/other/clip.mp4", "/videos", "/videos/../etc/clip.mp4"} {
		_, err := l.Plan(source)
		require.Error(t, err, source)
		assert.True(t, errors.Is(err, ferrors.ErrOutsideRoot))
		assert.Equal(t, ferrors.KindFilesystem, ferrors.GetKind(err))
	}
}

func TestEnsureDirs_Idempotent(t *testing.T) {
	root := t.TempDir()
	l := New(filepath.Join(root, "in"), filepath.Join(root, "out"), "jpg", []Variant{defaultVariant, stbVariant})

	p, err := l.Plan(filepath.Join(root, "in", "a", "b", "clip.mov"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.EnsureDirs()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for _, dir := range []string{p.Dir("Default"), p.Dir("STB")} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestEnsureDirs_FailureIsFilesystemError(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "out")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0644))

	l := New(filepath.Join(root, "in"), blocker, "jpg", []Variant{defaultVariant})
	p, err := l.Plan(filepath.Join(root, "in", "clip.mp4"))
	require.NoError(t, err)

	err = p.EnsureDirs()
	require.Error(t, err)
	assert.Equal(t, ferrors.KindFilesystem, ferrors.GetKind(err))
	assert.Equal(t, "create_output_dir", ferrors.GetOp(err))
}
