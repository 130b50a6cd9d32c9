// Package layout maps a source file to its artifact paths. The output tree
// mirrors the source's directory relative to the watched root, once per
// still variant:
//
//	<output>/<variant>/<rel dir>/<name>/<name>_1.jpg … <name>_K.jpg
//	<output>/<first variant>/<name>.gif
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ferrors "github.com/mantonx/framegrab/internal/errors"
)

// Variant names an output root and the still size written under it.
type Variant struct {
	Name   string
	Width  int
	Height int
}

// Layout holds the roots shared by every planned source.
type Layout struct {
	WatchRoot  string
	OutputRoot string
	Ext        string // still extension without the dot
	Variants   []Variant
}

// Plan is the resolved set of artifact locations for one source file.
type Plan struct {
	Source   string
	BaseName string
	RelDir   string
	dirs     map[string]string
	layout   *Layout
}

// New creates a layout. The first variant is the default one.
func New(watchRoot, outputRoot, ext string, variants []Variant) *Layout {
	return &Layout{
		WatchRoot:  filepath.Clean(watchRoot),
		OutputRoot: filepath.Clean(outputRoot),
		Ext:        strings.TrimPrefix(ext, "."),
		Variants:   variants,
	}
}

// Plan resolves the artifact locations for source. Sources outside the
// watched root are rejected.
func (l *Layout) Plan(source string) (*Plan, error) {
	rel, err := filepath.Rel(l.WatchRoot, filepath.Clean(source))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, ferrors.Filesystem("plan_layout", ferrors.ErrOutsideRoot).
			WithPath(source).
			WithDetail("watch_root", l.WatchRoot)
	}

	base := filepath.Base(rel)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	relDir := filepath.Dir(rel)

	p := &Plan{
		Source:   source,
		BaseName: name,
		RelDir:   relDir,
		dirs:     make(map[string]string, len(l.Variants)),
		layout:   l,
	}
	for _, v := range l.Variants {
		p.dirs[v.Name] = filepath.Join(l.OutputRoot, v.Name, relDir, name)
	}
	return p, nil
}

// Dir returns the still directory for a variant.
func (p *Plan) Dir(variant string) string {
	return p.dirs[variant]
}

// StillPath returns the path of the still at zero-based index for a variant.
func (p *Plan) StillPath(variant string, index int) string {
	return filepath.Join(p.dirs[variant], fmt.Sprintf("%s_%d.%s", p.BaseName, index+1, p.layout.Ext))
}

// PreviewPath returns the animated preview path, placed directly under the
// default variant's root.
func (p *Plan) PreviewPath() string {
	return filepath.Join(p.layout.OutputRoot, p.layout.Variants[0].Name, p.BaseName+".gif")
}

// EnsureDirs creates every still directory plus the preview's parent.
// Existing directories are not an error, so concurrent workers may race here.
func (p *Plan) EnsureDirs() error {
	dirs := make([]string, 0, len(p.dirs)+1)
	for _, v := range p.layout.Variants {
		dirs = append(dirs, p.dirs[v.Name])
	}
	dirs = append(dirs, filepath.Dir(p.PreviewPath()))

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return ferrors.Filesystem("create_output_dir", err).
				WithPath(p.Source).
				WithDetail("dir", dir)
		}
	}
	return nil
}
