// Package workspace owns the on-disk layout of one pipeline run:
//
//	<root>/images/frame_%06d.jpg
//	<root>/colmap/database.db
//	<root>/colmap/sparse/0/
//	<root>/colmap/dense/{images,stereo,fused.ply}
//	<root>/<mesh name>
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/fsx"
)

const (
	FramePattern = "frame_%06d.jpg"
	frameGlob    = "frame_*.jpg"
	markerDir    = ".stages"
)

type Workspace struct {
	root string
}

func New(root string) *Workspace {
	return &Workspace{root: filepath.Clean(root)}
}

func (w *Workspace) Root() string         { return w.root }
func (w *Workspace) ImagesDir() string    { return filepath.Join(w.root, "images") }
func (w *Workspace) ColmapDir() string    { return filepath.Join(w.root, "colmap") }
func (w *Workspace) DatabasePath() string { return filepath.Join(w.ColmapDir(), "database.db") }
func (w *Workspace) SparseDir() string    { return filepath.Join(w.ColmapDir(), "sparse") }
func (w *Workspace) SparseModel() string  { return filepath.Join(w.SparseDir(), "0") }
func (w *Workspace) DenseDir() string     { return filepath.Join(w.ColmapDir(), "dense") }
func (w *Workspace) FusedPath() string    { return filepath.Join(w.DenseDir(), "fused.ply") }
func (w *Workspace) MeshPath(name string) string {
	return filepath.Join(w.root, name)
}

// Ensure creates the directory layout. It is safe to call on an existing
// workspace.
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.ImagesDir(), w.SparseDir(), w.DenseDir(), filepath.Join(w.root, markerDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return entity.NewIOError("ensure workspace", err)
		}
	}
	return nil
}

func (w *Workspace) EnginePaths() port.EnginePaths {
	return port.EnginePaths{
		ImagesDir:    w.ImagesDir(),
		DatabasePath: w.DatabasePath(),
		SparseDir:    w.SparseDir(),
		SparseModel:  w.SparseModel(),
		DenseDir:     w.DenseDir(),
		FusedPath:    w.FusedPath(),
	}
}

// FrameCount counts the sampled frames currently in images/.
func (w *Workspace) FrameCount() (int, error) {
	return fsx.CountFiles(w.ImagesDir(), frameGlob)
}

// FramePaths lists the sampled frames in index order.
func (w *Workspace) FramePaths() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.ImagesDir(), frameGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ClearFrames removes previously sampled frames so a new sampling pass never
// mixes with a stale one.
func (w *Workspace) ClearFrames() error {
	matches, err := filepath.Glob(filepath.Join(w.ImagesDir(), frameGlob))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return entity.NewIOError("clear frames", err)
		}
	}
	return nil
}

// MarkComplete records that stage finished and its artifact is whole.
func (w *Workspace) MarkComplete(stage entity.Stage) error {
	path := w.markerPath(stage)
	return fsx.WriteFileAtomic(path, 0o644, func(wr io.Writer) error {
		_, err := io.WriteString(wr, time.Now().UTC().Format(time.RFC3339)+"\n")
		return err
	})
}

// Completed reports whether stage was marked complete by an earlier run.
func (w *Workspace) Completed(stage entity.Stage) bool {
	_, err := os.Stat(w.markerPath(stage))
	return err == nil
}

// Invalidate drops the completion marker of every stage from stage onwards.
func (w *Workspace) Invalidate(from entity.Stage) error {
	started := false
	for _, s := range entity.Stages() {
		if s == from {
			started = true
		}
		if !started {
			continue
		}
		if err := os.Remove(w.markerPath(s)); err != nil && !os.IsNotExist(err) {
			return entity.NewIOError("invalidate stage marker", err)
		}
	}
	return nil
}

func (w *Workspace) markerPath(stage entity.Stage) string {
	return filepath.Join(w.root, markerDir, string(stage))
}

// ValidMeshName reports whether name is a bare .ply file name.
func ValidMeshName(name string) error {
	if name == "" {
		return fmt.Errorf("mesh name is empty")
	}
	if filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("mesh name %q must not contain a directory", name)
	}
	if !strings.EqualFold(filepath.Ext(name), ".ply") {
		return fmt.Errorf("mesh name %q must end in .ply", name)
	}
	return nil
}
