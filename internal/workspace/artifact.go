package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/fsx"
)

// MinFrames is the smallest frame set a reconstruction can work with.
const MinFrames = 3

// CheckArtifact verifies that the output artifact of stage exists in the
// layout described by p. Stages without an engine artifact always pass.
func CheckArtifact(p port.EnginePaths, stage entity.Stage) error {
	switch stage {
	case entity.StageFramesExtracted:
		n, err := fsx.CountFiles(p.ImagesDir, frameGlob)
		if err != nil {
			return err
		}
		if n < MinFrames {
			return fmt.Errorf("%s holds %d frames, need at least %d", p.ImagesDir, n, MinFrames)
		}
	case entity.StageFeaturesExtracted, entity.StageMatched:
		if !fsx.NonEmptyFile(p.DatabasePath) {
			return fmt.Errorf("feature database %s missing or empty", p.DatabasePath)
		}
	case entity.StageSparseReconstructed:
		for _, base := range []string{"cameras", "images", "points3D"} {
			if !anyExists(filepath.Join(p.SparseModel, base+".bin"), filepath.Join(p.SparseModel, base+".txt")) {
				return fmt.Errorf("sparse model %s has no %s file", p.SparseModel, base)
			}
		}
	case entity.StageUndistorted:
		n, err := fsx.CountFiles(filepath.Join(p.DenseDir, "images"), "*")
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no undistorted images in %s", filepath.Join(p.DenseDir, "images"))
		}
		if !anyExists(filepath.Join(p.DenseDir, "sparse")) {
			return fmt.Errorf("undistorted calibration missing in %s", p.DenseDir)
		}
	case entity.StageDenseReconstructed:
		for _, sub := range []string{"depth_maps", "normal_maps"} {
			if !anyNonEmptyDir(filepath.Join(p.DenseDir, "stereo", sub), filepath.Join(p.DenseDir, sub)) {
				return fmt.Errorf("no %s under %s", sub, p.DenseDir)
			}
		}
	case entity.StageFused:
		if !fsx.NonEmptyFile(p.FusedPath) {
			return fmt.Errorf("fused point cloud %s missing or empty", p.FusedPath)
		}
	}
	return nil
}

// CheckArtifact verifies the artifact of stage inside w.
func (w *Workspace) CheckArtifact(stage entity.Stage) error {
	return CheckArtifact(w.EnginePaths(), stage)
}

func anyExists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

func anyNonEmptyDir(dirs ...string) bool {
	for _, d := range dirs {
		if n, err := fsx.CountFiles(d, "*"); err == nil && n > 0 {
			return true
		}
	}
	return false
}
