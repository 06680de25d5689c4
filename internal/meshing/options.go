package meshing

import (
	"fmt"
	"runtime"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
)

// Options tunes the point cloud to mesh conversion. The zero value is not
// usable; start from DefaultOptions.
type Options struct {
	// Statistical outlier removal.
	OutlierNeighbors int
	OutlierStdRatio  float64

	// Normal estimation over a hybrid radius / count neighbourhood.
	NormalRadius float64
	NormalMaxNN  int

	// Consistent orientation graph degree.
	OrientNeighbors int

	// Poisson surface reconstruction.
	Depth          int
	Width          float64
	Scale          float64
	LinearFit      bool
	MaxSolverDepth int
	SolverTol      float64
	SolverMaxIter  int

	// Vertices below this density quantile are pruned.
	DensityQuantile float64

	Workers int
	Format  geometry.Format
}

func DefaultOptions() Options {
	return Options{
		OutlierNeighbors: 20,
		OutlierStdRatio:  2.0,
		NormalRadius:     0.1,
		NormalMaxNN:      30,
		OrientNeighbors:  15,
		Depth:            9,
		Width:            0,
		Scale:            1.1,
		LinearFit:        false,
		MaxSolverDepth:   7,
		SolverTol:        1e-5,
		SolverMaxIter:    400,
		DensityQuantile:  0.1,
		Workers:          runtime.GOMAXPROCS(0),
		Format:           geometry.FormatBinaryLE,
	}
}

func (o Options) Validate() error {
	switch {
	case o.OutlierNeighbors < 1:
		return fmt.Errorf("outlier neighbours must be positive, got %d", o.OutlierNeighbors)
	case o.OutlierStdRatio <= 0:
		return fmt.Errorf("outlier std ratio must be positive, got %g", o.OutlierStdRatio)
	case o.NormalRadius <= 0 || o.NormalMaxNN < 3:
		return fmt.Errorf("normal neighbourhood needs radius > 0 and at least 3 neighbours")
	case o.OrientNeighbors < 1:
		return fmt.Errorf("orientation neighbours must be positive, got %d", o.OrientNeighbors)
	case o.Depth < 0 || (o.Depth == 0 && o.Width <= 0):
		return fmt.Errorf("poisson needs a depth or a width")
	case o.Scale < 1:
		return fmt.Errorf("poisson scale must be >= 1, got %g", o.Scale)
	case o.MaxSolverDepth < 2:
		return fmt.Errorf("max solver depth must be >= 2, got %d", o.MaxSolverDepth)
	case o.DensityQuantile < 0 || o.DensityQuantile > 1:
		return fmt.Errorf("density quantile must be within [0,1], got %g", o.DensityQuantile)
	}
	return nil
}
