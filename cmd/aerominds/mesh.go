package main

import (
	"fmt"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/arrajeevchandar/aerominds/internal/meshing"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// meshFlags are the meshing knobs shared by run and mesh.
type meshFlags struct {
	depth           int
	width           float64
	scale           float64
	linearFit       bool
	maxSolverDepth  int
	densityQuantile float64
	outlierNN       int
	outlierStd      float64
	normalRadius    float64
	normalMaxNN     int
	orientNN        int
	workers         int
	ascii           bool
}

func (m *meshFlags) register(f *pflag.FlagSet) {
	d := meshing.DefaultOptions()
	f.IntVar(&m.depth, "depth", d.Depth, "Poisson octree depth (0 to derive it from --width)")
	f.Float64Var(&m.width, "width", d.Width, "Target finest cell width, used when --depth is 0")
	f.Float64Var(&m.scale, "scale", d.Scale, "Ratio of the reconstruction cube to the bounding box")
	f.BoolVar(&m.linearFit, "linear-fit", d.LinearFit, "Place iso-vertices by linear interpolation")
	f.IntVar(&m.maxSolverDepth, "max-solver-depth", d.MaxSolverDepth, "Upper bound on the solved lattice depth")
	f.Float64Var(&m.densityQuantile, "density-quantile", d.DensityQuantile, "Prune vertices below this density quantile")
	f.IntVar(&m.outlierNN, "outlier-neighbors", d.OutlierNeighbors, "Neighbours for statistical outlier removal")
	f.Float64Var(&m.outlierStd, "outlier-std", d.OutlierStdRatio, "Standard deviation ratio for outlier removal")
	f.Float64Var(&m.normalRadius, "normal-radius", d.NormalRadius, "Search radius for normal estimation")
	f.IntVar(&m.normalMaxNN, "normal-max-nn", d.NormalMaxNN, "Maximum neighbours for normal estimation")
	f.IntVar(&m.orientNN, "orient-neighbors", d.OrientNeighbors, "Neighbours of the normal orientation graph")
	f.IntVar(&m.workers, "workers", d.Workers, "Parallel meshing workers")
	f.BoolVar(&m.ascii, "ascii", false, "Write the mesh as ASCII PLY")
}

func (m *meshFlags) options() (meshing.Options, error) {
	opts := meshing.DefaultOptions()
	opts.Depth = m.depth
	opts.Width = m.width
	opts.Scale = m.scale
	opts.LinearFit = m.linearFit
	opts.MaxSolverDepth = m.maxSolverDepth
	opts.DensityQuantile = m.densityQuantile
	opts.OutlierNeighbors = m.outlierNN
	opts.OutlierStdRatio = m.outlierStd
	opts.NormalRadius = m.normalRadius
	opts.NormalMaxNN = m.normalMaxNN
	opts.OrientNeighbors = m.orientNN
	if m.workers > 0 {
		opts.Workers = m.workers
	}
	if m.ascii {
		opts.Format = geometry.FormatASCII
	}
	if err := opts.Validate(); err != nil {
		return opts, entity.NewConfigurationError("mesh flags", err)
	}
	return opts, nil
}

var meshCmdOpts struct {
	input  string
	output string
	flags  meshFlags
}

var meshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Build a mesh from an existing point cloud",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		opts, err := meshCmdOpts.flags.options()
		if err != nil {
			return err
		}
		report, err := meshing.NewBuilder(opts, log).Build(cmd.Context(), meshCmdOpts.input, meshCmdOpts.output)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"mesh written to %s\n  points %d, outliers %d, depth %d (requested %d), raw %d/%d, kept vertices %d, triangles %d\n",
			meshCmdOpts.output, report.InputPoints, report.OutlierPoints, report.Depth, report.RequestedDepth,
			report.RawVertices, report.RawTriangles, report.Vertices, report.Triangles)
		return nil
	},
}

func init() {
	f := meshCmd.Flags()
	f.StringVarP(&meshCmdOpts.input, "input", "i", "", "Input point cloud (PLY with or without normals)")
	f.StringVarP(&meshCmdOpts.output, "output", "o", "mesh.ply", "Output mesh")
	meshCmdOpts.flags.register(f)
	_ = meshCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(meshCmd)
}
