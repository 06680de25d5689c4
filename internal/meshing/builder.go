// Package meshing turns a fused point cloud into a cleaned triangle mesh:
// statistical outlier removal, normal estimation and orientation, Poisson
// surface reconstruction and density based pruning.
package meshing

import (
	"context"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"go.uber.org/zap"
)

type Builder struct {
	opts   Options
	logger *zap.Logger
}

func NewBuilder(opts Options, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{opts: opts, logger: logger}
}

// Build reads the point cloud at pointCloudPath, reconstructs a surface and
// writes it to outputMeshPath. Nothing is written unless every step succeeds.
func (b *Builder) Build(ctx context.Context, pointCloudPath, outputMeshPath string) (*port.MeshReport, error) {
	if err := b.opts.Validate(); err != nil {
		return nil, entity.NewConfigurationError("mesh options", err)
	}

	pc, err := geometry.ReadPointCloudFile(pointCloudPath)
	if err != nil {
		return nil, entity.NewIOError("read point cloud "+pointCloudPath, err)
	}

	mesh, report, err := b.Reconstruct(ctx, pc)
	if err != nil {
		return report, err
	}

	if err := geometry.WriteMeshFile(outputMeshPath, mesh, b.opts.Format); err != nil {
		return report, entity.NewIOError("write mesh "+outputMeshPath, err)
	}
	b.logger.Info("mesh written",
		zap.String("path", outputMeshPath),
		zap.Int("vertices", report.Vertices),
		zap.Int("triangles", report.Triangles),
	)
	return report, nil
}

// Reconstruct runs every meshing step in memory. pc is consumed: it is
// filtered and gains normals.
func (b *Builder) Reconstruct(ctx context.Context, pc *geometry.PointCloud) (*geometry.Mesh, *port.MeshReport, error) {
	opts := b.opts
	report := &port.MeshReport{InputPoints: pc.Len()}
	log := b.logger.With(zap.Int("input_points", pc.Len()))

	if pc.Len() == 0 {
		return nil, report, entity.NewReconstructionError("load", "point cloud is empty")
	}

	start := time.Now()
	filtered, _, err := RemoveStatisticalOutliers(ctx, pc, opts.OutlierNeighbors, opts.OutlierStdRatio, opts.Workers)
	if err != nil {
		return nil, report, err
	}
	report.FilteredPoints = filtered.Len()
	report.OutlierPoints = pc.Len() - filtered.Len()
	log.Info("outliers removed",
		zap.Int("removed", report.OutlierPoints),
		zap.Int("remaining", report.FilteredPoints),
		zap.Duration("took", time.Since(start)),
	)
	if filtered.Len() == 0 {
		return nil, report, entity.NewReconstructionError("outlier removal", "no points left after outlier removal")
	}

	start = time.Now()
	if err := EstimateNormals(ctx, filtered, opts.NormalRadius, opts.NormalMaxNN, opts.Workers); err != nil {
		return nil, report, err
	}
	if err := OrientNormals(ctx, filtered, opts.OrientNeighbors, opts.Workers); err != nil {
		return nil, report, err
	}
	log.Info("normals estimated and oriented", zap.Duration("took", time.Since(start)))

	start = time.Now()
	plan, err := PlanPoissonDepth(filtered, opts)
	if err != nil {
		return nil, report, entity.NewReconstructionError("poisson", "%v", err)
	}
	depth := plan.Effective
	report.Depth = depth
	report.RequestedDepth = plan.Requested
	if plan.SolverCapped {
		log.Warn("poisson depth lowered by the solver limit",
			zap.Int("requested_depth", plan.Requested),
			zap.Int("sampling_depth", plan.Sampling),
			zap.Int("effective_depth", depth),
			zap.Int("max_solver_depth", opts.MaxSolverDepth),
		)
	}
	surface, err := solvePoisson(ctx, filtered, opts, depth)
	if err != nil {
		return nil, report, err
	}
	raw, err := extractSurface(ctx, surface, opts.LinearFit)
	if err != nil {
		return nil, report, err
	}
	report.RawVertices = len(raw.Vertices)
	report.RawTriangles = len(raw.Triangles)
	log.Info("poisson surface extracted",
		zap.Int("depth", depth),
		zap.Int("requested_depth", plan.Requested),
		zap.Int("vertices", report.RawVertices),
		zap.Int("triangles", report.RawTriangles),
		zap.Duration("took", time.Since(start)),
	)
	if len(raw.Triangles) == 0 {
		return nil, report, entity.NewReconstructionError("poisson", "surface reconstruction produced no triangles")
	}

	mesh, threshold, err := PruneByDensity(raw, opts.DensityQuantile)
	if err != nil {
		return nil, report, err
	}
	mesh.ComputeVertexNormals()
	report.DensityCutoff = threshold
	report.PrunedVertices = len(raw.Vertices) - len(mesh.Vertices)
	report.Vertices = len(mesh.Vertices)
	report.Triangles = len(mesh.Triangles)
	log.Info("low density vertices pruned",
		zap.Float64("threshold", threshold),
		zap.Int("removed", report.PrunedVertices),
	)
	return mesh, report, nil
}
