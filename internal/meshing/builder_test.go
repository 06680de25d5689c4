package meshing

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSphereSurfaceIsManifoldAndDense(t *testing.T) {
	if testing.Short() {
		t.Skip("reconstructs a 10k point sphere")
	}
	ctx := context.Background()
	opts := DefaultOptions()
	pc := fibonacciSphere(10000, 1)

	require.NoError(t, EstimateNormals(ctx, pc, opts.NormalRadius, opts.NormalMaxNN, opts.Workers))
	require.NoError(t, OrientNormals(ctx, pc, opts.OrientNeighbors, opts.Workers))
	depth, err := PoissonDepth(pc, opts)
	require.NoError(t, err)
	surface, err := solvePoisson(ctx, pc, opts, depth)
	require.NoError(t, err)
	raw, err := extractSurface(ctx, surface, opts.LinearFit)
	require.NoError(t, err)
	require.NotEmpty(t, raw.Triangles)

	assert.True(t, raw.IsEdgeManifold())
	var radius float64
	for _, v := range raw.Vertices {
		radius += v.Norm()
	}
	assert.InDelta(t, 1, radius/float64(len(raw.Vertices)), 0.1)

	threshold := DensityThreshold(raw.Densities, opts.DensityQuantile)
	var above int
	for _, d := range raw.Densities {
		if d >= threshold {
			above++
		}
	}
	n := float64(len(raw.Densities))
	assert.GreaterOrEqual(t, float64(above)/n, 0.9-1/n)

	pruned, _, err := PruneByDensity(raw, opts.DensityQuantile)
	require.NoError(t, err)
	assert.True(t, pruned.IsEdgeManifold())
	assert.Equal(t, above, len(pruned.Vertices))
}

func TestBuilderWarnsWhenSolverLimitLowersDepth(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "fused.ply")
	require.NoError(t, geometry.WritePointCloudFile(in, fibonacciSphere(6000, 1), geometry.FormatBinaryLE))

	opts := DefaultOptions()
	opts.MaxSolverDepth = 4
	core, logs := observer.New(zapcore.WarnLevel)

	report, err := NewBuilder(opts, zap.New(core)).Build(context.Background(), in, filepath.Join(dir, "mesh.ply"))
	require.NoError(t, err)
	assert.Equal(t, 9, report.RequestedDepth)
	assert.Equal(t, 4, report.Depth)

	warned := logs.FilterMessage("poisson depth lowered by the solver limit").All()
	require.Len(t, warned, 1)
	fields := warned[0].ContextMap()
	assert.EqualValues(t, 9, fields["requested_depth"])
	assert.EqualValues(t, 4, fields["effective_depth"])
}

func TestBuilderBuildWritesMesh(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "fused.ply")
	out := filepath.Join(dir, "mesh.ply")

	pc := fibonacciSphere(3000, 1)
	pc.Points = append(pc.Points, r3.Vector{X: 40, Y: 40, Z: 40})
	require.NoError(t, geometry.WritePointCloudFile(in, pc, geometry.FormatBinaryLE))

	report, err := NewBuilder(DefaultOptions(), nil).Build(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, 3001, report.InputPoints)
	assert.GreaterOrEqual(t, report.OutlierPoints, 1)
	assert.Equal(t, report.InputPoints-report.OutlierPoints, report.FilteredPoints)
	assert.GreaterOrEqual(t, report.Depth, 2)
	assert.LessOrEqual(t, report.Vertices, report.RawVertices)
	assert.Equal(t, report.RawVertices-report.PrunedVertices, report.Vertices)
	assert.Positive(t, report.Triangles)

	mesh, err := geometry.ReadMeshFile(out)
	require.NoError(t, err)
	assert.Len(t, mesh.Vertices, report.Vertices)
	assert.Len(t, mesh.Triangles, report.Triangles)
	assert.Len(t, mesh.Normals, report.Vertices)
	for _, v := range mesh.Vertices {
		assert.Less(t, v.Norm(), 2.0, "outlier must not leak into the surface")
	}
	for _, nrm := range mesh.Normals {
		assert.False(t, math.IsNaN(nrm.X))
	}
}

func TestBuilderBuildMissingInput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "mesh.ply")

	_, err := NewBuilder(DefaultOptions(), nil).Build(context.Background(), filepath.Join(dir, "missing.ply"), out)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrIO)
	assert.NoFileExists(t, out)
}

func TestBuilderBuildEmptyCloud(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "empty.ply")
	out := filepath.Join(dir, "mesh.ply")
	require.NoError(t, geometry.WritePointCloudFile(in, &geometry.PointCloud{}, geometry.FormatBinaryLE))

	_, err := NewBuilder(DefaultOptions(), nil).Build(context.Background(), in, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrReconstruction)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestBuilderBuildInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.DensityQuantile = 2

	_, err := NewBuilder(opts, nil).Build(context.Background(), "unused.ply", "unused-out.ply")
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no neighbours", func(o *Options) { o.OutlierNeighbors = 0 }},
		{"zero ratio", func(o *Options) { o.OutlierStdRatio = 0 }},
		{"tiny normal neighbourhood", func(o *Options) { o.NormalMaxNN = 2 }},
		{"no depth nor width", func(o *Options) { o.Depth = 0 }},
		{"shrinking scale", func(o *Options) { o.Scale = 0.5 }},
		{"negative quantile", func(o *Options) { o.DensityQuantile = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			assert.Error(t, opts.Validate())
		})
	}
}
