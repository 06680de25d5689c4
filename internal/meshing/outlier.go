package meshing

import (
	"context"
	"math"

	"github.com/arrajeevchandar/aerominds/internal/geometry"
	"gonum.org/v1/gonum/stat"
)

// RemoveStatisticalOutliers drops every point whose mean distance to its k
// nearest neighbours exceeds mu + stdRatio*sigma, where mu and sigma are the
// mean and sample standard deviation of those distances over the cloud. It
// returns the filtered cloud and the indices that were kept.
func RemoveStatisticalOutliers(ctx context.Context, pc *geometry.PointCloud, k int, stdRatio float64, workers int) (*geometry.PointCloud, []int, error) {
	n := pc.Len()
	if n < 2 {
		return pc.Select(identity(n)), identity(n), nil
	}
	if k > n-1 {
		k = n - 1
	}

	ix := geometry.NewIndex(pc.Points)
	meanDist := make([]float64, n)
	err := parallelFor(ctx, n, workers, func(from, to int) error {
		for i := from; i < to; i++ {
			var sum float64
			nbrs := ix.KNearestOf(i, k)
			for _, nb := range nbrs {
				sum += nb.Distance
			}
			meanDist[i] = sum / float64(len(nbrs))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	mu, sigma := stat.MeanStdDev(meanDist, nil)
	if math.IsNaN(sigma) {
		sigma = 0
	}
	threshold := mu + stdRatio*sigma

	kept := make([]int, 0, n)
	for i, d := range meanDist {
		if d <= threshold {
			kept = append(kept, i)
		}
	}
	return pc.Select(kept), kept, nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
