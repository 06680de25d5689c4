package metrics

import (
	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
)

// StageObserver records pipeline progress into the Prometheus collectors.
type StageObserver struct{}

func NewStageObserver() *StageObserver {
	return &StageObserver{}
}

func (StageObserver) OnStageStart(entity.Stage) {}

func (StageObserver) OnStageDone(res entity.StageResult) {
	outcome := "ok"
	switch {
	case res.Err != nil:
		outcome = "failed"
	case res.Skipped:
		outcome = "skipped"
	}
	StageDuration.WithLabelValues(string(res.Stage), outcome).Observe(res.Duration.Seconds())
	if outcome != "ok" {
		return
	}

	switch res.Stage {
	case entity.StageFramesExtracted:
		if n, ok := res.Detail["frames"].(int); ok {
			FramesSampledTotal.Add(float64(n))
		}
	case entity.StageMeshed:
		if n, ok := res.Detail["outliers_removed"].(int); ok {
			OutlierPointsTotal.Add(float64(n))
		}
		if n, ok := res.Detail["vertices"].(int); ok {
			MeshVertices.Observe(float64(n))
		}
		if n, ok := res.Detail["triangles"].(int); ok {
			MeshTriangles.Observe(float64(n))
		}
	}
}
