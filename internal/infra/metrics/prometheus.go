package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerominds_jobs_processed_total",
		Help: "Total number of reconstruction jobs processed, by status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aerominds_job_processing_duration_seconds",
		Help:    "Duration of the worker steps of a reconstruction job",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"step"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aerominds_pipeline_stage_duration_seconds",
		Help:    "Duration of each pipeline stage, by outcome",
		Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 1800, 3600},
	}, []string{"stage", "outcome"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerominds_frames_sampled_total",
		Help: "Total number of video frames sampled across all runs",
	})

	OutlierPointsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aerominds_outlier_points_removed_total",
		Help: "Total number of fused points dropped by outlier removal",
	})

	MeshVertices = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aerominds_mesh_vertices",
		Help:    "Vertex count of produced meshes",
		Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
	})

	MeshTriangles = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aerominds_mesh_triangles",
		Help:    "Triangle count of produced meshes",
		Buckets: prometheus.ExponentialBuckets(1000, 4, 8),
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aerominds_active_workers",
		Help: "Number of workers currently running a reconstruction",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aerominds_retry_total",
		Help: "Total number of requeued jobs, by attempt",
	}, []string{"attempt"})
)
