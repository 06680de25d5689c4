package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"github.com/google/uuid"
)

type fakeSampler struct {
	frames int
	err    error
	calls  int
}

func (s *fakeSampler) Extract(_ context.Context, _ string, imagesDir string, _ float64) (*entity.FrameSet, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	set := &entity.FrameSet{Stride: 15, Source: entity.VideoInfo{FPS: 30}}
	for i := 0; i < s.frames; i++ {
		path := filepath.Join(imagesDir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := os.WriteFile(path, []byte("jpg"), 0o644); err != nil {
			return nil, err
		}
		set.Frames = append(set.Frames, entity.Frame{Index: i, Path: path})
	}
	return set, nil
}

// recordingEngine lays down the artifact of every stage it is asked to run
// and records the call order.
type recordingEngine struct {
	calls      []string
	failAt     string
	noArtifact string
	block      bool
}

func (e *recordingEngine) step(ctx context.Context, name string, write func() error) error {
	e.calls = append(e.calls, name)
	if e.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if name == e.failAt {
		return entity.NewStageExecutionError("", name, "fatal: "+name+" exploded", errors.New("exit status 1"))
	}
	if name == e.noArtifact {
		return nil
	}
	return write()
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("data"), 0o644)
}

func (e *recordingEngine) ExtractFeatures(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "ExtractFeatures", func() error { return touch(p.DatabasePath) })
}

func (e *recordingEngine) MatchFeatures(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "MatchFeatures", func() error { return touch(p.DatabasePath) })
}

func (e *recordingEngine) MapSparse(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "MapSparse", func() error {
		for _, f := range []string{"cameras.bin", "images.bin", "points3D.bin"} {
			if err := touch(filepath.Join(p.SparseModel, f)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *recordingEngine) Undistort(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "Undistort", func() error {
		if err := touch(filepath.Join(p.DenseDir, "images", "frame_000000.jpg")); err != nil {
			return err
		}
		return touch(filepath.Join(p.DenseDir, "sparse", "cameras.bin"))
	})
}

func (e *recordingEngine) DenseStereo(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "DenseStereo", func() error {
		if err := touch(filepath.Join(p.DenseDir, "stereo", "depth_maps", "a.bin")); err != nil {
			return err
		}
		return touch(filepath.Join(p.DenseDir, "stereo", "normal_maps", "a.bin"))
	})
}

func (e *recordingEngine) Fuse(ctx context.Context, p port.EnginePaths) error {
	return e.step(ctx, "Fuse", func() error { return touch(p.FusedPath) })
}

type fakeBuilder struct {
	calls int
	err   error
}

func (b *fakeBuilder) Build(_ context.Context, in, out string) (*port.MeshReport, error) {
	b.calls++
	report := &port.MeshReport{InputPoints: 100, OutlierPoints: 3, FilteredPoints: 97, Depth: 6, Vertices: 40, Triangles: 76}
	if b.err != nil {
		return report, b.err
	}
	if _, err := os.Stat(in); err != nil {
		return report, entity.NewIOError("read point cloud", err)
	}
	return report, touch(out)
}

type recordingObserver struct {
	started []entity.Stage
	done    []entity.StageResult
}

func (o *recordingObserver) OnStageStart(s entity.Stage)        { o.started = append(o.started, s) }
func (o *recordingObserver) OnStageDone(res entity.StageResult) { o.done = append(o.done, res) }

// Worker side fakes.

type fakeRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]entity.Job
	findErr error
	updates []entity.Job
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[uuid.UUID]entity.Job)}
}

func (r *fakeRepo) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	return nil
}

func (r *fakeRepo) Update(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = *job
	r.updates = append(r.updates, *job)
	return nil
}

func (r *fakeRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	job, ok := r.jobs[id]
	if !ok {
		return nil, port.ErrJobNotFound
	}
	return &job, nil
}

type fakeStorage struct {
	downloadErr error
	uploads     map[string]string
}

func (s *fakeStorage) DownloadVideo(_ context.Context, _ string, dest string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	return touch(dest)
}

func (s *fakeStorage) UploadArtifact(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	if s.uploads == nil {
		s.uploads = make(map[string]string)
	}
	s.uploads[key] = contentType
	return nil
}

type fakeArchiver struct {
	err   error
	paths []string
}

func (a *fakeArchiver) CreateZip(_ context.Context, _ string, paths []string, out string) error {
	if a.err != nil {
		return a.err
	}
	a.paths = paths
	return touch(out)
}

type fakeStatusPublisher struct {
	msgs []entity.ReconstructionStatusMessage
}

func (p *fakeStatusPublisher) PublishStatus(_ context.Context, msg entity.ReconstructionStatusMessage) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

type dlqEntry struct {
	body   []byte
	reason string
	stage  entity.Stage
}

type fakeDLQ struct {
	entries []dlqEntry
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, body []byte, reason string, stage entity.Stage) error {
	d.entries = append(d.entries, dlqEntry{body: body, reason: reason, stage: stage})
	return nil
}

type fakeNotifier struct {
	notices []port.FailureNotice
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, notice port.FailureNotice) error {
	n.notices = append(n.notices, notice)
	return nil
}
