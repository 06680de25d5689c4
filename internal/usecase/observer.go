package usecase

import (
	"sort"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/domain/port"
	"go.uber.org/zap"
)

type multiObserver []port.Observer

// Observers combines observers into one. With no arguments it is a no-op.
func Observers(observers ...port.Observer) port.Observer {
	out := make(multiObserver, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) OnStageStart(stage entity.Stage) {
	for _, o := range m {
		o.OnStageStart(stage)
	}
}

func (m multiObserver) OnStageDone(res entity.StageResult) {
	for _, o := range m {
		o.OnStageDone(res)
	}
}

// LogObserver writes one structured line per stage event.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnStageStart(stage entity.Stage) {
	o.logger.Debug("stage started", zap.String("stage", string(stage)))
}

func (o *LogObserver) OnStageDone(res entity.StageResult) {
	fields := []zap.Field{
		zap.String("stage", string(res.Stage)),
		zap.Duration("took", res.Duration),
	}
	keys := make([]string, 0, len(res.Detail))
	for k := range res.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, res.Detail[k]))
	}
	switch {
	case res.Err != nil:
		if se, ok := entity.AsStageError(res.Err); ok && se.Diagnostics != "" {
			fields = append(fields, zap.String("diagnostics", se.Diagnostics))
		}
		o.logger.Error("stage failed", append(fields, zap.Error(res.Err))...)
	case res.Skipped:
		o.logger.Info("stage skipped, output already complete", fields...)
	default:
		o.logger.Info("stage finished", fields...)
	}
}
