package port

import "github.com/arrajeevchandar/aerominds/internal/domain/entity"

// Observer receives pipeline progress events. Implementations must not block.
type Observer interface {
	OnStageStart(stage entity.Stage)
	OnStageDone(result entity.StageResult)
}
