package port

import (
	"context"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
)

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg entity.ReconstructionStatusMessage) error
}

// DLQPublisher parks a message that will never succeed, with the reason and
// the stage it failed at.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, body []byte, reason string, stage entity.Stage) error
}
