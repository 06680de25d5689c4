package port

import (
	"context"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
)

type FailureNotice struct {
	UserEmail   string
	JobID       string
	VideoKey    string
	Stage       entity.Stage
	Error       string
	Diagnostics string
}

type FailureNotifier interface {
	NotifyFailure(ctx context.Context, notice FailureNotice) error
}
