package entity

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrStageExecution    = errors.New("stage execution error")
	ErrIO                = errors.New("io error")
	ErrReconstruction    = errors.New("reconstruction error")
	ErrWorkspaceBusy     = errors.New("workspace is locked by another run")
	ErrInvalidTransition = errors.New("invalid stage transition")
)

// StageError is the error surfaced by a failed run. It carries the stage the
// run was trying to reach and whatever diagnostic text the failing step
// captured.
type StageError struct {
	Kind        error
	Stage       Stage
	Op          string
	Diagnostics string
	Err         error
}

func (e *StageError) Error() string {
	msg := e.Kind.Error()
	if e.Stage != "" {
		msg += " [" + string(e.Stage) + "]"
	}
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return e.Kind == target }

func newStageError(kind error, stage Stage, op string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Op: op, Err: err}
}

func NewValidationError(op string, format string, args ...any) *StageError {
	return newStageError(ErrValidation, "", op, fmt.Errorf(format, args...))
}

func NewConfigurationError(op string, err error) *StageError {
	return newStageError(ErrConfiguration, "", op, err)
}

// NewStageExecutionError records a failed external step together with the
// tail of its output.
func NewStageExecutionError(stage Stage, op string, diagnostics string, err error) *StageError {
	e := newStageError(ErrStageExecution, stage, op, err)
	e.Diagnostics = diagnostics
	return e
}

func NewIOError(op string, err error) *StageError {
	return newStageError(ErrIO, "", op, err)
}

func NewReconstructionError(op string, format string, args ...any) *StageError {
	return newStageError(ErrReconstruction, "", op, fmt.Errorf(format, args...))
}

// WithStage returns err tagged with stage when it is a StageError without
// one. Other errors are wrapped as a stage execution failure.
func WithStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == "" {
			se.Stage = stage
		}
		return se
	}
	return newStageError(ErrStageExecution, stage, "", err)
}

// AsStageError extracts the StageError carried by err.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
