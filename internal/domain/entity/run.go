package entity

import (
	"fmt"
	"time"
)

// StageResult is one entry of a run trace.
type StageResult struct {
	Stage     Stage          `json:"stage"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Skipped   bool           `json:"skipped,omitempty"`
	Err       error          `json:"-"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// RunReport is the trace of a pipeline run, handed back to whatever host
// drove it.
type RunReport struct {
	Stage    Stage         `json:"stage"`
	Results  []StageResult `json:"results"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the failing result, if any.
func (r RunReport) Failed() (StageResult, bool) {
	for _, res := range r.Results {
		if res.Err != nil {
			return res, true
		}
	}
	return StageResult{}, false
}

// PipelineRun tracks the state of one pipeline invocation. It is owned by a
// single goroutine.
type PipelineRun struct {
	stage   Stage
	started time.Time
	results []StageResult
}

func NewPipelineRun() *PipelineRun {
	return &PipelineRun{stage: StageInit, started: time.Now().UTC()}
}

func (r *PipelineRun) Stage() Stage { return r.stage }

// Advance records a successful transition to the next stage.
func (r *PipelineRun) Advance(res StageResult) error {
	if !r.stage.CanTransition(res.Stage) || res.Stage == StageFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.stage, res.Stage)
	}
	res.Err = nil
	res.Error = ""
	r.results = append(r.results, res)
	r.stage = res.Stage
	return nil
}

// Fail records a failed attempt at res.Stage and moves the run to Failed.
func (r *PipelineRun) Fail(res StageResult, err error) error {
	if !r.stage.CanTransition(StageFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.stage, StageFailed)
	}
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
	r.results = append(r.results, res)
	r.stage = StageFailed
	return nil
}

func (r *PipelineRun) Report() RunReport {
	results := make([]StageResult, len(r.results))
	copy(results, r.results)
	return RunReport{
		Stage:    r.stage,
		Results:  results,
		Duration: time.Since(r.started),
	}
}
