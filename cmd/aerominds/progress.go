package main

import (
	"io"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/schollz/progressbar/v3"
)

// progressObserver advances a bar by one step per finished stage.
type progressObserver struct {
	bar *progressbar.ProgressBar
}

func newProgressObserver(w io.Writer) *progressObserver {
	// Every stage after init is one step.
	steps := len(entity.Stages()) - 1
	return &progressObserver{bar: progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
	)}
}

func (p *progressObserver) OnStageStart(stage entity.Stage) {
	p.bar.Describe(string(stage))
}

func (p *progressObserver) OnStageDone(res entity.StageResult) {
	if res.Err != nil {
		p.bar.Describe(string(res.Stage) + " failed")
		return
	}
	_ = p.bar.Add(1)
	if res.Stage == entity.StageDone {
		_ = p.bar.Finish()
	}
}
