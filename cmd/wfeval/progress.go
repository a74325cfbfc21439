package main

//
// Progress bar
//

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/wfeval/wfeval/internal/model"
)

// progressObserver shows the progress of each group of trials.
type progressObserver struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
}

// OnGroupStart implements controller.Observer.
func (po *progressObserver) OnGroupStart(group *model.InjectorConfig, numTrials int) {
	po.finish()
	po.bar = progressbar.NewOptions(
		numTrials,
		progressbar.OptionSetDescription(group.String()),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(po.writer, "\n")
		}),
		progressbar.OptionSetWriter(po.writer),
	)
}

// OnTrialRecorded implements controller.Observer.
func (po *progressObserver) OnTrialRecorded(trial *model.Trial) {
	if po.bar != nil {
		po.bar.Add(1)
	}
}

func (po *progressObserver) finish() {
	if po.bar != nil && !po.bar.IsFinished() {
		po.bar.Exit()
	}
}
