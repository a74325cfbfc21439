// Package controller runs the trials of an experiment plan.
//
// For each group we configure the injector once. For each repetition we
// shuffle the URLs and, for each URL, we run a trial: we start a capture,
// navigate, stop the capture, validate it and record the trial.
package controller

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfeval/wfeval/internal/capture"
	"github.com/wfeval/wfeval/internal/fsx"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/runtimex"
)

// Navigator performs a navigation. See [browser.Probe].
type Navigator interface {
	Run(ctx context.Context, URL string) model.Navigation
}

// Injector configures packet loss. See [injector.Supervisor].
type Injector interface {
	SetMode(ctx context.Context, cfg *model.InjectorConfig) error
	Teardown() error
}

// Recorder durably records trials. See [ledger.Recorder].
type Recorder interface {
	Append(trial *model.Trial) error
}

// Observer is notified about the progress of a run.
type Observer interface {
	OnGroupStart(group *model.InjectorConfig, numTrials int)
	OnTrialRecorded(trial *model.Trial)
}

// Config contains the [*Controller] config.
type Config struct {
	// Capturer is the MANDATORY capturer.
	Capturer *capture.Capturer

	// Completed contains the OPTIONAL trials of a previous execution of
	// the same plan, which we skip when resuming a run.
	Completed map[model.TrialID]bool

	// Filter is the OPTIONAL capture filter.
	Filter string

	// Injector is the MANDATORY injector.
	Injector Injector

	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// Navigator is the MANDATORY navigator.
	Navigator Navigator

	// Observers contains OPTIONAL observers.
	Observers []Observer

	// PcapsDir is the MANDATORY directory for captures.
	PcapsDir string

	// Recorder is the MANDATORY recorder.
	Recorder Recorder

	// TimeNow is the OPTIONAL function returning the current time.
	TimeNow func() time.Time
}

// Controller runs plans.
type Controller struct {
	config Config
	logger model.Logger

	// mu protects cancelNav
	mu        sync.Mutex
	cancelNav context.CancelFunc
}

// New creates a new [*Controller].
func New(config *Config) *Controller {
	cfg := *config
	runtimex.Assert(cfg.Capturer != nil, "controller: nil Capturer")
	runtimex.Assert(cfg.Injector != nil, "controller: nil Injector")
	runtimex.Assert(cfg.Navigator != nil, "controller: nil Navigator")
	runtimex.Assert(cfg.Recorder != nil, "controller: nil Recorder")
	if cfg.TimeNow == nil {
		cfg.TimeNow = time.Now
	}
	return &Controller{
		config: cfg,
		logger: model.ValidLoggerOrDefault(cfg.Logger),
	}
}

// InterruptNavigation cancels the in-flight navigation, if any. The
// trial is recorded as degraded and the run continues. The return value
// tells whether a navigation was in flight.
func (c *Controller) InterruptNavigation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelNav == nil {
		return false
	}
	c.logger.Info("interrupting the current navigation")
	c.cancelNav()
	return true
}

func (c *Controller) setCancelNav(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancelNav = cancel
	c.mu.Unlock()
}

// Run runs the plan. Canceling ctx stops the run after the in-flight trial
// has been recorded, in which case Run returns the context error. Any
// [*model.ConfigurationError] or recording error aborts the run. In all
// cases, the injector is off when Run returns.
func (c *Controller) Run(ctx context.Context, plan *Plan) error {
	if err := plan.Validate(); err != nil {
		return model.NewConfigurationError("plan", err)
	}
	if err := fsx.MkdirAll(c.config.PcapsDir); err != nil {
		return model.NewConfigurationError("pcaps", err)
	}
	defer func() {
		if err := c.config.Injector.Teardown(); err != nil {
			c.logger.Warnf("controller: cannot turn off the injector: %s", err.Error())
		}
	}()

	seed := plan.Seed
	if seed == 0 {
		seed = DefaultSeed
	}
	rng := rand.New(rand.NewSource(seed))
	urls := append([]string{}, plan.URLs...)
	shuffle := func() {
		rng.Shuffle(len(urls), func(i, j int) {
			urls[i], urls[j] = urls[j], urls[i]
		})
	}

	for _, group := range plan.Groups() {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := c.remaining(&group, plan.Repetitions, urls)
		if remaining <= 0 {
			// the order of the following groups depends on the shuffles
			c.logger.Infof("controller: group %s already completed", group.TagPrefix())
			for rep := 1; rep <= plan.Repetitions; rep++ {
				shuffle()
			}
			continue
		}
		c.logger.Infof("controller: group %s (%s)", group.TagPrefix(), group.Injector.String())
		if err := c.config.Injector.SetMode(ctx, &group.Injector); err != nil {
			return err
		}
		for _, obs := range c.config.Observers {
			obs.OnGroupStart(&group.Injector, remaining)
		}
		for rep := 1; rep <= plan.Repetitions; rep++ {
			shuffle()
			for _, URL := range urls {
				if err := ctx.Err(); err != nil {
					return err
				}
				if c.completed(&group, rep, URL) {
					continue
				}
				trial, err := c.runTrial(ctx, &group, plan, rep, URL)
				if err != nil {
					return err
				}
				if err := c.config.Recorder.Append(trial); err != nil {
					return err
				}
				c.logger.Infof("controller: %s rep=%d %s: %.1f ms (%s)",
					group.TagPrefix(), rep, URL, trial.TimingMetricMs, trial.Outcome.String())
				for _, obs := range c.config.Observers {
					obs.OnTrialRecorded(trial)
				}
			}
		}
	}
	return nil
}

func (c *Controller) completed(group *Group, rep int, URL string) bool {
	id := model.TrialID{Mode: group.Mode(), Level: group.Level, Repetition: rep, URL: URL}
	return c.config.Completed[id]
}

// remaining returns the number of trials of the group we still need to run.
func (c *Controller) remaining(group *Group, repetitions int, urls []string) int {
	var count int
	for rep := 1; rep <= repetitions; rep++ {
		for _, URL := range urls {
			if !c.completed(group, rep, URL) {
				count++
			}
		}
	}
	return count
}

// runTrial runs a single trial and only returns an error when the
// run should be aborted. The trial ignores the cancellation of ctx so
// that the in-flight trial is always recorded.
func (c *Controller) runTrial(ctx context.Context, group *Group, plan *Plan, rep int, URL string) (*model.Trial, error) {
	trial := &model.Trial{
		TrialID: model.TrialID{
			Mode:       group.Mode(),
			Level:      group.Level,
			Repetition: rep,
			URL:        URL,
		},
	}
	if group.Injector.Mode == model.ModeDynamic {
		params := plan.Dynamic
		trial.Dynamic = &params
	}
	tag := Tag(group.TagPrefix(), rep, URL, c.config.TimeNow())
	trial.CapturePath = filepath.Join(c.config.PcapsDir, tag+".pcap")

	trialCtx := context.WithoutCancel(ctx)
	sess, err := c.config.Capturer.Begin(trialCtx, trial.CapturePath, c.config.Filter)
	if err != nil {
		return nil, err
	}
	trial.Timeline.CaptureStart = time.Now()

	navCtx, cancel := context.WithCancel(trialCtx)
	c.setCancelNav(cancel)
	trial.Timeline.NavigationStart = time.Now()
	nav := c.config.Navigator.Run(navCtx, URL)
	trial.Timeline.NavigationEnd = time.Now()
	c.setCancelNav(nil)
	cancel()

	sess.End()
	trial.Timeline.CaptureStop = time.Now()
	runtimex.Assert(trial.Timeline.Ordered(), "controller: unordered trial timeline")

	trial.TimingMetricMs = nav.TimingMetricMs
	trial.WallStart = nav.WallStart
	trial.WallEnd = nav.WallEnd
	trial.Outcome = nav.Outcome

	if _, err := capture.Validate(c.logger, URL, trial.CapturePath); err != nil {
		c.logger.Warnf("controller: %s", err.Error())
		trial.Outcome = trial.Outcome.Degrade(capture.ErrEmptyCapture.Error())
	}
	return trial, nil
}
