package main

//
// The run subcommand
//

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/wfeval/wfeval/internal/browser"
	"github.com/wfeval/wfeval/internal/capture"
	"github.com/wfeval/wfeval/internal/config"
	"github.com/wfeval/wfeval/internal/controller"
	"github.com/wfeval/wfeval/internal/fsx"
	"github.com/wfeval/wfeval/internal/injector"
	"github.com/wfeval/wfeval/internal/ledger"
	"github.com/wfeval/wfeval/internal/metrics"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/netenv"
	"github.com/wfeval/wfeval/internal/teardown"
)

// runOptions contains the options of the run subcommand.
type runOptions struct {
	DynMax         int64
	DynMaxPPS      int64
	DynMinPPS      int64
	Headless       bool
	Levels         []int
	LoaderPath     string
	Mode           string
	Namespace      string
	OutDir         string
	QUICOnly       bool
	Resume         bool
	RunsPerLevel   int
	TrafficControl bool
	URLsFile       string
}

func newRunCommand(global *globalOptions) *cobra.Command {
	var opts runOptions
	defaults := config.New()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Measure page loads under packet loss",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, &opts, cfg)
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "validating")
			}
			return runMain(cmd.Context(), cfg, opts.Resume)
		},
	}
	flags := cmd.Flags()

	flags.StringVar(&opts.Namespace, "ns", defaults.Namespace, "network namespace where the experiment runs")
	flags.StringVar(&opts.URLsFile, "urls", "", "file containing one URL per line")
	flags.StringVar(&opts.Mode, "mode", defaults.Mode, "injector mode: off, fixed or dynamic")
	flags.IntSliceVar(&opts.Levels, "levels", defaults.Levels, "fixed drop percentages, one group each")
	flags.IntVar(&opts.RunsPerLevel, "runs-per-level", defaults.RunsPerLevel, "repetitions of each group")
	flags.Int64Var(&opts.DynMax, "dyn-max", defaults.Dynamic.MaxProb, "dynamic mode maximum drop percentage")
	flags.Int64Var(&opts.DynMinPPS, "dyn-min-pps", defaults.Dynamic.MinPPS, "dynamic mode packet rate where dropping starts")
	flags.Int64Var(&opts.DynMaxPPS, "dyn-max-pps", defaults.Dynamic.MaxPPS, "dynamic mode packet rate reaching the maximum drop")
	flags.BoolVar(&opts.Headless, "headless", defaults.Browser.Headless, "run the browser in headless mode")
	flags.BoolVar(&opts.QUICOnly, "quic-only", defaults.Network.QUICOnly, "reject HTTPS over TCP inside the namespace")
	flags.BoolVar(&opts.TrafficControl, "traffic-control", defaults.Network.TrafficControl,
		"shape the host uplink to isolate the experiment traffic")
	flags.StringVarP(&opts.OutDir, "out", "o", defaults.OutDir, "directory for the ledger, captures and metrics")
	flags.StringVar(&opts.LoaderPath, "loader", defaults.LoaderPath, "path of the packet-loss loader")
	flags.BoolVar(&opts.Resume, "resume", false, "continue the ledger in the output dir skipping recorded trials")

	return cmd
}

// loadConfig returns the config file contents or the defaults.
func loadConfig(global *globalOptions) (*config.Config, error) {
	if global.ConfigFile == "" {
		return config.New(), nil
	}
	log.Debugf("reading config file from %s", global.ConfigFile)
	return config.ReadConfig(global.ConfigFile)
}

// applyRunFlags overrides the config with the flags set on the command line.
func applyRunFlags(cmd *cobra.Command, opts *runOptions, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ns") {
		cfg.Namespace = opts.Namespace
	}
	if flags.Changed("urls") {
		cfg.URLsFile = opts.URLsFile
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.Mode
	}
	if flags.Changed("levels") {
		cfg.Levels = opts.Levels
	}
	if flags.Changed("runs-per-level") {
		cfg.RunsPerLevel = opts.RunsPerLevel
	}
	if flags.Changed("dyn-max") {
		cfg.Dynamic.MaxProb = opts.DynMax
	}
	if flags.Changed("dyn-min-pps") {
		cfg.Dynamic.MinPPS = opts.DynMinPPS
	}
	if flags.Changed("dyn-max-pps") {
		cfg.Dynamic.MaxPPS = opts.DynMaxPPS
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = opts.Headless
	}
	if flags.Changed("quic-only") {
		cfg.Network.QUICOnly = opts.QUICOnly
	}
	if flags.Changed("traffic-control") {
		cfg.Network.TrafficControl = opts.TrafficControl
	}
	if flags.Changed("out") {
		cfg.OutDir = opts.OutDir
	}
	if flags.Changed("loader") {
		cfg.LoaderPath = opts.LoaderPath
	}
}

// newPlan creates the plan of the run.
func newPlan(cfg *config.Config) (*controller.Plan, error) {
	mode, err := cfg.InjectorMode()
	if err != nil {
		return nil, err
	}
	urls, err := cfg.AllURLs()
	if err != nil {
		return nil, err
	}
	plan := &controller.Plan{
		Mode:        mode,
		Levels:      cfg.InjectorLevels(),
		Repetitions: cfg.RunsPerLevel,
		URLs:        urls,
		Dynamic:     cfg.Dynamic,
		Seed:        cfg.Seed,
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// newNamespace returns the namespace of the run and checks we can enter it.
func newNamespace(logger model.Logger, cfg *config.Config) (*netenv.Namespace, error) {
	ns := netenv.NewNamespace(logger, cfg.Namespace)
	if err := ns.SetExecPrefix(cfg.Network.ExecPrefix); err != nil {
		return nil, err
	}
	if err := ns.CheckAccess(); err != nil {
		return nil, err
	}
	return ns, nil
}

// runMain implements the run subcommand.
func runMain(ctx context.Context, cfg *config.Config, resume bool) error {
	runID := uuid.Must(uuid.NewRandom()).String()
	logger := log.Log
	log.Infof("run %s: mode=%s ns=%s out=%s", runID, cfg.Mode, cfg.Namespace, cfg.OutDir)

	plan, err := newPlan(cfg)
	if err != nil {
		return model.NewConfigurationError("plan", err)
	}
	if err := fsx.MkdirAll(cfg.OutDir); err != nil {
		return errors.Wrap(err, "creating output dir")
	}

	// the signal handler is installed before any teardown hook
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	signals := newSignalHandler(cancel)
	defer signals.notify(ctx)()

	// every hook registered below runs exactly once on every exit path
	td := teardown.New(logger)
	defer td.Run()

	ns, err := newNamespace(logger, cfg)
	if err != nil {
		return err
	}
	if cfg.Network.QUICOnly {
		if err := ns.InstallQUICOnly(cfg.OutDir); err != nil {
			return model.NewConfigurationError("quic-only", err)
		}
		td.Register("quic-only", ns.UninstallQUICOnly)
	}
	ns.Clean()
	if cfg.Network.TrafficControl {
		shaper := netenv.NewShaper(logger, cfg.Network.Subnet)
		if _, err := shaper.Install(); err != nil {
			log.Warnf("traffic control disabled: %s", err.Error())
		} else {
			td.Register("traffic-control", shaper.Uninstall)
		}
	}
	iface := cfg.Interface
	if iface == "" {
		iface = ns.DetectInterface()
	}

	m := metrics.New(runID)
	probe := browser.New(&browser.Config{
		ChromePath:       cfg.Browser.Chrome,
		ChromedriverPath: cfg.Browser.Chromedriver,
		DrainDelay:       time.Duration(cfg.Browser.DrainDelayS * float64(time.Second)),
		ExtraArgs:        cfg.Browser.ExtraArgs,
		Headless:         cfg.Browser.Headless,
		Logger:           logger,
		PageLoadTimeout:  time.Duration(cfg.Browser.PageLoadTimeoutS) * time.Second,
		Prefix:           ns.Prefix(),
	})
	versions, err := probe.Preflight(ctx)
	if ctx.Err() != nil {
		return interrupted(runID)
	}
	if err != nil {
		return err
	}
	log.Infof("preflight: ns=%s if=%s chrome=%s major=%d", cfg.Namespace, iface, versions.Chrome, versions.ChromeMajor)
	log.Infof("preflight: ping 1.1.1.1 -> %s", okOrFail(ns.Ping("1.1.1.1")))

	supervisor := injector.New(&injector.Config{
		LoaderPath: cfg.LoaderPath,
		Interface:  iface,
		Prefix:     ns.Prefix(),
		Logger:     logger,
		Metrics:    m,
	})
	td.Register("injector", supervisor.Teardown)

	ledgerPath := filepath.Join(cfg.OutDir, "ledger.csv")
	recorder, completed, err := openLedger(ledgerPath, resume)
	if err != nil {
		return err
	}
	td.Register("ledger", recorder.Close)

	ctrl := controller.New(&controller.Config{
		Capturer: capture.New(&capture.Config{
			Interface: iface,
			Logger:    logger,
			Metrics:   m,
			Prefix:    ns.Prefix(),
		}),
		Completed: completed,
		Filter:    cfg.Network.CaptureFilter,
		Injector:  supervisor,
		Logger:    logger,
		Navigator: probe,
		Observers: []controller.Observer{m, &progressObserver{writer: os.Stdout}},
		PcapsDir:  filepath.Join(cfg.OutDir, "pcaps"),
		Recorder:  recorder,
	})

	signals.setTarget(ctrl)

	log.Infof("running %d trials", plan.NumTrials())
	err = ctrl.Run(ctx, plan)
	if merr := m.WriteToTextfile(filepath.Join(cfg.OutDir, "metrics.prom")); merr != nil {
		log.Warnf("cannot write metrics: %s", merr.Error())
	}
	if errors.Is(err, context.Canceled) {
		return interrupted(runID)
	}
	if err != nil {
		return err
	}
	log.Infof("run %s: done; ledger at %s", runID, ledgerPath)
	return nil
}

// openLedger creates the ledger or, when resuming, continues the existing
// one and returns the trials it already contains.
func openLedger(path string, resume bool) (*ledger.Recorder, map[model.TrialID]bool, error) {
	if !resume {
		recorder, err := ledger.Create(path)
		return recorder, nil, err
	}
	completed := make(map[model.TrialID]bool)
	if size, ok := fsx.RegularFileSize(path); ok && size > 0 {
		trials, err := ledger.ReadAll(path)
		if err != nil {
			return nil, nil, err
		}
		for _, trial := range trials {
			completed[trial.TrialID] = true
		}
	}
	recorder, err := ledger.OpenAppend(path)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("resuming %s: %d trials already recorded", path, len(completed))
	return recorder, completed, nil
}

// interrupted logs that the run stopped early. The teardown hooks
// run when runMain returns.
func interrupted(runID string) error {
	log.Warnf("run %s: terminated; the ledger contains the completed trials", runID)
	return nil
}

func okOrFail(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAIL"
}
