// Package injector supervises the external packet-loss loader.
//
// The loader attaches an eBPF program to an interface inside the
// experiment namespace and drops packets until it receives SIGINT. We
// never run more than one loader at a time: each [*Supervisor.SetMode]
// stops the current loader before starting the next one.
package injector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/wfeval/wfeval/internal/fsx"
	"github.com/wfeval/wfeval/internal/metrics"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx"
)

// State is the state of the [*Supervisor].
type State string

const (
	StateStopped  = State("stopped")
	StateStarting = State("starting")
	StateRunning  = State("running")
	StateStopping = State("stopping")
)

const (
	// DefaultSettleDelay is the time we give the loader to attach.
	DefaultSettleDelay = 3 * time.Second

	// DefaultStopTimeout is the time we give the loader to detach.
	DefaultStopTimeout = 3 * time.Second
)

// Config contains the [*Supervisor] config.
type Config struct {
	// LoaderPath is the MANDATORY path of the loader binary.
	LoaderPath string

	// Interface is the MANDATORY interface name inside the namespace.
	Interface string

	// Prefix is the OPTIONAL execution prefix (e.g., ip netns exec wfns).
	Prefix []string

	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// Metrics is the OPTIONAL metrics.
	Metrics *metrics.Metrics

	// SettleDelay is the OPTIONAL settle delay.
	SettleDelay time.Duration

	// Starter is the OPTIONAL process starter.
	Starter shellx.Starter

	// StopTimeout is the OPTIONAL graceful stop timeout.
	StopTimeout time.Duration
}

// Supervisor owns the loader process and the current [model.InjectorConfig].
type Supervisor struct {
	config  Config
	current model.InjectorConfig
	logger  model.Logger
	mu      sync.Mutex
	proc    shellx.Process
	state   State
}

// New creates a new [*Supervisor] in [StateStopped].
func New(config *Config) *Supervisor {
	cfg := *config
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Starter == nil {
		cfg.Starter = shellx.DefaultStarter
	}
	return &Supervisor{
		config: cfg,
		logger: model.NewPrefixLogger("injector", cfg.Logger),
		state:  StateStopped,
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the current configuration.
func (s *Supervisor) Current() model.InjectorConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetMode stops the running loader, if any, and starts a new one with
// the given configuration unless the configuration means off.
//
// Failing to stop gracefully is only logged. Failing to start returns
// a [*model.ConfigurationError], which should abort the run.
func (s *Supervisor) SetMode(ctx context.Context, cfg *model.InjectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if cfg.IsOff() {
		s.config.Metrics.IncInjectorTransition(model.ModeOff)
		return nil
	}

	argv, err := s.argv(cfg)
	if err != nil {
		return model.NewConfigurationError("injector", err)
	}
	s.state = StateStarting
	s.logger.Infof("starting: %s", cfg.String())
	proc, err := s.config.Starter.Start(&shellx.Config{Logger: s.config.Logger}, argv, &shellx.Envp{})
	if err != nil {
		s.state = StateStopped
		return model.NewConfigurationError("injector", err)
	}
	s.proc = proc

	timer := time.NewTimer(s.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		s.stopLocked()
		return ctx.Err()
	}

	if !proc.Alive() {
		s.proc = nil
		s.state = StateStopped
		return model.NewConfigurationError("injector", ErrLoaderExited)
	}
	s.current = *cfg
	s.state = StateRunning
	s.config.Metrics.IncInjectorTransition(cfg.Mode)
	return nil
}

// Teardown returns the injector to off. It is idempotent and suitable
// for registering into a teardown registry.
func (s *Supervisor) Teardown() error {
	return s.SetMode(context.Background(), &model.InjectorConfig{Mode: model.ModeOff})
}

// ErrLoaderExited indicates that the loader exited right after starting.
var ErrLoaderExited = errors.New("loader exited right after starting")

// ErrNoLoader indicates that the loader binary is missing.
var ErrNoLoader = errors.New("loader binary not found")

func (s *Supervisor) argv(cfg *model.InjectorConfig) (*shellx.Argv, error) {
	if _, ok := fsx.RegularFileSize(s.config.LoaderPath); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoLoader, s.config.LoaderPath)
	}
	argv := &shellx.Argv{P: s.config.LoaderPath, V: []string{s.config.Interface}}
	switch cfg.Mode {
	case model.ModeFixed:
		if !cfg.Probability.Valid() {
			return nil, fmt.Errorf("invalid fixed probability: %d", cfg.Probability)
		}
		argv.Append("--mode", "fixed", "--prob", cfg.Probability.String())
	case model.ModeDynamic:
		if err := cfg.Dynamic.Validate(); err != nil {
			return nil, err
		}
		argv.Append(
			"--mode", "dynamic",
			"--max-prob", strconv.FormatInt(cfg.Dynamic.MaxProb, 10),
			"--min-rate", strconv.FormatInt(cfg.Dynamic.MinPPS, 10),
			"--max-rate", strconv.FormatInt(cfg.Dynamic.MaxPPS, 10),
		)
	default:
		return nil, fmt.Errorf("unsupported mode: %q", cfg.Mode)
	}
	return shellx.WrapArgv(s.config.Prefix, argv)
}

// stopLocked stops the running loader. The caller holds the mutex.
func (s *Supervisor) stopLocked() {
	if s.proc == nil {
		s.state = StateStopped
		s.current = model.InjectorConfig{Mode: model.ModeOff}
		return
	}
	s.state = StateStopping
	s.logger.Infof("stopping: %s", s.current.String())
	if err := s.proc.SignalStop(); err != nil {
		s.logger.Warnf("cannot signal loader: %s", err.Error())
	}
	if err := s.proc.WaitTimeout(s.config.StopTimeout); err != nil {
		lerr := &model.ProcessLifecycleError{Name: "injector", Err: err}
		s.logger.Warnf("%s; killing it", lerr.Error())
		s.config.Metrics.IncForcedKill("injector")
		if err := s.proc.Kill(); err != nil {
			s.logger.Warnf("cannot kill loader: %s", err.Error())
		}
	}
	s.proc = nil
	s.state = StateStopped
	s.current = model.InjectorConfig{Mode: model.ModeOff}
}
