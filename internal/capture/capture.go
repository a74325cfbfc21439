// Package capture records the traffic of a single trial with tcpdump.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wfeval/wfeval/internal/fsx"
	"github.com/wfeval/wfeval/internal/humanize"
	"github.com/wfeval/wfeval/internal/metrics"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/pcapx"
	"github.com/wfeval/wfeval/internal/shellx"
)

const (
	// DefaultFilter selects QUIC traffic.
	DefaultFilter = "udp and port 443"

	// DefaultInterface is the namespace side of the veth pair.
	DefaultInterface = "veth1"

	// DefaultSettleDelay is the time we give tcpdump to open the interface.
	DefaultSettleDelay = 600 * time.Millisecond

	// DefaultStopTimeout is the time we give tcpdump to flush and exit.
	DefaultStopTimeout = 5 * time.Second
)

// Config contains the [*Capturer] config.
type Config struct {
	// Interface is the OPTIONAL capture interface.
	Interface string

	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// Metrics is the OPTIONAL metrics.
	Metrics *metrics.Metrics

	// Prefix is the OPTIONAL execution prefix (e.g., ip netns exec wfns).
	Prefix []string

	// SettleDelay is the OPTIONAL settle delay.
	SettleDelay time.Duration

	// Starter is the OPTIONAL process starter.
	Starter shellx.Starter

	// StopTimeout is the OPTIONAL graceful stop timeout.
	StopTimeout time.Duration

	// Tcpdump is the OPTIONAL tcpdump program name or path.
	Tcpdump string
}

// Capturer starts capture sessions.
type Capturer struct {
	config Config
	logger model.Logger
}

// New creates a new [*Capturer].
func New(config *Config) *Capturer {
	cfg := *config
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterface
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Starter == nil {
		cfg.Starter = shellx.DefaultStarter
	}
	if cfg.Tcpdump == "" {
		cfg.Tcpdump = "tcpdump"
	}
	return &Capturer{
		config: cfg,
		logger: model.NewPrefixLogger("capture", cfg.Logger),
	}
}

// Session is a running capture.
type Session struct {
	capturer *Capturer
	path     string
	proc     shellx.Process
}

// Path returns the capture file path.
func (s *Session) Path() string {
	return s.path
}

// Begin starts capturing into path with the given BPF filter and returns
// once the capture has settled. Failing to spawn tcpdump returns a
// [*model.ConfigurationError].
func (c *Capturer) Begin(ctx context.Context, path, filter string) (*Session, error) {
	if filter == "" {
		filter = DefaultFilter
	}
	inner, err := shellx.NewArgv(c.config.Tcpdump, "-i", c.config.Interface, "-w", path, "-U", "-n", filter)
	if err != nil {
		return nil, model.NewConfigurationError("capture", err)
	}
	argv, err := shellx.WrapArgv(c.config.Prefix, inner)
	if err != nil {
		return nil, model.NewConfigurationError("capture", err)
	}
	proc, err := c.config.Starter.Start(&shellx.Config{Logger: c.config.Logger}, argv, &shellx.Envp{})
	if err != nil {
		return nil, model.NewConfigurationError("capture", err)
	}
	sess := &Session{capturer: c, path: path, proc: proc}

	timer := time.NewTimer(c.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		sess.End()
		return nil, ctx.Err()
	}
	if !proc.Alive() {
		sess.End()
		return nil, model.NewConfigurationError("capture", ErrTcpdumpExited)
	}
	return sess, nil
}

// ErrTcpdumpExited indicates that tcpdump exited right after starting.
var ErrTcpdumpExited = errors.New("tcpdump exited right after starting")

// End stops the capture. Failing to stop gracefully escalates to a
// forced kill and is only logged. Calling End more than once is safe.
func (s *Session) End() {
	c := s.capturer
	if err := s.proc.SignalStop(); err != nil {
		c.logger.Warnf("cannot signal tcpdump: %s", err.Error())
	}
	if err := s.proc.WaitTimeout(c.config.StopTimeout); err != nil {
		lerr := &model.ProcessLifecycleError{Name: "capture", Err: err}
		c.logger.Warnf("%s; killing it", lerr.Error())
		c.config.Metrics.IncForcedKill("capture")
		if err := s.proc.Kill(); err != nil {
			c.logger.Warnf("cannot kill tcpdump: %s", err.Error())
		}
	}
}

// ErrEmptyCapture indicates that a capture contains no packets.
var ErrEmptyCapture = errors.New("empty capture")

// Validate counts the packets in the capture at path. When the capture
// cannot be parsed we fall back to checking whether the file is larger
// than the pcap header. An empty or missing capture returns a
// [*model.TrialError] wrapping [ErrEmptyCapture].
func Validate(logger model.Logger, url, path string) (int64, error) {
	logger = model.ValidLoggerOrDefault(logger)
	size, exists := fsx.RegularFileSize(path)
	count, err := pcapx.Count(path)
	switch {
	case err == nil && count > 0:
		logger.Debugf("capture: %s: %d packets, %s", path, count, humanize.Bytes(size))
		return count, nil
	case err != nil && exists && size > pcapx.HeaderSize:
		logger.Debugf("capture: %s: cannot parse (%s) but has %s", path, err.Error(), humanize.Bytes(size))
		return 0, nil
	default:
		return 0, &model.TrialError{URL: url, Err: fmt.Errorf("%w: %s", ErrEmptyCapture, path)}
	}
}
