// Package browser measures cold page loads with Chrome.
//
// Chrome runs inside the experiment namespace through a wrapper script,
// while chromedriver runs in the host namespace and drives it through
// the W3C WebDriver protocol. Each navigation uses a fresh browser with
// an isolated profile and caching disabled.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tebeka/selenium"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/runtimex"
	"github.com/wfeval/wfeval/internal/shellx"
	"github.com/wfeval/wfeval/internal/webdriver"
)

const (
	// DefaultPageLoadTimeout is the WebDriver page load timeout.
	DefaultPageLoadTimeout = 120 * time.Second

	// DefaultPollInterval is the document.readyState poll interval.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultPollIterations bounds the readyState polling.
	DefaultPollIterations = 450

	// DefaultDrainDelay is the time we keep the browser open after the
	// load so that trailing traffic ends up in the capture.
	DefaultDrainDelay = 5 * time.Second
)

// ChromeArgs are the browser arguments of every navigation.
var ChromeArgs = []string{
	"--no-first-run",
	"--disable-extensions",
	"--disable-background-networking",
	"--disable-sync",
	"--incognito",
	"--disk-cache-size=1",
	"--disable-application-cache",
	"--disable-back-forward-cache",
	"--disable-background-timer-throttling",
	"--disable-renderer-backgrounding",
	"--disable-features=TranslateUI,BlinkGenPropertyTrees",
	"--enable-quic",
	"--enable-features=UseDnsHttpsSvcb,UseDnsHttpsSvcbAlpn",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--remote-debugging-pipe",
}

// HeadlessArgs are added to [ChromeArgs] in headless mode.
var HeadlessArgs = []string{
	"--headless=new",
	"--hide-scrollbars",
	"--disable-gpu",
}

// Config contains the [*Probe] config.
type Config struct {
	// ChromePath is the OPTIONAL browser path, autodetected when empty.
	ChromePath string

	// ChromedriverPath is the OPTIONAL driver path, autodetected when empty.
	ChromedriverPath string

	// DrainDelay is the OPTIONAL drain delay.
	DrainDelay time.Duration

	// ExtraArgs contains OPTIONAL additional browser arguments.
	ExtraArgs []string

	// Headless enables headless mode.
	Headless bool

	// Launcher is the OPTIONAL driver launcher, which is only
	// useful in tests. By default we launch chromedriver.
	Launcher Launcher

	// Logger is the OPTIONAL logger.
	Logger model.Logger

	// PageLoadTimeout is the OPTIONAL page load timeout.
	PageLoadTimeout time.Duration

	// PollInterval is the OPTIONAL readyState poll interval.
	PollInterval time.Duration

	// PollIterations is the OPTIONAL maximum number of readyState polls.
	PollIterations int

	// Prefix is the OPTIONAL execution prefix for the browser.
	Prefix []string

	// Starter is the OPTIONAL process starter.
	Starter shellx.Starter

	// TempDir is the OPTIONAL directory for profiles and wrappers.
	TempDir string
}

// Probe performs navigations.
type Probe struct {
	chrome   string
	config   Config
	launcher Launcher
	logger   model.Logger
}

// New creates a new [*Probe]. You MUST call [*Probe.Preflight] before
// [*Probe.Run] unless both ChromePath and Launcher are configured.
func New(config *Config) *Probe {
	cfg := *config
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = DefaultDrainDelay
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = DefaultPageLoadTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.PollIterations <= 0 {
		cfg.PollIterations = DefaultPollIterations
	}
	if cfg.Starter == nil {
		cfg.Starter = shellx.DefaultStarter
	}
	return &Probe{
		chrome:   cfg.ChromePath,
		config:   cfg,
		launcher: cfg.Launcher,
		logger:   model.NewPrefixLogger("browser", cfg.Logger),
	}
}

// Run loads the given URL with a fresh browser and returns the
// navigation result. It never returns an error: failures, including
// the cancellation of ctx, produce a degraded [model.Navigation] whose
// timing metric is zero.
func (p *Probe) Run(ctx context.Context, URL string) model.Navigation {
	runtimex.Assert(p.chrome != "" && p.launcher != nil, "browser: Run called before Preflight")
	nav := model.Navigation{WallStart: time.Now()}
	metric, err := p.run(ctx, URL, &nav)
	nav.WallEnd = time.Now()
	if err != nil {
		p.logger.Warnf("%s: %s", URL, err.Error())
		nav.Outcome = model.Degraded(err.Error())
		return nav
	}
	nav.TimingMetricMs = metric
	nav.Outcome = model.Success()
	return nav
}

func (p *Probe) run(ctx context.Context, URL string, nav *model.Navigation) (float64, error) {
	profile, err := os.MkdirTemp(p.config.TempDir, "chrome-prof-")
	if err != nil {
		return 0, fmt.Errorf("profile: %w", err)
	}
	defer os.RemoveAll(profile)

	binary, err := writeWrapper(p.config.TempDir, p.config.Prefix, p.chrome)
	if err != nil {
		return 0, fmt.Errorf("wrapper: %w", err)
	}
	defer os.Remove(binary)

	driver, err := p.launcher.Launch(ctx)
	if err != nil {
		return 0, fmt.Errorf("driver: %w", err)
	}
	defer driver.Close()

	client := webdriver.NewClient(&webdriver.Config{BaseURL: driver.BaseURL(), Logger: p.logger})
	sess, err := client.NewSession(ctx, p.capabilities(binary, profile))
	if err != nil {
		return 0, fmt.Errorf("session: %w", err)
	}
	defer func() {
		// the navigation context may be canceled already
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Delete(ctx); err != nil {
			p.logger.Debugf("delete session: %s", err.Error())
		}
	}()

	if err := sess.SetPageLoadTimeout(ctx, p.config.PageLoadTimeout); err != nil {
		return 0, fmt.Errorf("timeouts: %w", err)
	}
	if _, err := sess.ExecuteCDP(ctx, "Network.setCacheDisabled", map[string]any{"cacheDisabled": true}); err != nil {
		return 0, fmt.Errorf("cdp: %w", err)
	}
	if _, err := sess.ExecuteCDP(ctx, "Network.clearBrowserCache", nil); err != nil {
		return 0, fmt.Errorf("cdp: %w", err)
	}

	nav.WallStart = time.Now()
	if err := sess.Navigate(ctx, URL); err != nil {
		return 0, fmt.Errorf("navigation: %w", err)
	}
	if err := p.waitComplete(ctx, sess); err != nil {
		return 0, fmt.Errorf("ready state: %w", err)
	}
	// a missing timing entry yields a zero metric after the drain
	metric, timingErr := navigationTiming(ctx, sess)
	if err := sleepContext(ctx, p.config.DrainDelay); err != nil {
		return 0, fmt.Errorf("drain: %w", err)
	}
	if timingErr != nil {
		return 0, fmt.Errorf("navigation timing: %w", timingErr)
	}
	return metric, nil
}

func (p *Probe) capabilities(binary, profile string) selenium.Capabilities {
	return webdriver.ChromeCapabilities(binary, p.args(profile))
}

// args returns the browser arguments for the given profile directory.
func (p *Probe) args(profile string) []string {
	args := append([]string{}, ChromeArgs...)
	if p.config.Headless {
		args = append(args, HeadlessArgs...)
	}
	args = append(args, "--user-data-dir="+profile)
	return append(args, p.config.ExtraArgs...)
}

// waitComplete polls document.readyState until it is "complete" or we
// run out of iterations, in which case we continue anyway.
func (p *Probe) waitComplete(ctx context.Context, sess *webdriver.Session) error {
	for i := 0; i < p.config.PollIterations; i++ {
		value, err := sess.ExecuteScript(ctx, "return document.readyState")
		if err != nil {
			return err
		}
		if state, _ := value.(string); state == "complete" {
			return nil
		}
		if err := sleepContext(ctx, p.config.PollInterval); err != nil {
			return err
		}
	}
	p.logger.Warn("document never reached the complete state")
	return nil
}

// ErrNoNavigationTiming indicates that the page has no usable
// navigation timing entry.
var ErrNoNavigationTiming = errors.New("no navigation timing entry")

// navigationTiming returns loadEventEnd - startTime of the navigation entry.
func navigationTiming(ctx context.Context, sess *webdriver.Session) (float64, error) {
	value, err := sess.ExecuteScript(ctx, "return performance.getEntriesByType('navigation')[0] || {}")
	if err != nil {
		return 0, err
	}
	entry, _ := value.(map[string]any)
	startTime, _ := entry["startTime"].(float64)
	loadEventEnd, _ := entry["loadEventEnd"].(float64)
	metric := loadEventEnd - startTime
	if metric <= 0 {
		return 0, ErrNoNavigationTiming
	}
	return metric, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
