package browser

//
// preflight.go - resolving a browser and a matching driver.
//

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx"
)

// ChromeCandidates are the browser paths we try, in order of preference.
var ChromeCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/lib/chromium-browser/chromium-browser",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
}

// ChromedriverCandidates are the driver paths we try, in order of preference.
var ChromedriverCandidates = []string{
	"/usr/bin/chromedriver",
	"/usr/lib/chromium-browser/chromedriver",
	"/usr/lib/chromium/chromedriver",
	"/usr/local/bin/chromedriver",
}

// Versions contains the result of [*Probe.Preflight].
type Versions struct {
	Chrome       string
	ChromeMajor  int
	Chromedriver string
	DriverMajor  int
}

// ErrNoChrome indicates that we cannot find a usable browser.
var ErrNoChrome = errors.New("no usable chrome binary")

// ErrNoChromedriver indicates that we cannot find a matching driver.
var ErrNoChromedriver = errors.New("no chromedriver matching the chrome major version")

// Preflight resolves the browser, reads its major version inside the
// namespace and resolves a driver with the same major version. Any
// failure is a [*model.ConfigurationError].
func (p *Probe) Preflight(ctx context.Context) (*Versions, error) {
	chrome := p.config.ChromePath
	if chrome == "" {
		chrome = pickChrome(ChromeCandidates)
	}
	if chrome == "" {
		return nil, model.NewConfigurationError("browser", ErrNoChrome)
	}

	chromeArgv := &shellx.Argv{P: chrome, V: []string{"--version"}}
	wrapped, err := shellx.WrapArgv(p.config.Prefix, chromeArgv)
	if err != nil {
		return nil, model.NewConfigurationError("browser", err)
	}
	major, err := majorVersion(wrapped)
	if err != nil {
		return nil, model.NewConfigurationError("browser", fmt.Errorf("%w: %s: %s", ErrNoChrome, chrome, err.Error()))
	}

	candidates := ChromedriverCandidates
	if p.config.ChromedriverPath != "" {
		candidates = []string{p.config.ChromedriverPath}
	} else if path, err := shellx.Library.LookPath("chromedriver"); err == nil {
		candidates = append(append([]string{}, candidates...), path)
	}
	var driver string
	var driverMajor int
	for _, candidate := range candidates {
		if !isExecutable(candidate) {
			continue
		}
		m, err := majorVersion(&shellx.Argv{P: candidate, V: []string{"--version"}})
		if err != nil {
			p.logger.Debugf("%s: %s", candidate, err.Error())
			continue
		}
		if m == major {
			driver, driverMajor = candidate, m
			break
		}
		p.logger.Debugf("%s: major %d does not match chrome %d", candidate, m, major)
	}
	if driver == "" {
		return nil, model.NewConfigurationError("browser", fmt.Errorf("%w: chrome %d.x", ErrNoChromedriver, major))
	}

	p.chrome = chrome
	if p.launcher == nil {
		p.launcher = &chromedriverLauncher{
			logger:  p.logger,
			path:    driver,
			starter: p.config.Starter,
		}
	}
	p.logger.Infof("chrome %d.x at %s; chromedriver at %s", major, chrome, driver)
	return &Versions{Chrome: chrome, ChromeMajor: major, Chromedriver: driver, DriverMajor: driverMajor}, nil
}

// pickChrome returns the first executable candidate, skipping candidates
// resolving into a snap unless there is no alternative.
func pickChrome(candidates []string) string {
	var snap string
	for _, candidate := range candidates {
		if !isExecutable(candidate) {
			continue
		}
		resolved, err := filepath.EvalSymlinks(candidate)
		if err == nil && strings.Contains(resolved, "/snap/") {
			if snap == "" {
				snap = candidate
			}
			continue
		}
		return candidate
	}
	return snap
}

func isExecutable(pathname string) bool {
	info, err := os.Stat(pathname)
	return err == nil && info.Mode().IsRegular() && info.Mode()&0111 != 0
}

var majorRe = regexp.MustCompile(`\b(\d+)\.`)

// ParseMajor extracts the major version from a --version output
// such as "Google Chrome 120.0.6099.109".
func ParseMajor(output string) (int, bool) {
	m := majorRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	major, err := strconv.Atoi(m[1])
	return major, err == nil
}

func majorVersion(argv *shellx.Argv) (int, error) {
	out, err := shellx.OutputEx(&shellx.Config{}, argv, &shellx.Envp{})
	if err != nil {
		return 0, err
	}
	major, ok := ParseMajor(string(out))
	if !ok {
		return 0, fmt.Errorf("cannot parse version: %q", strings.TrimSpace(string(out)))
	}
	return major, nil
}
