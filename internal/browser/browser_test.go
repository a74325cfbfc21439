package browser

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tebeka/selenium/chrome"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/webdriver"
	"github.com/wfeval/wfeval/internal/webdriver/webdrivertesting"
)

type fakeDriver struct {
	closed *atomic.Int64
	url    string
}

func (d *fakeDriver) BaseURL() string { return d.url }

func (d *fakeDriver) Close() error {
	d.closed.Add(1)
	return nil
}

type fakeLauncher struct {
	closed atomic.Int64
	err    error
	url    string
}

func (l *fakeLauncher) Launch(ctx context.Context) (Driver, error) {
	if l.err != nil {
		return nil, l.err
	}
	return &fakeDriver{closed: &l.closed, url: l.url}, nil
}

func newTestProbe(t *testing.T, srv *webdrivertesting.Server) (*Probe, *fakeLauncher, string) {
	tempdir := t.TempDir()
	launcher := &fakeLauncher{url: srv.URL}
	probe := New(&Config{
		ChromePath:   "/usr/bin/google-chrome",
		DrainDelay:   time.Millisecond,
		Headless:     true,
		Launcher:     launcher,
		Logger:       model.DiscardLogger,
		PollInterval: time.Millisecond,
		Prefix:       []string{"ip", "netns", "exec", "wfns"},
		TempDir:      tempdir,
	})
	return probe, launcher, tempdir
}

func TestRun(t *testing.T) {
	t.Run("successful navigation", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		srv.ReadyAfter = 3
		srv.NavigationEntry = map[string]any{"startTime": 0.5, "loadEventEnd": 1500.5}
		probe, launcher, tempdir := newTestProbe(t, srv)

		nav := probe.Run(context.Background(), "https://www.example.com/")
		if !nav.Outcome.IsSuccess() {
			t.Fatal("unexpected outcome", nav.Outcome)
		}
		if nav.TimingMetricMs != 1500 {
			t.Fatal("unexpected metric", nav.TimingMetricMs)
		}
		if nav.WallEnd.Before(nav.WallStart) {
			t.Fatal("wall end before wall start")
		}
		if launcher.closed.Load() != 1 {
			t.Fatal("expected the driver to be closed")
		}
		entries, err := os.ReadDir(tempdir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 0 {
			t.Fatal("expected profile and wrapper to be removed", entries)
		}

		calls := srv.Calls()
		var polls int
		for _, call := range calls {
			if strings.HasSuffix(call, "/execute/sync") {
				polls++
			}
		}
		// four readyState polls plus the navigation timing script
		if polls != 5 {
			t.Fatal("unexpected number of scripts", polls)
		}
		if calls[len(calls)-1] != "DELETE /session/fake-session" {
			t.Fatal("expected the session to be deleted last", calls)
		}

		var cdp []string
		for _, req := range srv.Requests() {
			if cmd, ok := req["cmd"].(string); ok {
				cdp = append(cdp, cmd)
			}
		}
		if diff := cmp.Diff([]string{"Network.setCacheDisabled", "Network.clearBrowserCache"}, cdp); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("navigation timeout degrades the trial", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		srv.NavigateError = webdriver.ErrorCodeTimeout
		probe, launcher, _ := newTestProbe(t, srv)
		nav := probe.Run(context.Background(), "https://www.example.com/")
		if nav.Outcome.IsSuccess() || nav.TimingMetricMs != 0 {
			t.Fatal("expected a degraded navigation", nav)
		}
		if !strings.HasPrefix(nav.Outcome.Reasons[0], "navigation: ") {
			t.Fatal("unexpected reason", nav.Outcome.Reasons)
		}
		if launcher.closed.Load() != 1 {
			t.Fatal("expected the driver to be closed")
		}
		calls := srv.Calls()
		if calls[len(calls)-1] != "DELETE /session/fake-session" {
			t.Fatal("expected the session to be deleted")
		}
	})

	t.Run("missing navigation timing degrades the trial", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		srv.NavigationEntry = map[string]any{}
		probe, _, _ := newTestProbe(t, srv)
		nav := probe.Run(context.Background(), "https://www.example.com/")
		if nav.Outcome.IsSuccess() || nav.TimingMetricMs != 0 {
			t.Fatal("expected a degraded navigation", nav)
		}
		if !strings.HasPrefix(nav.Outcome.Reasons[0], "navigation timing: ") {
			t.Fatal("unexpected reason", nav.Outcome.Reasons)
		}
	})

	t.Run("missing navigation timing still waits for the drain", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		srv.ReadyAfter = 1000
		srv.NavigationEntry = map[string]any{"startTime": 0, "loadEventEnd": 0}
		probe, _, _ := newTestProbe(t, srv)
		probe.config.PollIterations = 3
		probe.config.DrainDelay = 300 * time.Millisecond
		t0 := time.Now()
		nav := probe.Run(context.Background(), "https://www.example.com/")
		elapsed := time.Since(t0)
		if nav.TimingMetricMs != 0 || nav.Outcome.IsSuccess() {
			t.Fatal("expected a zero metric and a degraded outcome", nav)
		}
		if elapsed < probe.config.DrainDelay {
			t.Fatal("the drain delay did not elapse", elapsed)
		}
		if nav.WallEnd.Sub(nav.WallStart) < probe.config.DrainDelay {
			t.Fatal("wall clock window does not include the drain")
		}
		calls := srv.Calls()
		if calls[len(calls)-1] != "DELETE /session/fake-session" {
			t.Fatal("expected the session to be deleted after the drain", calls)
		}
	})

	t.Run("interrupting the navigation degrades the trial", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		probe, _, _ := newTestProbe(t, srv)
		probe.config.DrainDelay = time.Hour
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		nav := probe.Run(ctx, "https://www.example.com/")
		if nav.Outcome.IsSuccess() || nav.TimingMetricMs != 0 {
			t.Fatal("expected a degraded navigation", nav)
		}
		if !strings.HasPrefix(nav.Outcome.Reasons[0], "drain: ") {
			t.Fatal("unexpected reason", nav.Outcome.Reasons)
		}
	})

	t.Run("failing to launch the driver degrades the trial", func(t *testing.T) {
		srv := webdrivertesting.NewServer()
		defer srv.Close()
		probe, launcher, _ := newTestProbe(t, srv)
		launcher.err = errors.New("mocked error")
		nav := probe.Run(context.Background(), "https://www.example.com/")
		if nav.Outcome.String() != "degraded: driver: mocked error" {
			t.Fatal("unexpected outcome", nav.Outcome)
		}
	})
}

func TestCapabilities(t *testing.T) {
	probe := New(&Config{Headless: true, ExtraArgs: []string{"--origin-to-force-quic-on=example.com:443"}})
	caps := probe.capabilities("/tmp/nswrap-1.sh", "/tmp/chrome-prof-1")
	opts, ok := caps[chrome.CapabilitiesKey].(chrome.Capabilities)
	if !ok {
		t.Fatal("missing chrome options", caps)
	}
	if opts.Path != "/tmp/nswrap-1.sh" {
		t.Fatal("unexpected binary", opts.Path)
	}
	args := opts.Args
	for _, expect := range []string{"--enable-quic", "--headless=new", "--user-data-dir=/tmp/chrome-prof-1"} {
		var found bool
		for _, arg := range args {
			found = found || arg == expect
		}
		if !found {
			t.Fatal("missing", expect)
		}
	}
	if args[len(args)-1] != "--origin-to-force-quic-on=example.com:443" {
		t.Fatal("extra args should come last")
	}
}
