package browser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx/shellxtesting"
	"golang.org/x/sys/execabs"
)

func TestParseMajor(t *testing.T) {
	cases := map[string]int{
		"Google Chrome 120.0.6099.109":                        120,
		"Chromium 119.0.6045.159 snap":                        119,
		"ChromeDriver 120.0.6099.109 (3419140ab665596f21b3)": 120,
	}
	for output, expect := range cases {
		major, ok := ParseMajor(output)
		if !ok || major != expect {
			t.Fatal("unexpected", output, major, ok)
		}
	}
	if _, ok := ParseMajor("command not found"); ok {
		t.Fatal("expected failure")
	}
}

func writeExecutable(t *testing.T, dir, name string) string {
	pathname := filepath.Join(dir, name)
	if err := os.WriteFile(pathname, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return pathname
}

// fakeVersions returns a library whose CmdOutput prints the version
// associated with the last path component of the program.
func fakeVersions(versions map[string]string) *shellxtesting.Library {
	return &shellxtesting.Library{
		MockCmdOutput: func(c *execabs.Cmd) ([]byte, error) {
			argv := shellxtesting.MustArgv(c)
			// skip the namespace prefix, if any
			program := argv[len(argv)-2]
			if v, ok := versions[filepath.Base(program)]; ok {
				return []byte(v + "\n"), nil
			}
			return nil, errors.New("exit status 127")
		},
		MockLookPath: func(file string) (string, error) {
			if file == "chromedriver" {
				return "", errors.New("executable file not found in $PATH")
			}
			return shellxtesting.LookPathIdentity(file)
		},
	}
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	chrome := writeExecutable(t, dir, "google-chrome")
	oldDriver := writeExecutable(t, dir, "chromedriver-119")
	goodDriver := writeExecutable(t, dir, "chromedriver-120")

	prev := ChromedriverCandidates
	defer func() { ChromedriverCandidates = prev }()
	ChromedriverCandidates = []string{filepath.Join(dir, "missing"), oldDriver, goodDriver}

	versions := map[string]string{
		"google-chrome":    "Google Chrome 120.0.6099.109",
		"chromedriver-119": "ChromeDriver 119.0.6045.105",
		"chromedriver-120": "ChromeDriver 120.0.6099.109",
	}

	t.Run("picks the driver matching the browser major", func(t *testing.T) {
		var (
			v   *Versions
			err error
		)
		shellxtesting.WithCustomLibrary(fakeVersions(versions), func() {
			probe := New(&Config{ChromePath: chrome, Prefix: []string{"ip", "netns", "exec", "wfns"}})
			v, err = probe.Preflight(context.Background())
		})
		if err != nil {
			t.Fatal(err)
		}
		if v.ChromeMajor != 120 || v.Chromedriver != goodDriver {
			t.Fatal("unexpected", v)
		}
	})

	t.Run("no matching driver is a configuration error", func(t *testing.T) {
		var err error
		older := map[string]string{
			"google-chrome":    "Google Chrome 121.0.6167.85",
			"chromedriver-119": versions["chromedriver-119"],
			"chromedriver-120": versions["chromedriver-120"],
		}
		shellxtesting.WithCustomLibrary(fakeVersions(older), func() {
			_, err = New(&Config{ChromePath: chrome}).Preflight(context.Background())
		})
		if !model.IsConfigurationError(err) || !errors.Is(err, ErrNoChromedriver) {
			t.Fatal("unexpected error", err)
		}
		if !strings.Contains(err.Error(), "chrome 121.x") {
			t.Fatal("expected the major version in the error", err)
		}
	})

	t.Run("an unreadable browser is a configuration error", func(t *testing.T) {
		var err error
		shellxtesting.WithCustomLibrary(fakeVersions(map[string]string{}), func() {
			_, err = New(&Config{ChromePath: chrome}).Preflight(context.Background())
		})
		if !model.IsConfigurationError(err) || !errors.Is(err, ErrNoChrome) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestPickChrome(t *testing.T) {
	dir := t.TempDir()
	snapdir := filepath.Join(dir, "snap", "bin")
	if err := os.MkdirAll(snapdir, 0755); err != nil {
		t.Fatal(err)
	}
	snap := writeExecutable(t, snapdir, "chromium")
	chromium := writeExecutable(t, dir, "chromium")
	notExecutable := filepath.Join(dir, "google-chrome")
	if err := os.WriteFile(notExecutable, nil, 0644); err != nil {
		t.Fatal(err)
	}

	if got := pickChrome([]string{notExecutable, snap, chromium}); got != chromium {
		t.Fatal("expected to prefer the non-snap binary, got", got)
	}
	if got := pickChrome([]string{notExecutable, snap}); got != snap {
		t.Fatal("expected to fall back to snap, got", got)
	}
	if got := pickChrome([]string{notExecutable}); got != "" {
		t.Fatal("expected no binary, got", got)
	}
}
