package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/pcapx/pcapxtesting"
	"github.com/wfeval/wfeval/internal/shellx/shellxtesting"
)

func newTestCapturer(fs *shellxtesting.FakeStarter) *Capturer {
	return New(&Config{
		Prefix:      []string{"ip", "netns", "exec", "wfns"},
		SettleDelay: time.Millisecond,
		Starter:     fs,
		StopTimeout: 10 * time.Millisecond,
	})
}

func withFakeLookPath(fn func()) {
	lib := &shellxtesting.Library{MockLookPath: shellxtesting.LookPathIdentity}
	shellxtesting.WithCustomLibrary(lib, fn)
}

func TestBeginEnd(t *testing.T) {
	t.Run("command line and lifecycle", func(t *testing.T) {
		fs := &shellxtesting.FakeStarter{}
		var (
			sess *Session
			err  error
		)
		withFakeLookPath(func() {
			sess, err = newTestCapturer(fs).Begin(context.Background(), "/tmp/x.pcap", "")
		})
		if err != nil {
			t.Fatal(err)
		}
		sess.End()
		events := fs.Events()
		expect := []string{
			"/usr/bin/ip", "netns", "exec", "wfns",
			"/usr/bin/tcpdump", "-i", "veth1", "-w", "/tmp/x.pcap", "-U", "-n", "udp and port 443",
		}
		if diff := cmp.Diff(expect, events[0].Argv); diff != "" {
			t.Fatal(diff)
		}
		if fs.Alive() != 0 {
			t.Fatal("expected tcpdump to be stopped")
		}
		if sess.Path() != "/tmp/x.pcap" {
			t.Fatal("unexpected path", sess.Path())
		}
	})

	t.Run("tcpdump ignoring SIGINT is killed", func(t *testing.T) {
		fs := &shellxtesting.FakeStarter{
			MockStart: func(p *shellxtesting.FakeProcess) error {
				p.IgnoreStop()
				return nil
			},
		}
		withFakeLookPath(func() {
			sess, err := newTestCapturer(fs).Begin(context.Background(), "/tmp/x.pcap", "")
			if err != nil {
				t.Fatal(err)
			}
			sess.End()
		})
		if fs.Alive() != 0 {
			t.Fatal("expected tcpdump to be killed")
		}
	})

	t.Run("failing to spawn is a configuration error", func(t *testing.T) {
		expected := errors.New("mocked error")
		fs := &shellxtesting.FakeStarter{
			MockStart: func(p *shellxtesting.FakeProcess) error {
				return expected
			},
		}
		var err error
		withFakeLookPath(func() {
			_, err = newTestCapturer(fs).Begin(context.Background(), "/tmp/x.pcap", "")
		})
		if !model.IsConfigurationError(err) || !errors.Is(err, expected) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("tcpdump exiting right away is a configuration error", func(t *testing.T) {
		fs := &shellxtesting.FakeStarter{
			MockStart: func(p *shellxtesting.FakeProcess) error {
				p.ExitOnStart()
				return nil
			},
		}
		var err error
		withFakeLookPath(func() {
			_, err = newTestCapturer(fs).Begin(context.Background(), "/tmp/x.pcap", "")
		})
		if !errors.Is(err, ErrTcpdumpExited) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("canceling while settling stops tcpdump", func(t *testing.T) {
		fs := &shellxtesting.FakeStarter{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		var err error
		withFakeLookPath(func() {
			c := newTestCapturer(fs)
			c.config.SettleDelay = time.Hour
			_, err = c.Begin(ctx, "/tmp/x.pcap", "")
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatal("unexpected error", err)
		}
		if fs.Alive() != 0 {
			t.Fatal("expected tcpdump to be stopped")
		}
	})
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	t.Run("with packets", func(t *testing.T) {
		pathname := filepath.Join(dir, "ok.pcap")
		err := pcapxtesting.WriteFile(pathname, pcapxtesting.Up(0, 1200), pcapxtesting.Down(time.Millisecond, 1200))
		if err != nil {
			t.Fatal(err)
		}
		count, err := Validate(model.DiscardLogger, "https://example.com", pathname)
		if err != nil || count != 2 {
			t.Fatal("unexpected", count, err)
		}
	})

	t.Run("with an empty capture", func(t *testing.T) {
		pathname := filepath.Join(dir, "empty.pcap")
		if err := pcapxtesting.WriteFile(pathname); err != nil {
			t.Fatal(err)
		}
		_, err := Validate(nil, "https://example.com", pathname)
		var terr *model.TrialError
		if !errors.As(err, &terr) || !errors.Is(err, ErrEmptyCapture) {
			t.Fatal("unexpected error", err)
		}
		if terr.URL != "https://example.com" {
			t.Fatal("unexpected URL", terr.URL)
		}
	})

	t.Run("with a missing capture", func(t *testing.T) {
		_, err := Validate(nil, "https://example.com", filepath.Join(dir, "missing.pcap"))
		if !errors.Is(err, ErrEmptyCapture) {
			t.Fatal("unexpected error", err)
		}
	})

	t.Run("with an unparseable but non-empty capture", func(t *testing.T) {
		pathname := filepath.Join(dir, "garbage.pcap")
		if err := os.WriteFile(pathname, make([]byte, 100), 0600); err != nil {
			t.Fatal(err)
		}
		if _, err := Validate(nil, "https://example.com", pathname); err != nil {
			t.Fatal("expected the size fallback to accept the file", err)
		}
	})
}
