//go:build unix

package shellx

import (
	"errors"
	"testing"
	"time"

	"github.com/wfeval/wfeval/internal/model"
)

func startSleeper(t *testing.T, script string) Process {
	argv, err := NewArgv("sh", "-c", script)
	if err != nil {
		t.Skip("no sh available", err)
	}
	p, err := DefaultStarter.Start(&Config{Logger: model.DiscardLogger}, argv, &Envp{})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessGracefulStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skip test in short mode")
	}
	p := startSleeper(t, "trap 'exit 0' INT; while true; do sleep 0.1; done")
	if !p.Alive() {
		t.Fatal("expected the process to be alive")
	}
	if p.Pid() <= 0 {
		t.Fatal("unexpected pid", p.Pid())
	}
	time.Sleep(200 * time.Millisecond) // give sh time to install the trap
	if err := p.SignalStop(); err != nil {
		t.Fatal(err)
	}
	if err := p.WaitTimeout(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if p.Alive() {
		t.Fatal("expected the process to be dead")
	}
	// stopping a dead process is a no-op
	if err := p.SignalStop(); err != nil {
		t.Fatal(err)
	}
}

func TestProcessKillAfterTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("skip test in short mode")
	}
	p := startSleeper(t, "trap '' INT; sleep 30 & wait")
	time.Sleep(200 * time.Millisecond)
	if err := p.SignalStop(); err != nil {
		t.Fatal(err)
	}
	if err := p.WaitTimeout(300 * time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Fatal("unexpected error", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatal(err)
	}
	if p.Alive() {
		t.Fatal("expected the process to be dead")
	}
}
