// Package shellxtesting contains mocks for shellx.
package shellxtesting

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/wfeval/wfeval/internal/runtimex"
	"github.com/wfeval/wfeval/internal/shellx"
)

// Library implements shellx.Dependencies.
type Library struct {
	MockCmdOutput func(c *exec.Cmd) ([]byte, error)

	MockCmdRun func(c *exec.Cmd) error

	MockCmdStart func(c *exec.Cmd) error

	MockLookPath func(file string) (string, error)
}

var _ shellx.Dependencies = &Library{}

// CmdOutput implements shellx.Dependencies
func (lib *Library) CmdOutput(c *exec.Cmd) ([]byte, error) {
	return lib.MockCmdOutput(c)
}

// CmdRun implements shellx.Dependencies
func (lib *Library) CmdRun(c *exec.Cmd) error {
	return lib.MockCmdRun(c)
}

// CmdStart implements shellx.Dependencies
func (lib *Library) CmdStart(c *exec.Cmd) error {
	return lib.MockCmdStart(c)
}

// LookPath implements shellx.Dependencies
func (lib *Library) LookPath(file string) (string, error) {
	return lib.MockLookPath(file)
}

// LookPathIdentity is a MockLookPath returning "/usr/bin/<file>"
// so that tests do not depend on what is installed.
func LookPathIdentity(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	return filepath.Join("/usr/bin", file), nil
}

// MustArgv returns the [exec.Cmd]'s Argv or panics.
func MustArgv(c *exec.Cmd) []string {
	runtimex.Assert(len(c.Args) >= 1, "too few arguments")
	out := []string{c.Path}
	out = append(out, c.Args[1:]...)
	return out
}

// RemoveCommonEnvironmentVariables returns the given [exec.Cmd]
// environment variables minus the ones of the current process.
func RemoveCommonEnvironmentVariables(c *exec.Cmd) []string {
	const (
		us = 1 << iota
		them
	)
	m := make(map[string]int)
	for _, env := range os.Environ() {
		m[env] |= us
	}
	for _, env := range c.Env {
		m[env] |= them
	}
	out := []string{}
	for key, value := range m {
		if (value & us) == 0 {
			out = append(out, key)
		}
	}
	return out
}

// WithCustomLibrary executes the given function with a custom shellx.Library.
func WithCustomLibrary(library shellx.Dependencies, fn func()) {
	prev := shellx.Library
	defer func() {
		shellx.Library = prev
	}()
	shellx.Library = library
	fn()
}

//
// Fake processes
//

// EventKind is the kind of a [FakeEvent].
type EventKind string

const (
	EventStart = EventKind("start")
	EventStop  = EventKind("stop")
	EventKill  = EventKind("kill")
	EventExit  = EventKind("exit")
)

// FakeEvent is an entry in the [FakeStarter] journal.
type FakeEvent struct {
	Kind EventKind
	Pid  int
	Argv []string
}

// FakeStarter implements shellx.Starter without running any process
// and journals what happens to the processes it creates.
type FakeStarter struct {
	// MockStart is OPTIONAL and allows to customize each process
	// (e.g., to write the file a capture would write) or to fail.
	MockStart func(p *FakeProcess) error

	mu      sync.Mutex
	events  []FakeEvent
	nextPid int
}

var _ shellx.Starter = &FakeStarter{}

// Start implements shellx.Starter.
func (fs *FakeStarter) Start(config *shellx.Config, argv *shellx.Argv, envp *shellx.Envp) (shellx.Process, error) {
	fs.mu.Lock()
	fs.nextPid++
	p := &FakeProcess{
		argv:    append([]string{argv.P}, argv.V...),
		done:    make(chan struct{}),
		pid:     1000 + fs.nextPid,
		starter: fs,
	}
	fs.mu.Unlock()
	if fs.MockStart != nil {
		if err := fs.MockStart(p); err != nil {
			return nil, err
		}
	}
	fs.record(EventStart, p)
	if p.exitOnStart {
		p.Exit()
	}
	return p, nil
}

func (fs *FakeStarter) record(kind EventKind, p *FakeProcess) {
	fs.mu.Lock()
	fs.events = append(fs.events, FakeEvent{Kind: kind, Pid: p.pid, Argv: p.argv})
	fs.mu.Unlock()
}

// Events returns a copy of the journal.
func (fs *FakeStarter) Events() []FakeEvent {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]FakeEvent{}, fs.events...)
}

// MaxConcurrent returns the maximum number of processes whose
// argv matches the given predicate that were alive at the same time.
func (fs *FakeStarter) MaxConcurrent(match func(argv []string) bool) int {
	var cur, max int
	for _, ev := range fs.Events() {
		if !match(ev.Argv) {
			continue
		}
		switch ev.Kind {
		case EventStart:
			cur++
		case EventExit:
			cur--
		}
		if cur > max {
			max = cur
		}
	}
	return max
}

// Alive returns the number of processes that are still alive.
func (fs *FakeStarter) Alive() int {
	var n int
	for _, ev := range fs.Events() {
		switch ev.Kind {
		case EventStart:
			n++
		case EventExit:
			n--
		}
	}
	return n
}

// FakeProcess implements shellx.Process.
type FakeProcess struct {
	argv        []string
	done        chan struct{}
	exitOnStart bool
	ignoreStop  bool
	once        sync.Once
	pid         int
	starter     *FakeStarter
}

var _ shellx.Process = &FakeProcess{}

// Argv returns the full argv of the process.
func (p *FakeProcess) Argv() []string {
	return p.argv
}

// ExitOnStart makes the process exit right after it has been started.
func (p *FakeProcess) ExitOnStart() {
	p.exitOnStart = true
}

// IgnoreStop makes the process ignore SignalStop.
func (p *FakeProcess) IgnoreStop() {
	p.ignoreStop = true
}

// Exit simulates the process exiting.
func (p *FakeProcess) Exit() {
	p.once.Do(func() {
		close(p.done)
		p.starter.record(EventExit, p)
	})
}

// Pid implements shellx.Process.
func (p *FakeProcess) Pid() int {
	return p.pid
}

// Alive implements shellx.Process.
func (p *FakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// SignalStop implements shellx.Process.
func (p *FakeProcess) SignalStop() error {
	if !p.Alive() {
		return nil
	}
	p.starter.record(EventStop, p)
	if !p.ignoreStop {
		p.Exit()
	}
	return nil
}

// WaitTimeout implements shellx.Process.
func (p *FakeProcess) WaitTimeout(d time.Duration) error {
	select {
	case <-p.done:
		return nil
	case <-time.After(d):
		return shellx.ErrWaitTimeout
	}
}

// Kill implements shellx.Process.
func (p *FakeProcess) Kill() error {
	if !p.Alive() {
		return nil
	}
	p.starter.record(EventKill, p)
	p.Exit()
	return nil
}
