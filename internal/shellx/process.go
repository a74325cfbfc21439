//go:build unix

package shellx

//
// Long-running processes
//

import (
	"errors"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/execabs"
	"golang.org/x/sys/unix"
)

// ErrWaitTimeout indicates that a process did not exit in time.
var ErrWaitTimeout = errors.New("shellx: timed out waiting for process to exit")

// Process is a handle to a long-running child process.
//
// The child runs in its own process group, so that stopping or killing it
// also affects the processes it spawns (e.g., `ip netns exec` children).
type Process interface {
	// Pid returns the process ID, which is also the process group ID.
	Pid() int

	// Alive returns whether the process is still running.
	Alive() bool

	// SignalStop sends SIGINT to the process group.
	SignalStop() error

	// WaitTimeout waits for the process to exit and returns
	// [ErrWaitTimeout] if it does not exit within d.
	WaitTimeout(d time.Duration) error

	// Kill sends SIGKILL to the process group and reaps the process.
	Kill() error
}

// Starter starts long-running processes.
type Starter interface {
	Start(config *Config, argv *Argv, envp *Envp) (Process, error)
}

// DefaultStarter is the [Starter] using [Library].
var DefaultStarter Starter = &StdlibStarter{}

// StdlibStarter implements [Starter] using [Library].
type StdlibStarter struct{}

var _ Starter = &StdlibStarter{}

// Start implements [Starter].
func (*StdlibStarter) Start(config *Config, argv *Argv, envp *Envp) (Process, error) {
	c := cmd(config, argv, envp)
	c.Stdout = config.Stdout
	c.Stderr = config.Stderr
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := Library.CmdStart(c); err != nil { // allows mocking
		return nil, err
	}
	p := &process{
		cmd:  c,
		done: make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

type process struct {
	cmd  *execabs.Cmd
	done chan struct{}
	err  error
	mu   sync.Mutex
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *process) signal(sig syscall.Signal) error {
	if !p.Alive() {
		return nil
	}
	err := unix.Kill(-p.Pid(), sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (p *process) SignalStop() error {
	return p.signal(unix.SIGINT)
}

func (p *process) WaitTimeout(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrWaitTimeout
	}
}

func (p *process) Kill() error {
	err := p.signal(unix.SIGKILL)
	<-p.done
	return err
}
