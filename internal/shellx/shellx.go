// Package shellx helps to write shell-like Go code.
//
// Besides running a command to completion (see [RunEx] and [OutputEx]),
// this package implements long-running processes (see [Starter] and
// [Process]) that we can stop gracefully or kill together with all
// their children.
package shellx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/wfeval/wfeval/internal/model"
	"golang.org/x/sys/execabs"
)

// Dependencies is the library on which this package depends.
type Dependencies interface {
	// CmdOutput is equivalent to calling c.Output.
	CmdOutput(c *execabs.Cmd) ([]byte, error)

	// CmdRun is equivalent to calling c.Run.
	CmdRun(c *execabs.Cmd) error

	// CmdStart is equivalent to calling c.Start.
	CmdStart(c *execabs.Cmd) error

	// LookPath is equivalent to calling execabs.LookPath.
	LookPath(file string) (string, error)
}

// Library contains the default dependencies.
var Library Dependencies = &StdlibDependencies{}

// StdlibDependencies contains the stdlib implementation of the [Dependencies].
type StdlibDependencies struct{}

// CmdOutput implements [Dependencies].
func (*StdlibDependencies) CmdOutput(c *execabs.Cmd) ([]byte, error) {
	return c.Output()
}

// CmdRun implements [Dependencies].
func (*StdlibDependencies) CmdRun(c *execabs.Cmd) error {
	return c.Run()
}

// CmdStart implements [Dependencies].
func (*StdlibDependencies) CmdStart(c *execabs.Cmd) error {
	return c.Start()
}

// LookPath implements [Dependencies].
func (*StdlibDependencies) LookPath(file string) (string, error) {
	return execabs.LookPath(file)
}

// Envp is the environment in which we execute commands.
type Envp struct {
	// V contains the OPTIONAL environment variables to add to the current
	// environment when we're executing commands.
	V []string
}

// Append appends an environment variable to the environment.
func (e *Envp) Append(key, value string) {
	e.V = append(e.V, fmt.Sprintf("%s=%s", key, value))
}

// Argv contains the complete argv.
type Argv struct {
	// P is the MANDATORY program to execute.
	P string

	// V contains the OPTIONAL arguments.
	V []string
}

// NewArgv creates a new [Argv] from the given command and arguments.
func NewArgv(command string, args ...string) (*Argv, error) {
	fullpath, err := Library.LookPath(command) // allows mocking
	if err != nil {
		return nil, err
	}
	argv := &Argv{
		P: fullpath,
		V: args,
	}
	return argv, nil
}

// SplitPrefix splits an execution prefix such as "sudo -n ip netns exec wfns"
// into its tokens using shell quoting rules. The empty string maps to an
// empty prefix.
func SplitPrefix(prefix string) ([]string, error) {
	return shlex.Split(prefix)
}

// WrapArgv returns a new [Argv] executing argv through the given prefix,
// e.g., ["ip", "netns", "exec", "wfns"]. An empty prefix returns argv.
func WrapArgv(prefix []string, argv *Argv) (*Argv, error) {
	if len(prefix) <= 0 {
		return argv, nil
	}
	args := append([]string{}, prefix[1:]...)
	args = append(args, argv.P)
	args = append(args, argv.V...)
	return NewArgv(prefix[0], args...)
}

// Append appends arguments to the command line.
func (a *Argv) Append(args ...string) {
	a.V = append(a.V, args...)
}

// String returns the quoted command line.
func (a *Argv) String() string {
	return quotedCommandLine(a.P, a.V...)
}

const (
	// FlagShowStdoutStderr enables connecting the child's stdout and stderr
	// to the current program's stdout and stderr.
	FlagShowStdoutStderr = 1 << iota
)

// Config contains config for executing programs.
type Config struct {
	// Logger is the OPTIONAL logger to use.
	Logger model.Logger

	// Flags contains OPTIONAL binary flags to configure the program.
	Flags int64

	// Stdout is the OPTIONAL stdout used by [Starter].
	Stdout io.Writer

	// Stderr is the OPTIONAL stderr used by [Starter].
	Stderr io.Writer
}

// cmd creates a new [execabs.Cmd] instance.
func cmd(config *Config, argv *Argv, envp *Envp) *execabs.Cmd {
	cmd := execabs.Command(argv.P, argv.V...)
	cmd.Env = os.Environ()
	for _, entry := range envp.V {
		if config.Logger != nil {
			config.Logger.Infof("+ export %s", entry)
		}
		cmd.Env = append(cmd.Env, entry)
	}
	if config.Logger != nil {
		config.Logger.Infof("+ %s", argv.String())
	}
	return cmd
}

// OutputEx runs argv and returns its standard output.
func OutputEx(config *Config, argv *Argv, envp *Envp) ([]byte, error) {
	cmd := cmd(config, argv, envp)
	if (config.Flags & FlagShowStdoutStderr) != 0 {
		// note: cmd.Output wants the stdout to be nil
		cmd.Stderr = os.Stderr
	}
	return Library.CmdOutput(cmd) // allows mocking
}

// RunEx runs argv until it exits.
func RunEx(config *Config, argv *Argv, envp *Envp) error {
	cmd := cmd(config, argv, envp)
	if config.Flags&FlagShowStdoutStderr != 0 {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return Library.CmdRun(cmd) // allows mocking
}

// quotedCommandLine returns a quoted command line.
func quotedCommandLine(command string, args ...string) string {
	v := []string{}
	v = append(v, maybeQuoteArg(command))
	for _, a := range args {
		v = append(v, maybeQuoteArg(a))
	}
	return strings.Join(v, " ")
}

// maybeQuoteArg quotes a command line argument if needed.
func maybeQuoteArg(a string) string {
	if strings.Contains(a, "\"") {
		a = strings.ReplaceAll(a, "\"", "\\\"")
	}
	if strings.Contains(a, " ") {
		a = "\"" + a + "\""
	}
	return a
}
