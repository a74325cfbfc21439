package browser

//
// launcher.go - chromedriver and the namespace wrapper.
//

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/wfeval/wfeval/internal/model"
	"github.com/wfeval/wfeval/internal/shellx"
	"github.com/wfeval/wfeval/internal/webdriver"
)

// Driver is a running WebDriver server.
type Driver interface {
	// BaseURL returns the server base URL.
	BaseURL() string

	// Close stops the server.
	Close() error
}

// Launcher starts a [Driver].
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

type chromedriverLauncher struct {
	logger  model.Logger
	path    string
	starter shellx.Starter
}

// Launch implements [Launcher].
func (l *chromedriverLauncher) Launch(ctx context.Context) (Driver, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	argv := &shellx.Argv{P: l.path, V: []string{"--port=" + strconv.Itoa(port), "--silent"}}
	proc, err := l.starter.Start(&shellx.Config{}, argv, &shellx.Envp{})
	if err != nil {
		return nil, err
	}
	drv := &chromedriver{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		logger:  l.logger,
		proc:    proc,
	}
	readyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client := webdriver.NewClient(&webdriver.Config{BaseURL: drv.baseURL})
	if err := client.WaitReady(readyCtx, 100*time.Millisecond); err != nil {
		drv.Close()
		return nil, err
	}
	return drv, nil
}

type chromedriver struct {
	baseURL string
	logger  model.Logger
	proc    shellx.Process
}

func (d *chromedriver) BaseURL() string {
	return d.baseURL
}

func (d *chromedriver) Close() error {
	_ = d.proc.SignalStop()
	if err := d.proc.WaitTimeout(3 * time.Second); err != nil {
		d.logger.Debugf("chromedriver: %s; killing it", err.Error())
		return d.proc.Kill()
	}
	return nil
}

// freePort returns a TCP port that was free a moment ago.
func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// writeWrapper writes an executable script running the browser through
// the given prefix and returns its path. With an empty prefix we still
// write a wrapper so that cleanup is uniform.
func writeWrapper(dir string, prefix []string, chrome string) (string, error) {
	fp, err := os.CreateTemp(dir, "nswrap-*.sh")
	if err != nil {
		return "", err
	}
	argv := append(append([]string{}, prefix...), chrome)
	quoted := make([]string, 0, len(argv))
	for _, arg := range argv {
		quoted = append(quoted, shellQuote(arg))
	}
	script := "#!/bin/sh\nexec " + strings.Join(quoted, " ") + " \"$@\"\n"
	if _, err := fp.WriteString(script); err != nil {
		fp.Close()
		os.Remove(fp.Name())
		return "", err
	}
	if err := fp.Chmod(0755); err != nil {
		fp.Close()
		os.Remove(fp.Name())
		return "", err
	}
	if err := fp.Sync(); err != nil {
		fp.Close()
		os.Remove(fp.Name())
		return "", err
	}
	return fp.Name(), fp.Close()
}

// shellQuote quotes an argument for /bin/sh unless shlex splits it
// back into itself.
func shellQuote(arg string) string {
	if tokens, err := shlex.Split(arg); err == nil && len(tokens) == 1 && tokens[0] == arg &&
		!strings.ContainsAny(arg, "$`*?[]{}~;&|<>()!#") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}
