package webdriver

//
// session.go - WebDriver sessions.
//

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

// Status is the value returned by GET /status.
type Status struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// Status returns the server status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	return do[*Status](ctx, c, http.MethodGet, "/status", nil)
}

// WaitReady polls [*Client.Status] every interval until the server
// is ready or the context is done.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx)
		if err == nil && status != nil && status.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ChromeCapabilities returns the capabilities of a chrome session running
// the given browser binary with the given arguments.
func ChromeCapabilities(binary string, args []string) selenium.Capabilities {
	caps := selenium.Capabilities{
		"browserName":      "chrome",
		"pageLoadStrategy": "normal",
	}
	caps.AddChrome(chrome.Capabilities{Path: binary, Args: args, W3C: true})
	return caps
}

// Session is a WebDriver session.
type Session struct {
	client *Client
	wd     selenium.WebDriver

	// ID is the session ID.
	ID string
}

// ErrNoSessionID indicates that the server created a session without an ID.
var ErrNoSessionID = errors.New("webdriver: empty session ID")

// NewSession creates a new session with the given capabilities.
func (c *Client) NewSession(ctx context.Context, caps selenium.Capabilities) (*Session, error) {
	c.logger.Debugf("webdriver: new session at %s", c.baseURL)
	var wd selenium.WebDriver
	err := interruptible(ctx, func() (err error) {
		wd, err = selenium.NewRemote(caps, c.baseURL)
		return
	})
	if err != nil {
		return nil, err
	}
	if wd.SessionID() == "" {
		return nil, ErrNoSessionID
	}
	return &Session{client: c, wd: wd, ID: wd.SessionID()}, nil
}

// SetPageLoadTimeout sets the page load timeout.
func (s *Session) SetPageLoadTimeout(ctx context.Context, d time.Duration) error {
	return interruptible(ctx, func() error {
		return s.wd.SetPageLoadTimeout(d)
	})
}

// Navigate loads the given URL and returns once the page has loaded
// according to the session page load strategy.
func (s *Session) Navigate(ctx context.Context, URL string) error {
	s.client.logger.Debugf("webdriver: navigate %s", URL)
	return interruptible(ctx, func() error {
		return s.wd.Get(URL)
	})
}

// ExecuteScript runs a synchronous script and returns its result decoded
// from JSON, i.e., numbers are float64 and objects are map[string]any.
func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	var value any
	err := interruptible(ctx, func() (err error) {
		value, err = s.wd.ExecuteScript(script, args)
		return
	})
	return value, err
}

// ExecuteCDP runs a Chrome DevTools Protocol command through chromedriver.
func (s *Session) ExecuteCDP(ctx context.Context, cmd string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}
	req := map[string]any{"cmd": cmd, "params": params}
	return do[json.RawMessage](ctx, s.client, http.MethodPost, "/session/"+s.ID+"/goog/cdp/execute", req)
}

// Delete deletes the session, which closes the browser.
func (s *Session) Delete(ctx context.Context) error {
	return interruptible(ctx, s.wd.Quit)
}

// interruptible runs fn and returns early with the context error when ctx
// is done first. The caller then owns tearing down the driver, which makes
// the pending fn return.
func interruptible(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errch := make(chan error, 1)
	go func() {
		errch <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errch:
		return err
	}
}
