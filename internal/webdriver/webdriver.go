// Package webdriver drives chromedriver through the W3C WebDriver protocol.
//
// Sessions use github.com/tebeka/selenium. This package adds what the
// binding lacks: waiting for chromedriver to become ready before any
// session exists, running Chrome DevTools Protocol commands through the
// goog/cdp/execute extension, and honoring a [context.Context] on every
// blocking call. See https://www.w3.org/TR/webdriver2/.
package webdriver

//
// webdriver.go - HTTP transport for the chromedriver extensions.
//

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wfeval/wfeval/internal/model"
)

// Config contains the [*Client] config.
type Config struct {
	// BaseURL is the MANDATORY chromedriver base URL (e.g., http://127.0.0.1:9515).
	BaseURL string

	// Client is the OPTIONAL HTTP client used for the extensions.
	Client *http.Client

	// Logger is the OPTIONAL logger to use.
	Logger model.Logger
}

// Client talks with a WebDriver server.
type Client struct {
	baseURL string
	client  *http.Client
	logger  model.Logger
}

// NewClient creates a new [*Client].
func NewClient(config *Config) *Client {
	client := config.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client:  client,
		logger:  model.ValidLoggerOrDefault(config.Logger),
	}
}

// Error is an error returned by the WebDriver server to an extension call.
type Error struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Code is the W3C error code (e.g., "timeout").
	Code string

	// Message is the human readable message.
	Message string
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("webdriver: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// ErrorCodeTimeout is the W3C code of timeout errors.
const ErrorCodeTimeout = "timeout"

// envelope is the W3C response body.
type envelope[Output any] struct {
	Value Output `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends a request with an optional JSON body and parses the "value"
// field of the response body into Output.
func do[Output any](ctx context.Context, c *Client, method, path string, input any) (Output, error) {
	var (
		body   io.Reader
		output Output
	)
	if input != nil {
		rawreqbody, err := json.Marshal(input)
		if err != nil {
			return output, err
		}
		c.logger.Debugf("webdriver: %s %s: %s", method, path, string(rawreqbody))
		body = bytes.NewReader(rawreqbody)
	} else {
		c.logger.Debugf("webdriver: %s %s", method, path)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return output, err
	}
	if input != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return output, err
	}
	defer resp.Body.Close()
	rawrespbody, err := io.ReadAll(resp.Body)
	if err != nil {
		return output, err
	}

	if resp.StatusCode != http.StatusOK {
		var ev envelope[errorValue]
		_ = json.Unmarshal(rawrespbody, &ev)
		return output, &Error{StatusCode: resp.StatusCode, Code: ev.Value.Error, Message: ev.Value.Message}
	}

	var ev envelope[Output]
	if err := json.Unmarshal(rawrespbody, &ev); err != nil {
		return output, err
	}
	return ev.Value, nil
}
