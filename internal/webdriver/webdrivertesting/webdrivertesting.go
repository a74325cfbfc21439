// Package webdrivertesting contains a fake WebDriver server.
package webdrivertesting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Server is a fake chromedriver speaking enough W3C WebDriver for
// a navigation. The zero value is not valid; use [NewServer].
type Server struct {
	// CDPError is the OPTIONAL W3C error code returned by CDP commands.
	CDPError string

	// NavigateError is the OPTIONAL W3C error code returned by navigation.
	NavigateError string

	// NavigationEntry is the value returned for the navigation timing entry.
	NavigationEntry map[string]any

	// ReadyAfter is the number of readyState polls returning "loading".
	ReadyAfter int

	// SessionError is the OPTIONAL W3C error code returned by new session.
	SessionError string

	*httptest.Server

	calls    []string
	mu       sync.Mutex
	polls    int
	requests []map[string]any
}

// NewServer creates and starts a new [*Server].
func NewServer() *Server {
	s := &Server{
		NavigationEntry: map[string]any{"startTime": 0, "loadEventEnd": 1234.5},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Calls returns the "<METHOD> <path>" of every request received.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

// Requests returns the JSON bodies of every request received.
func (s *Server) Requests() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any{}, s.requests...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
	s.requests = append(s.requests, body)
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/status":
		reply(w, http.StatusOK, map[string]any{"ready": true, "message": "ready"})

	case r.Method == http.MethodPost && r.URL.Path == "/session":
		if s.SessionError != "" {
			replyError(w, s.SessionError)
			return
		}
		reply(w, http.StatusOK, map[string]any{"sessionId": "fake-session", "capabilities": map[string]any{}})

	case strings.HasSuffix(r.URL.Path, "/goog/cdp/execute"):
		if s.CDPError != "" {
			replyError(w, s.CDPError)
			return
		}
		reply(w, http.StatusOK, map[string]any{})

	case strings.HasSuffix(r.URL.Path, "/url"):
		if s.NavigateError != "" {
			replyError(w, s.NavigateError)
			return
		}
		reply(w, http.StatusOK, nil)

	case strings.HasSuffix(r.URL.Path, "/execute/sync"):
		script, _ := body["script"].(string)
		if strings.Contains(script, "readyState") {
			s.mu.Lock()
			s.polls++
			ready := s.polls > s.ReadyAfter
			s.mu.Unlock()
			if ready {
				reply(w, http.StatusOK, "complete")
				return
			}
			reply(w, http.StatusOK, "loading")
			return
		}
		reply(w, http.StatusOK, s.NavigationEntry)

	default:
		reply(w, http.StatusOK, nil)
	}
}

func reply(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"value": value})
}

func replyError(w http.ResponseWriter, code string) {
	status := http.StatusInternalServerError
	if code == "timeout" {
		status = http.StatusRequestTimeout
	}
	reply(w, status, map[string]any{"error": code, "message": "mocked " + code, "stacktrace": ""})
}
