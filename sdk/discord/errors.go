package discord

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthenticationFailed: the gateway closed with 4004 (bad token).
	ErrAuthenticationFailed = errors.New("discord: authentication failed")
	// ErrDisallowedIntents: the gateway closed with 4014; enable the
	// privileged intents in the developer portal.
	ErrDisallowedIntents = errors.New("discord: disallowed intents")
	// ErrSessionClosed wraps every other end of a gateway session.
	ErrSessionClosed = errors.New("discord: gateway session closed")
	// ErrHeartbeatTimeout: no heartbeat ACK arrived between two beats.
	ErrHeartbeatTimeout = errors.New("discord: heartbeat not acknowledged")
)

// APIError is a non-2xx REST response.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    int    // Discord JSON error code, 0 if absent
	Message string // Discord error message or raw body
	Global  bool   // global rate limit
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("discord %s %s: %d %s (code %d)", e.Method, e.Path, e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("discord %s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

func newAPIError(method, path string, status int, h http.Header, body []byte) *APIError {
	e := &APIError{Method: method, Path: path, Status: status}
	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Global  bool   `json:"global"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
		e.Code = envelope.Code
		e.Message = envelope.Message
		e.Global = envelope.Global
	} else {
		msg := string(body)
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		e.Message = msg
	}
	if h.Get("X-RateLimit-Global") == "true" {
		e.Global = true
	}
	return e
}
