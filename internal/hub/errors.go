package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Code classifies hub failures. The strings are stable: they travel in
// the API error envelope and clients switch on them.
type Code string

const (
	CodeConfigError     Code = "CONFIG_ERROR"
	CodeConnectionError Code = "CONNECTION_ERROR"
	CodeAuthError       Code = "AUTH_ERROR"
	CodeServerError     Code = "SERVER_ERROR"
	CodeToolError       Code = "TOOL_ERROR"
	CodeResourceError   Code = "RESOURCE_ERROR"
	CodePromptError     Code = "PROMPT_ERROR"
	CodeValidationError Code = "VALIDATION_ERROR"
	CodeWorkspaceError  Code = "WORKSPACE_ERROR"
)

// Error is the hub's typed error. It marshals directly as the API error
// envelope, so field names are part of the wire contract.
type Error struct {
	Code      Code                   `json:"code"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`

	// status overrides the code-derived HTTP status when set.
	status int
	cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the response status for this error: 400 for
// validation, 404 for unknown names, 503 for known-but-not-connected,
// 500 otherwise.
func (e *Error) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeConnectionError, CodeAuthError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts a typed hub error. When err is not one, it is wrapped
// as a generic SERVER_ERROR so the API layer always has an envelope.
func AsError(err error) *Error {
	var hubErr *Error
	if errors.As(err, &hubErr) {
		return hubErr
	}
	return newError(CodeServerError, err.Error(), nil, err)
}

func newError(code Code, message string, data map[string]interface{}, cause error) *Error {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Error{
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewConfigError reports an invalid config file, server shape, or an
// unresolved strict placeholder.
func NewConfigError(message string, data map[string]interface{}, cause error) *Error {
	return newError(CodeConfigError, message, data, cause)
}

// NewConnectionError reports that transport establishment failed after
// all fallbacks.
func NewConnectionError(server string, cause error) *Error {
	e := newError(CodeConnectionError, fmt.Sprintf("failed to connect to server %q: %v", server, cause), map[string]interface{}{
		"server": server,
	}, cause)
	if cause != nil {
		e.Data["error"] = cause.Error()
	}
	return e
}

// NewAuthError reports that the upstream signaled unauthorized. The
// authorization URL, when known, lets the client start the OAuth flow.
func NewAuthError(server, authorizationURL string, cause error) *Error {
	data := map[string]interface{}{
		"server": server,
	}
	if authorizationURL != "" {
		data["authorization_url"] = authorizationURL
	}
	return newError(CodeAuthError, fmt.Sprintf("server %q requires authorization", server), data, cause)
}

// NewServerNotFoundError reports a name with no configured server.
func NewServerNotFoundError(server string) *Error {
	e := newError(CodeServerError, fmt.Sprintf("server %q not found", server), map[string]interface{}{
		"server": server,
	}, nil)
	e.status = http.StatusNotFound
	return e
}

// NewServerNotConnectedError reports an operation against a server that
// is known but not currently connected.
func NewServerNotConnectedError(server string, currentStatus string) *Error {
	e := newError(CodeServerError, fmt.Sprintf("server %q is not connected (status: %s)", server, currentStatus), map[string]interface{}{
		"server": server,
		"status": currentStatus,
	}, nil)
	e.status = http.StatusServiceUnavailable
	return e
}

// NewServerError reports a per-server operation failure that fits no
// narrower category.
func NewServerError(server, message string, cause error) *Error {
	return newError(CodeServerError, message, map[string]interface{}{
		"server": server,
	}, cause)
}

// NewToolError reports a failed tool invocation.
func NewToolError(server, tool string, cause error) *Error {
	return capabilityError(CodeToolError, "tool", server, tool, cause)
}

// NewResourceError reports a failed resource read.
func NewResourceError(server, uri string, cause error) *Error {
	return capabilityError(CodeResourceError, "resource", server, uri, cause)
}

// NewPromptError reports a failed prompt fetch.
func NewPromptError(server, prompt string, cause error) *Error {
	return capabilityError(CodePromptError, "prompt", server, prompt, cause)
}

// capabilityError builds the shared envelope for tool/resource/prompt
// failures. "not found" causes map to 404 so unknown capability names
// are distinguishable from upstream failures.
func capabilityError(code Code, kind, server, name string, cause error) *Error {
	e := newError(code, fmt.Sprintf("%s %q on server %q: %v", kind, name, server, cause), map[string]interface{}{
		"server": server,
		kind:     name,
	}, cause)
	if cause != nil && strings.Contains(cause.Error(), "not found") {
		e.status = http.StatusNotFound
	}
	return e
}

// NewValidationError reports a malformed request.
func NewValidationError(message string, data map[string]interface{}) *Error {
	return newError(CodeValidationError, message, data, nil)
}

// NewWorkspaceError reports workspace cache lock contention or
// corruption.
func NewWorkspaceError(message string, cause error) *Error {
	return newError(CodeWorkspaceError, message, nil, cause)
}
