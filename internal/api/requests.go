package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mcphub/internal/hub"
)

// serverRequest selects one server by name.
type serverRequest struct {
	ServerName string `json:"server_name"`
}

// requestOptions tunes a single capability invocation. Timeout is in
// milliseconds; zero means the server default.
type requestOptions struct {
	Timeout int64 `json:"timeout,omitempty"`
}

// toolCallRequest invokes a tool on one server.
type toolCallRequest struct {
	ServerName     string          `json:"server_name"`
	Tool           string          `json:"tool"`
	Arguments      interface{}     `json:"arguments,omitempty"`
	RequestOptions *requestOptions `json:"request_options,omitempty"`
}

// resourceReadRequest reads a resource from one server.
type resourceReadRequest struct {
	ServerName     string          `json:"server_name"`
	URI            string          `json:"uri"`
	RequestOptions *requestOptions `json:"request_options,omitempty"`
}

// promptGetRequest fetches a prompt from one server.
type promptGetRequest struct {
	ServerName     string                 `json:"server_name"`
	Prompt         string                 `json:"prompt"`
	Arguments      map[string]interface{} `json:"arguments,omitempty"`
	RequestOptions *requestOptions        `json:"request_options,omitempty"`
}

// manualCallbackRequest carries the full redirect URL a user pasted after
// a headless OAuth dance.
type manualCallbackRequest struct {
	URL string `json:"url"`
}

// decodeJSON parses a request body, mapping malformed input to a
// validation error.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return hub.NewValidationError("invalid request body: "+err.Error(), nil)
	}
	return nil
}

// requireServerName enforces the common body shape {"server_name": ...}.
func requireServerName(r *http.Request) (string, error) {
	var req serverRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	if req.ServerName == "" {
		return "", hub.NewValidationError("server_name is required", nil)
	}
	return req.ServerName, nil
}

// applyRequestOptions derives the request context, honoring a per-call
// timeout when one was sent.
func applyRequestOptions(ctx context.Context, opts *requestOptions) (context.Context, context.CancelFunc) {
	if opts != nil && opts.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Millisecond)
	}
	return ctx, func() {}
}
