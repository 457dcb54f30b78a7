package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"mcphub/pkg/oauth"
)

// AuthRequiredError signals that a remote server rejected the connection
// with HTTP 401 and the user has to complete an OAuth authorization flow
// before the hub can connect.
type AuthRequiredError struct {
	ServerURL string
	Challenge *oauth.AuthChallenge
	Err       error
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s: %v", e.ServerURL, e.Err)
}

func (e *AuthRequiredError) Unwrap() error {
	return e.Err
}

// CheckForAuthRequiredError inspects a transport or initialize error for a
// 401 signal. The mcp-go client surfaces the status code and any
// WWW-Authenticate header only through the error string, so detection is
// textual. Returns nil when the error does not look like an auth failure.
func CheckForAuthRequiredError(err error, serverURL string) *AuthRequiredError {
	if err == nil {
		return nil
	}
	if !oauth.Is401Error(err) {
		return nil
	}
	return &AuthRequiredError{
		ServerURL: serverURL,
		Challenge: oauth.ParseWWWAuthenticateFromError(err),
		Err:       err,
	}
}

// AsAuthRequired unwraps an AuthRequiredError from an error chain.
func AsAuthRequired(err error) (*AuthRequiredError, bool) {
	var authErr *AuthRequiredError
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// AuthFlow is the OAuth integration point the hub hands to a Connection.
// Header supplies the Authorization value for a server that already has a
// stored token; AuthorizationURL starts a new authorization flow after a
// 401 and returns the URL the user must visit.
type AuthFlow interface {
	Header(ctx context.Context, serverName, serverURL string) (string, bool)
	AuthorizationURL(ctx context.Context, serverName, serverURL string, challenge *oauth.AuthChallenge) (string, error)
}
