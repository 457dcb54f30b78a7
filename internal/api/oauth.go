package api

import (
	"fmt"
	"html"
	"net/http"
	"net/url"

	"mcphub/internal/hub"
	"mcphub/pkg/logging"
)

// oauthCallback lands the browser redirect of an OAuth flow. The query
// carries code and state from the provider plus the server_name the hub
// appended to the redirect URI.
func (s *Routes) oauthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errCode
		}
		logging.Warn("API", "OAuth callback returned error: %s", description)
		renderErrorPage(w, description)
		return
	}

	serverName, err := s.completeOAuth(r, query)
	if err != nil {
		logging.Warn("API", "OAuth callback failed: %v", err)
		renderErrorPage(w, err.Error())
		return
	}
	renderSuccessPage(w, serverName)
}

// oauthManualCallback completes the flow from a pasted redirect URL, for
// environments where the hub's port is not browser-reachable.
func (s *Routes) oauthManualCallback(w http.ResponseWriter, r *http.Request) {
	var req manualCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.URL == "" {
		writeError(w, hub.NewValidationError("url is required", nil))
		return
	}

	parsed, err := url.Parse(req.URL)
	if err != nil {
		writeError(w, hub.NewValidationError("invalid callback url: "+err.Error(), nil))
		return
	}
	query := parsed.Query()

	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = errCode
		}
		writeError(w, hub.NewAuthError(query.Get("server_name"), "", fmt.Errorf("authorization failed: %s", description)))
		return
	}

	serverName, err := s.completeOAuth(r, query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "authorized",
		"server_name": serverName,
	})
}

// completeOAuth validates the callback parameters and hands the code to
// the hub, which exchanges it and reconnects the server in background.
func (s *Routes) completeOAuth(r *http.Request, query url.Values) (string, error) {
	code := query.Get("code")
	if code == "" {
		return "", hub.NewValidationError("missing authorization code", nil)
	}
	state := query.Get("state")
	serverName := query.Get("server_name")

	return s.hub.CompleteOAuth(r.Context(), code, state, serverName)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

// renderSuccessPage tells the user the dance finished and the tab can go.
func renderSuccessPage(w http.ResponseWriter, serverName string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	safeServerName := html.EscapeString(serverName)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Successful - MCP Hub</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #16213e; color: #e8e8e8; }
        .container { text-align: center; padding: 3rem; background: rgba(255, 255, 255, 0.05); border-radius: 16px; max-width: 480px; }
        h1 { color: #4ade80; font-size: 1.4rem; }
        p { color: #a8a8b3; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Successful</h1>
        <p>Server <strong>%s</strong> is now authorized. The hub is reconnecting in the background.</p>
        <p>You can close this window.</p>
    </div>
</body>
</html>`, safeServerName)
}

// renderErrorPage reports a failed dance without leaking anything beyond
// the provider's message.
func renderErrorPage(w http.ResponseWriter, message string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)

	safeMessage := html.EscapeString(message)

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authorization Failed - MCP Hub</title>
    <style>
        body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #16213e; color: #e8e8e8; }
        .container { text-align: center; padding: 3rem; background: rgba(255, 255, 255, 0.05); border-radius: 16px; max-width: 480px; }
        h1 { color: #f87171; font-size: 1.4rem; }
        p { color: #a8a8b3; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Failed</h1>
        <p>%s</p>
        <p>Close this window and retry from your client.</p>
    </div>
</body>
</html>`, safeMessage)
}
