package api

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"mcphub/internal/aggregator"
	"mcphub/internal/events"
	"mcphub/internal/hub"
	"mcphub/internal/workspace"
	"mcphub/pkg/logging"
)

// Routes holds the handler dependencies. One instance serves the whole
// management API.
type Routes struct {
	hub           *hub.Hub
	aggregator    *aggregator.Server
	sse           *events.SSEManager
	workspaces    *workspace.Cache
	version       string
	onHardRestart func()
}

// getHealth reports the hub state, every server's status, the SSE
// connection stats and the workspace cache in one payload.
func (s *Routes) getHealth(w http.ResponseWriter, r *http.Request) {
	tools, resources, prompts := s.aggregator.Counts()

	payload := map[string]interface{}{
		"status":  "ok",
		"state":   string(s.hub.State()),
		"version": s.version,
		"servers": s.hub.Snapshots(),
		"connections": map[string]interface{}{
			"count":   s.sse.ConnectionCount(),
			"clients": s.sse.Connections(),
		},
		"capabilities": map[string]interface{}{
			"tools":     tools,
			"resources": resources,
			"prompts":   prompts,
		},
	}

	if entries, err := s.workspaces.List(r.Context()); err == nil {
		payload["workspaces"] = entries
	} else {
		logging.Debug("API", "Workspace cache read failed during health check: %v", err)
		payload["workspaces"] = map[string]interface{}{}
	}

	writeJSON(w, http.StatusOK, payload)
}

// listServers returns the status snapshot of every configured server.
func (s *Routes) listServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"servers": s.hub.Snapshots(),
	})
}

// serverInfo returns one server's snapshot by name.
func (s *Routes) serverInfo(w http.ResponseWriter, r *http.Request) {
	name, err := requireServerName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.hub.Snapshot(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": snapshot,
	})
}

// startServer connects one server, re-enabling it when it was disabled.
func (s *Routes) startServer(w http.ResponseWriter, r *http.Request) {
	name, err := requireServerName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.hub.StartServer(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "started",
		"server": snapshot,
	})
}

// stopServer disconnects one server. With ?disable=true the server is
// also marked disabled so reconciles leave it down.
func (s *Routes) stopServer(w http.ResponseWriter, r *http.Request) {
	name, err := requireServerName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	disable := false
	if raw := r.URL.Query().Get("disable"); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			writeError(w, hub.NewValidationError("invalid disable parameter: "+raw, nil))
			return
		}
		disable = parsed
	}

	snapshot, err := s.hub.StopServer(r.Context(), name, disable)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "stopped",
		"server": snapshot,
	})
}

// refreshServer re-fetches the capability lists of one server.
func (s *Routes) refreshServer(w http.ResponseWriter, r *http.Request) {
	name, err := requireServerName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	snapshot, err := s.hub.RefreshServer(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "refreshed",
		"server": snapshot,
	})
}

// refreshAll re-fetches capabilities for every connected server.
func (s *Routes) refreshAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "refreshed",
		"servers": s.hub.RefreshAll(r.Context()),
	})
}

// callTool invokes a tool on one server with its original name.
func (s *Routes) callTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ServerName == "" || req.Tool == "" {
		writeError(w, hub.NewValidationError("server_name and tool are required", nil))
		return
	}

	ctx, cancel := applyRequestOptions(r.Context(), req.RequestOptions)
	defer cancel()

	result, err := s.hub.CallTool(ctx, req.ServerName, req.Tool, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
	})
}

// readResource reads a resource from one server by URI.
func (s *Routes) readResource(w http.ResponseWriter, r *http.Request) {
	var req resourceReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ServerName == "" || req.URI == "" {
		writeError(w, hub.NewValidationError("server_name and uri are required", nil))
		return
	}

	ctx, cancel := applyRequestOptions(r.Context(), req.RequestOptions)
	defer cancel()

	result, err := s.hub.ReadResource(ctx, req.ServerName, req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
	})
}

// getPrompt fetches a prompt from one server.
func (s *Routes) getPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptGetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ServerName == "" || req.Prompt == "" {
		writeError(w, hub.NewValidationError("server_name and prompt are required", nil))
		return
	}

	ctx, cancel := applyRequestOptions(r.Context(), req.RequestOptions)
	defer cancel()

	result, err := s.hub.GetPrompt(ctx, req.ServerName, req.Prompt, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": result,
	})
}

// authorizeServer starts an OAuth flow for one remote server and returns
// the authorization URL for the client to open.
func (s *Routes) authorizeServer(w http.ResponseWriter, r *http.Request) {
	name, err := requireServerName(r)
	if err != nil {
		writeError(w, err)
		return
	}

	authURL, err := s.hub.AuthorizeServer(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server_name":       name,
		"authorization_url": authURL,
	})
}

// restart reloads the config files and reconciles the connections. SSE
// clients and the listener stay up through it.
func (s *Routes) restart(w http.ResponseWriter, r *http.Request) {
	delta, err := s.hub.Restart(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "restarted",
		"changes": map[string]interface{}{
			"added":     delta.Added,
			"removed":   delta.Removed,
			"modified":  delta.Modified,
			"unchanged": delta.Unchanged,
		},
	})
}

// hardRestart acknowledges, then exits the process so the supervisor
// respawns it with a fresh environment.
func (s *Routes) hardRestart(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "restarting",
	})

	exit := s.onHardRestart
	if exit == nil {
		exit = func() { os.Exit(0) }
	}
	go func() {
		// Give the response a moment to reach the client.
		time.Sleep(100 * time.Millisecond)
		logging.Info("API", "Hard restart requested, exiting")
		exit()
	}()
}

// listWorkspaces returns the shared workspace cache.
func (s *Routes) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	entries, err := s.workspaces.List(r.Context())
	if err != nil {
		writeError(w, hub.NewWorkspaceError("failed to read workspace cache", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces": entries,
	})
}
