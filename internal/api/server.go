package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mcphub/internal/aggregator"
	"mcphub/internal/events"
	"mcphub/internal/hub"
	"mcphub/internal/workspace"
	"mcphub/pkg/logging"
)

const (
	// middlewareTimeout bounds quick management requests. Routes that
	// spawn or talk to backend servers run without it and rely on the
	// operation-level timeouts instead.
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options carries the collaborators of the management server.
type Options struct {
	Port       int
	Hub        *hub.Hub
	Aggregator *aggregator.Server
	SSE        *events.SSEManager
	Workspaces *workspace.Cache
	Version    string

	// OnHardRestart runs after the hard-restart response is written.
	// The app installs the process exit here.
	OnHardRestart func()
}

// Server is the management HTTP server. It owns the single listener that
// serves the REST API, the SSE event stream and the unified MCP endpoint.
type Server struct {
	port       int
	httpServer *http.Server
}

// NewServer assembles the router and the HTTP server around it.
func NewServer(opts Options) *Server {
	routes := &Routes{
		hub:           opts.Hub,
		aggregator:    opts.Aggregator,
		sse:           opts.SSE,
		workspaces:    opts.Workspaces,
		version:       opts.Version,
		onHardRestart: opts.OnHardRestart,
	}

	return &Server{
		port: opts.Port,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           newRouter(routes),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// newRouter wires the route table.
func newRouter(routes *Routes) chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		headersMiddleware,
	)

	// Quick management routes get a request timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(middlewareTimeout))

		r.Get("/api/health", routes.getHealth)
		r.Get("/api/servers", routes.listServers)
		r.Post("/api/servers/info", routes.serverInfo)
		r.Post("/api/servers/authorize", routes.authorizeServer)
		r.Get("/api/workspaces", routes.listWorkspaces)
		r.Post("/api/hard-restart", routes.hardRestart)

		r.Get("/oauth/callback", routes.oauthCallback)
		r.Post("/oauth/manual_callback", routes.oauthManualCallback)
	})

	// Routes that connect to or call backend servers may legitimately
	// outlive the middleware timeout (first-install spawns, long tools).
	r.Group(func(r chi.Router) {
		r.Post("/api/servers/start", routes.startServer)
		r.Post("/api/servers/stop", routes.stopServer)
		r.Post("/api/servers/refresh", routes.refreshServer)
		r.Get("/api/refresh", routes.refreshAll)
		r.Post("/api/servers/tools", routes.callTool)
		r.Post("/api/servers/resources", routes.readResource)
		r.Post("/api/servers/prompts", routes.getPrompt)
		r.Post("/api/restart", routes.restart)
	})

	// Long-lived streams: the SSE event feed and the MCP endpoint.
	r.Get("/api/events", routes.sse.ServeHTTP)
	r.Handle("/mcp", routes.aggregator.Handler())

	return r
}

// Start binds the listener and serves in the background. A port that is
// already taken fails here, before the hub connects anything.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind port %d: %w", s.port, err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("API", err, "HTTP server stopped")
		}
	}()

	logging.Info("API", "Listening on http://localhost:%d (MCP endpoint at /mcp)", s.port)
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// headersMiddleware stamps the JSON content type on API responses.
func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/events" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}
