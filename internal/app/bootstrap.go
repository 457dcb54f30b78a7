package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mcphub/internal/aggregator"
	"mcphub/internal/api"
	"mcphub/internal/config"
	"mcphub/internal/events"
	"mcphub/internal/hub"
	"mcphub/internal/mcpserver"
	"mcphub/internal/paths"
	"mcphub/internal/workspace"
	"mcphub/pkg/logging"
	"mcphub/pkg/oauth"
)

// hubServerName is the server name the aggregator announces to MCP
// clients during initialize.
const hubServerName = "mcp-hub"

// Application owns every long-lived component of a hub process and the
// order they start and stop in.
//
// Construction and execution are separate phases: NewApplication wires
// the components from a validated Config without binding any port, and
// Run starts them, blocks until a shutdown trigger, and tears them down
// in reverse order.
type Application struct {
	config *Config

	// workspaceFolder anchors ${workspaceFolder} placeholder resolution
	// and identifies this hub in the workspace cache.
	workspaceFolder string

	bus        *events.Bus
	logBridge  *events.LogBridge
	hub        *hub.Hub
	aggregator *aggregator.Server
	sse        *events.SSEManager
	idle       *events.IdleShutdown
	workspaces *workspace.Cache
	apiServer  *api.Server

	configWatcher    *config.Watcher
	workspaceWatcher *config.Watcher

	// runCtx is the context Run passes to background work such as
	// reconciliation triggered by the config watcher.
	runCtx context.Context

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewApplication wires a hub from the given configuration. It
// initializes logging, loads and validates the merged server config,
// and constructs every component, but starts nothing: the HTTP port is
// bound in Run.
//
// Errors here are fatal for the process. A config file that fails to
// parse or validate aborts startup; once running, the same failure on a
// reload keeps the previous config instead.
func NewApplication(cfg *Config) (*Application, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	logFile, err := paths.LogFile()
	if err != nil {
		return nil, fmt.Errorf("resolving log file: %w", err)
	}
	if err := logging.InitForHub(logging.ParseLevel(cfg.LogLevel), os.Stdout, logFile); err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}

	workspaceFolder, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	merged, err := config.Load(cfg.ConfigPaths)
	if err != nil {
		return nil, err
	}

	oauthFile, err := paths.OAuthStorageFile()
	if err != nil {
		return nil, fmt.Errorf("resolving OAuth storage: %w", err)
	}
	auth := hub.NewOAuthManager(
		oauth.NewClient(),
		oauth.NewFileStore(oauthFile),
		fmt.Sprintf("http://localhost:%d/oauth/callback", cfg.Port),
	)

	workspaceFile, err := paths.WorkspaceFile()
	if err != nil {
		return nil, fmt.Errorf("resolving workspace cache: %w", err)
	}

	bus := events.NewBus()
	h := hub.New(hub.Options{
		Config:          merged,
		ConfigPaths:     cfg.ConfigPaths,
		WorkspaceFolder: workspaceFolder,
		Bus:             bus,
		Auth:            auth,
	})

	agg := aggregator.New(hubServerName, cfg.Version, h)
	h.OnChange(func(mcpserver.ChangeEvent) {
		agg.Refresh()
	})

	a := &Application{
		config:          cfg,
		workspaceFolder: workspaceFolder,
		bus:             bus,
		logBridge:       events.NewLogBridge(bus),
		hub:             h,
		aggregator:      agg,
		sse:             events.NewSSEManager(bus, h.StatePayload),
		workspaces:      workspace.NewCache(workspaceFile),
		shutdownCh:      make(chan struct{}),
	}
	if cfg.AutoShutdown {
		a.idle = events.NewIdleShutdown(cfg.ShutdownDelay, a.requestShutdown)
	}

	a.apiServer = api.NewServer(api.Options{
		Port:          cfg.Port,
		Hub:           h,
		Aggregator:    agg,
		SSE:           a.sse,
		Workspaces:    a.workspaces,
		Version:       cfg.Version,
		OnHardRestart: a.hardExit,
	})
	return a, nil
}

// requestShutdown asks Run to exit. Safe to call more than once.
func (a *Application) requestShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// hardExit drops the workspace entry and terminates the process without
// a graceful stop. The supervising client restarts the hub with a fresh
// environment.
func (a *Application) hardExit() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.workspaces.Remove(ctx, a.config.Port); err != nil {
		logging.Warn("App", "Failed to remove workspace entry: %v", err)
	}
	logging.Close()
	os.Exit(0)
}
