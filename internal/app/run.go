package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mcphub/internal/config"
	"mcphub/internal/events"
	"mcphub/internal/hub"
	"mcphub/internal/workspace"
	"mcphub/pkg/logging"
)

// shutdownTimeout bounds the graceful stop. Server disconnects and the
// HTTP drain share it.
const shutdownTimeout = 10 * time.Second

// Run starts every component and blocks until a shutdown trigger:
// SIGINT or SIGTERM, context cancellation, or the idle timer when
// auto-shutdown is enabled. The HTTP endpoint is serving before server
// connections begin, so clients can watch startup progress over SSE.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.runCtx = runCtx

	a.logBridge.Start()
	a.sse.Start()
	a.wireConnectionTracking()

	if err := a.aggregator.Start(runCtx); err != nil {
		return err
	}
	if err := a.apiServer.Start(); err != nil {
		return err
	}
	logging.Info("App", "HTTP endpoint listening on port %d", a.config.Port)

	a.registerWorkspace(runCtx)

	a.hub.Initialize(runCtx)
	a.hub.SetState(hub.StateReady)

	a.startWatchers()

	// Seed the idle timer: a hub that never receives a client should
	// still shut itself down.
	if a.idle != nil {
		a.idle.ConnectionsChanged(a.sse.ConnectionCount())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logging.Info("App", "Received signal %v, shutting down", sig)
	case <-ctx.Done():
		logging.Info("App", "Context canceled, shutting down")
	case <-a.shutdownCh:
		logging.Info("App", "No SSE clients for %s, shutting down", a.config.ShutdownDelay)
	}

	a.stop()
	return nil
}

// wireConnectionTracking keeps the workspace entry's connection count
// current and drives the idle shutdown timer from SSE subscriptions.
func (a *Application) wireConnectionTracking() {
	a.sse.OnConnectionsChanged = func(count int) {
		if a.idle != nil {
			a.idle.ConnectionsChanged(count)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.workspaces.SetActiveConnections(ctx, a.config.Port, count); err != nil {
			logging.Debug("App", "Connection count update skipped: %v", err)
		}
	}
	if a.idle == nil {
		return
	}
	a.idle.OnArm = func(delay time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.workspaces.MarkShuttingDown(ctx, a.config.Port, delay); err != nil {
			logging.Debug("App", "Workspace state update skipped: %v", err)
		}
	}
	a.idle.OnCancel = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.workspaces.MarkActive(ctx, a.config.Port); err != nil {
			logging.Debug("App", "Workspace state update skipped: %v", err)
		}
	}
}

// registerWorkspace announces this hub in the cross-process cache so
// other instances and UIs can discover it.
func (a *Application) registerWorkspace(ctx context.Context) {
	entry := &workspace.Entry{
		Cwd:         a.workspaceFolder,
		ConfigFiles: a.config.ConfigPaths,
		PID:         os.Getpid(),
		Port:        a.config.Port,
		StartTime:   time.Now().UTC(),
		State:       workspace.StateActive,
	}
	if err := a.workspaces.Register(ctx, entry); err != nil {
		logging.Warn("App", "Workspace registration failed: %v", err)
	}
}

// startWatchers begins config and workspace cache monitoring. A watcher
// that cannot start is logged and skipped; the hub runs without it.
func (a *Application) startWatchers() {
	if a.config.Watch {
		watcher, err := config.NewWatcher(config.WatcherOptions{
			Paths:    a.config.ConfigPaths,
			OnChange: a.reloadConfig,
		})
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			logging.Warn("App", "Config watcher unavailable: %v", err)
		} else {
			a.configWatcher = watcher
		}
	}

	watcher, err := config.NewWatcher(config.WatcherOptions{
		Paths:    []string{a.workspaces.Path()},
		OnChange: a.broadcastWorkspaces,
	})
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		logging.Warn("App", "Workspace watcher unavailable: %v", err)
	} else {
		a.workspaceWatcher = watcher
	}
}

// reloadConfig re-reads the config files and reconciles the hub. The
// config_changed event fires before the reload is attempted so clients
// see the edit even when it fails to parse or changes nothing.
func (a *Application) reloadConfig() {
	a.bus.Publish(events.TypeConfigChanged, map[string]interface{}{
		"paths": a.config.ConfigPaths,
	})

	newCfg, err := config.Load(a.config.ConfigPaths)
	if err != nil {
		logging.Error("App", err, "Config reload failed, keeping the previous config")
		return
	}
	a.hub.Reconcile(a.runCtx, newCfg)
}

// broadcastWorkspaces pushes the current workspace list to SSE clients
// after another process touches the cache file.
func (a *Application) broadcastWorkspaces() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := a.workspaces.List(ctx)
	if err != nil {
		logging.Debug("App", "Workspace list unavailable after change: %v", err)
		return
	}
	a.bus.Publish(events.TypeWorkspacesUpdated, map[string]interface{}{
		"workspaces": entries,
	})
}

// stop tears the components down in reverse start order. The hub
// disconnects first so its stopping and stopped states reach SSE
// clients while the streams are still open.
func (a *Application) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	if a.workspaceWatcher != nil {
		a.workspaceWatcher.Stop()
	}
	if a.idle != nil {
		a.idle.Stop()
	}

	a.hub.Shutdown(ctx)

	if err := a.aggregator.Stop(ctx); err != nil {
		logging.Warn("App", "Aggregator stop: %v", err)
	}
	a.sse.Stop()
	if err := a.apiServer.Shutdown(ctx); err != nil {
		logging.Warn("App", "HTTP shutdown: %v", err)
	}
	a.logBridge.Stop()

	if err := a.workspaces.Remove(ctx, a.config.Port); err != nil {
		logging.Warn("App", "Workspace entry removal failed: %v", err)
	}
	a.bus.Close()

	logging.Info("App", "Shutdown complete")
	logging.Close()
}
