package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mcphub/internal/app"
)

var (
	flagPort          int
	flagConfig        []string
	flagWatch         bool
	flagAutoShutdown  bool
	flagShutdownDelay int64
	flagLogLevel      string
)

// rootCmd starts the hub itself; management helpers are subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcp-hub",
	Short: "Manage MCP servers behind a single endpoint",
	Long: `mcp-hub connects to the MCP servers declared in one or more config
files and exposes them through a single HTTP port: a management REST
API, an SSE event stream, and a unified /mcp endpoint whose tools,
resources and prompts are namespaced per upstream server.

Config files later in the --config list override earlier ones server by
server. With --watch, edits to those files are picked up and applied
without a restart.`,
	Args: cobra.NoArgs,
	// SilenceUsage keeps runtime failures from being followed by the
	// full usage text.
	SilenceUsage: true,
}

func runHub(cmd *cobra.Command, args []string) error {
	cfg := &app.Config{
		Port:          flagPort,
		ConfigPaths:   flagConfig,
		Watch:         flagWatch,
		AutoShutdown:  flagAutoShutdown,
		ShutdownDelay: time.Duration(flagShutdownDelay) * time.Millisecond,
		LogLevel:      flagLogLevel,
		Version:       rootCmd.Version,
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

// SetVersion sets the version for the root command. Called from the
// main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI. It is called by
// main.main() and exits non-zero when the command fails.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcp-hub version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Wired here rather than in the literal so the rootCmd initializer
	// does not depend on runHub, which reads rootCmd back.
	rootCmd.RunE = runHub

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newWorkspacesCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())

	rootCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP listen port (required)")
	rootCmd.Flags().StringArrayVar(&flagConfig, "config", nil, "MCP server config file; repeat for layered merging (required)")
	rootCmd.Flags().BoolVar(&flagWatch, "watch", false, "Watch config files and reconcile on change")
	rootCmd.Flags().BoolVar(&flagAutoShutdown, "auto-shutdown", false, "Shut down after the last SSE client disconnects")
	rootCmd.Flags().Int64Var(&flagShutdownDelay, "shutdown-delay", 0, "Grace period in milliseconds before auto-shutdown")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn or error")

	_ = rootCmd.MarkFlagRequired("port")
	_ = rootCmd.MarkFlagRequired("config")
}
