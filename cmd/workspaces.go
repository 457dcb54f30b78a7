package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mcphub/internal/paths"
	"mcphub/internal/workspace"
	pkgstrings "mcphub/pkg/strings"
)

// cwdColumnWidth caps the working-directory column so one deep path
// does not blow up the whole table.
const cwdColumnWidth = 60

// newWorkspacesCmd creates the command that lists running hub instances
// from the cross-process workspace cache.
func newWorkspacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List running hub instances",
		Long: `Reads the shared workspace cache and prints one row per registered
hub: its port, process id, state, connected SSE clients, uptime and
working directory. Entries whose process no longer exists are pruned
on read.`,
		Args: cobra.NoArgs,
		RunE: runWorkspaces,
	}
}

func runWorkspaces(cmd *cobra.Command, args []string) error {
	file, err := paths.WorkspaceFile()
	if err != nil {
		return fmt.Errorf("resolving workspace cache: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	entries, err := workspace.NewCache(file).List(ctx)
	if err != nil {
		return fmt.Errorf("reading workspace cache: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No running hubs.")
		return nil
	}

	rows := make([]*workspace.Entry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, entry)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Port < rows[j].Port })

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"PORT", "PID", "STATE", "CONNECTIONS", "UPTIME", "CWD"})
	for _, entry := range rows {
		t.AppendRow(table.Row{
			entry.Port,
			entry.PID,
			entry.State,
			entry.ActiveConnections,
			time.Since(entry.StartTime).Round(time.Second),
			pkgstrings.Truncate(entry.Cwd, cwdColumnWidth),
		})
	}
	t.Render()
	return nil
}
