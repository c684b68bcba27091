package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/auth"
	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
)

// buildStatusCmd creates the "status" command: a local snapshot of the
// workspace without starting the runtime.
func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show workspace and credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "nxclaw %s\n", version)
			fmt.Fprintf(out, "Workspace: %s\n", paths.Home)
			fmt.Fprintf(out, "Provider:  %s", cfg.Provider)
			if cfg.Model != "" {
				fmt.Fprintf(out, " (model %s)", cfg.Model)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Dashboard: http://%s:%d\n", cfg.Dashboard.Host, cfg.Dashboard.Port)
			if cfg.Autonomous.Enabled {
				fmt.Fprintf(out, "Autonomous: enabled (every %dms)\n", cfg.Autonomous.IntervalMs)
			} else {
				fmt.Fprintln(out, "Autonomous: disabled")
			}
			fmt.Fprintln(out)

			store, err := auth.NewStore(paths)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Credentials:")
			for _, st := range store.Status() {
				state := "not configured"
				if st.Configured {
					state = fmt.Sprintf("configured (%s)", st.Source)
				}
				marker := ""
				if st.Default {
					marker = " [default]"
				}
				fmt.Fprintf(out, "  %-13s %s%s\n", st.Provider, state, marker)
			}
			fmt.Fprintln(out)

			mem, err := memory.NewStore(paths, memoryConfig(cfg))
			if err != nil {
				return err
			}
			defer mem.Shutdown()
			stats := mem.GetStats()
			fmt.Fprintln(out, "Memory:")
			fmt.Fprintf(out, "  Raw entries:   %d\n", stats.RawEntries)
			fmt.Fprintf(out, "  Notes:         %d\n", stats.Notes)
			fmt.Fprintf(out, "  Index chunks:  %d\n", stats.Chunks)
			fmt.Fprintf(out, "  Vector search: %v (%s)\n", stats.VectorEnabled, stats.Provider)
			fmt.Fprintln(out)

			objStore, err := objectives.NewStore(paths.ObjectivesFile(), slog.Default())
			if err != nil {
				return err
			}
			oStats := objStore.GetStats()
			fmt.Fprintf(out, "Objectives: %d total\n", oStats.Total)
			for status, n := range oStats.ByStatus {
				fmt.Fprintf(out, "  %-12s %d\n", status, n)
			}
			return nil
		},
	}
}
