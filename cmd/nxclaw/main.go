// Package main is the nxclaw CLI: a persistent personal agent with
// file-backed memory, background tasks, an autonomous loop, and an HTTP
// dashboard.
//
// # Basic Usage
//
// Configure a provider credential:
//
//	nxclaw auth --provider anthropic --api-key sk-...
//
// Initialize the workspace:
//
//	nxclaw onboard
//
// Run the agent:
//
//	nxclaw start
//
// # Environment Variables
//
//   - NXCLAW_HOME: Workspace root (default: ~/.nxclaw)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY: provider keys
//   - NXCLAW_PROVIDER, NXCLAW_MODEL, NXCLAW_DASHBOARD_* : config overrides
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nxclaw/nxclaw/internal/config"
	"github.com/nxclaw/nxclaw/internal/workspace"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var debugLogs bool

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nxclaw",
		Short: "nxclaw - persistent personal agent runtime",
		Long: `nxclaw runs a persistent autonomous agent on your machine: file-backed
memory with hybrid search, background task execution, Chrome control,
an objective queue, and an HTTP dashboard.

All state lives under a single workspace directory (default ~/.nxclaw).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugLogs {
				slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		buildAuthCmd(),
		buildOnboardCmd(),
		buildStatusCmd(),
		buildSkillsCmd(),
		buildObjectiveCmd(),
		buildStartCmd(),
	)
	return rootCmd
}

// openWorkspace resolves the workspace root and makes sure the directory
// layout exists.
func openWorkspace() (workspace.Paths, error) {
	paths := workspace.NewPaths(workspace.DefaultHome())
	if err := paths.EnsureLayout(); err != nil {
		return paths, fmt.Errorf("prepare workspace %s: %w", paths.Home, err)
	}
	return paths, nil
}

// loadConfig opens the workspace and reads the layered configuration.
func loadConfig() (workspace.Paths, config.Config, error) {
	paths, err := openWorkspace()
	if err != nil {
		return paths, config.Config{}, err
	}
	cfg, err := config.Load(paths)
	if err != nil {
		return paths, cfg, err
	}
	return paths, cfg, nil
}
