// Package main provides the CLI entry point for the conductor multi-agent
// workflow engine.
//
// Conductor routes a user query through five worker agents (research,
// architect, codesmith, reviewfix, responder) under a single supervisor's
// control, exposing the running session over a websocket control plane.
//
// # Basic Usage
//
// Start the server:
//
//	conductor serve --config conductor.yaml
//
// Check system status:
//
//	conductor status --config conductor.yaml
//
// Trigger a checkpoint GC sweep out of band:
//
//	conductor checkpoint gc --config conductor.yaml
//
// # Environment Variables
//
//   - CONDUCTOR_RECURSION_LIMIT
//   - CONDUCTOR_LLM_PROVIDER_DEFAULT
//   - CONDUCTOR_CHECKPOINT_DIR
//   - CONDUCTOR_LOG_LEVEL
//   - CONDUCTOR_APPROVAL_SECRET
//   - CONDUCTOR_MEMORY_DSN
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise the command tree directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - multi-agent workflow engine",
		Long: `Conductor routes a user query through worker agents (research, architect,
codesmith, reviewfix, responder) under a supervisor's control, over a
websocket control plane.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildCheckpointCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("CONDUCTOR_CONFIG"); env != "" {
		return env
	}
	return "conductor.yaml"
}
