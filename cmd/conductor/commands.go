package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd mirrors the teacher's buildServeCmd: a thin cobra wrapper
// around a runServe handler, so the command tree stays testable without
// actually binding a socket.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine and accept websocket connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default conductor.yaml or $CONDUCTOR_CONFIG)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")

	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether configured components are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runStatus(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default conductor.yaml or $CONDUCTOR_CONFIG)")
	return cmd
}

func buildCheckpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or manage workflow checkpoints",
	}
	cmd.AddCommand(buildCheckpointGCCmd())
	return cmd
}

func buildCheckpointGCCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Run a checkpoint garbage-collection sweep immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runCheckpointGC(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default conductor.yaml or $CONDUCTOR_CONFIG)")
	return cmd
}
