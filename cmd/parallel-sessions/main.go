// Package main is the entry point for the parallel-sessions CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

// Global flags.
var (
	configPath string
	logLevel   string
	driverName string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "parallel-sessions",
		Short: "Run and supervise concurrent browser checkout sessions",
		Long: `parallel-sessions drives a fleet of browser sessions through a ticket
checkout flow. The serve command exposes the control API and the live
dashboard websocket; run performs a single headless run from the terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Load configuration from this file only")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&driverName, "driver", "", "Browser driver: playwright or sim")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parallel-sessions %s\n", version)
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}
