package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	devLogs    bool
)

var rootCmd = &cobra.Command{
	Use:   "elfctl",
	Short: "elfctl operates the ELF multi-tenant agent-memory service",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLogs, "dev", false, "use human-readable console logging instead of JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
}
