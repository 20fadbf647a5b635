package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "schemasentry",
	Short: "MySQL schema intelligence & query safety service",
	Long: `A schema-intelligence and query-safety service fronting an analytical
MySQL database.

Features:
  - Database/table/column metadata discovery with TTL caching
  - Coalescing of concurrent identical metadata requests
  - SQL classification that rejects any mutating statement
  - Per-client rate limiting with adaptive failure backoff
  - HTTP tool endpoints and a persistent NDJSON channel`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "schemasentry.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
