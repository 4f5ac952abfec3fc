// Command scoresync runs the offline-first sync layer for a live-score
// pool client: a durable mutation queue, a background sync engine, a
// caching proxy in front of the authoritative server, and queue
// diagnostics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rackline/scoresync/internal/config"
	"github.com/rackline/scoresync/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scoresync",
	Short: "Offline-first sync layer for the live-score client",
	Long: `scoresync keeps a live-score pool client usable without connectivity.

Mutations performed while offline are queued in a local SQLite store and
replayed against the server, in order, once connectivity returns. A caching
proxy serves static assets cache-first and API data network-first, so the
scoreboard keeps rendering from the last known state.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./scoresync.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(drainCmd)
}

// loadConfig resolves configuration for a command invocation.
func loadConfig() (*config.Config, *config.Loader) {
	loader := config.NewLoader(cfgFile, logging.New("config", logging.Options{}))
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg, loader
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
