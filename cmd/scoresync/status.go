package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rackline/scoresync/internal/logging"
	"github.com/rackline/scoresync/internal/store"
	"github.com/rackline/scoresync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store and queue status",
	Long: `Display the current state of the local store.

Shows:
  - Store availability and location
  - Age of the last persisted snapshot
  - Pending and failed queue counts, broken down by action type`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		st := store.Open(cfg.DBPath, logging.New("store", logging.Options{}))
		defer st.Close()

		if !st.Available() {
			fmt.Printf("\n%s Local store unavailable at %s\n", ui.RenderWarn("⚠"), cfg.DBPath)
			fmt.Printf("   Mutations will be sent directly with no offline fallback\n\n")
			return
		}

		fmt.Printf("\n%s Local store: %s\n", ui.RenderPass("✓"), cfg.DBPath)

		if snap, ok := st.GetSnapshot(); ok {
			fmt.Printf("   Snapshot: %s old (captured %s)\n",
				snap.CacheAge.Round(time.Second),
				snap.CapturedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("   Snapshot: %s\n", ui.RenderDim("none"))
		}

		pending := st.PendingCount()
		failed := st.FailedCount()
		fmt.Printf("   Pending:  %d\n", pending)
		if failed > 0 {
			fmt.Printf("   Failed:   %s\n", ui.RenderFail(fmt.Sprintf("%d", failed)))
		} else {
			fmt.Printf("   Failed:   0\n")
		}

		if counts := st.CountByType(); len(counts) > 0 {
			fmt.Printf("   By type:\n")
			for typ, n := range counts {
				fmt.Printf("     %-20s %d\n", typ, n)
			}
		}
		fmt.Println()
	},
}
