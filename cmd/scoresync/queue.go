package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rackline/scoresync/internal/logging"
	"github.com/rackline/scoresync/internal/store"
	"github.com/rackline/scoresync/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the offline mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and failed queued actions",
	Long: `List every queued action awaiting delivery, plus the audit trail of
actions that exhausted their delivery attempts. Failed actions are never
removed automatically; clear them explicitly once reviewed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		st := openStoreOrExit(cfg.DBPath)
		defer st.Close()

		pending := st.ListPending()
		failed := st.ListFailed()

		if len(pending) == 0 && len(failed) == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass("✓"))
			return
		}

		if len(pending) > 0 {
			fmt.Printf("\n%s Pending (%d):\n", ui.RenderAccent("⏸"), len(pending))
			for _, item := range pending {
				fmt.Printf("   #%-4d %-20s enqueued %s  attempts %d/%d\n",
					item.ID, item.Type,
					item.EnqueuedAt.Format(time.RFC3339),
					item.AttemptCount, store.MaxAttempts)
				if item.LastError != "" {
					fmt.Printf("         %s\n", ui.RenderDim("last error: "+item.LastError))
				}
			}
		}

		if len(failed) > 0 {
			fmt.Printf("\n%s Failed (%d):\n", ui.RenderFail("✗"), len(failed))
			for _, item := range failed {
				fmt.Printf("   #%-4d %-20s enqueued %s\n",
					item.ID, item.Type, item.EnqueuedAt.Format(time.RFC3339))
				fmt.Printf("         %s\n", ui.RenderDim(item.LastError))
			}
		}
		fmt.Println()
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all local state",
	Long: `Delete everything in the local store: the queue (including the failed
audit trail), the persisted snapshot, and all caches. Queued actions that
were never delivered are lost.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		st := openStoreOrExit(cfg.DBPath)
		defer st.Close()

		pending := st.PendingCount()
		if !st.ClearAll() {
			fmt.Fprintf(os.Stderr, "Error: failed to clear the store\n")
			os.Exit(1)
		}
		fmt.Printf("%s Cleared local state (%d pending action(s) discarded)\n",
			ui.RenderPass("✓"), pending)
	},
}

func openStoreOrExit(path string) *store.Store {
	st := store.Open(path, logging.New("store", logging.Options{}))
	if !st.Available() {
		fmt.Fprintf(os.Stderr, "Error: local store unavailable at %s\n", path)
		os.Exit(1)
	}
	return st
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}
