package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rackline/scoresync/internal/client"
	"github.com/rackline/scoresync/internal/engine"
	"github.com/rackline/scoresync/internal/events"
	"github.com/rackline/scoresync/internal/logging"
	"github.com/rackline/scoresync/internal/netmon"
	"github.com/rackline/scoresync/internal/ui"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Replay the pending queue once and exit",
	Long: `Run one drain pass over the pending queue.

Checks server reachability first; refuses to run while offline so attempt
counts are not burned against an unreachable server.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := loadConfig()

		st := openStoreOrExit(cfg.DBPath)
		defer st.Close()

		if st.PendingCount() == 0 {
			fmt.Printf("%s Nothing to drain\n", ui.RenderPass("✓"))
			return
		}

		probe := probeURL(cfg.ServerURL)
		check := &http.Client{Timeout: 5 * time.Second}
		resp, err := check.Get(probe)
		if err != nil || resp.StatusCode >= 500 {
			if resp != nil {
				resp.Body.Close()
			}
			fmt.Fprintf(os.Stderr, "%s Server unreachable at %s; not draining\n", ui.RenderWarn("⚠"), probe)
			os.Exit(1)
		}
		resp.Body.Close()

		bus := events.New(logging.New("events", logging.Options{}))
		monCfg := netmon.DefaultConfig(probe)
		mon := netmon.New(monCfg, bus)
		mon.SetOnline(true)

		apiClient := client.New(&client.Config{
			BaseURL:      cfg.ServerURL,
			SessionToken: cfg.SessionToken,
		})

		eng := engine.New(st, mon, apiClient, bus, nil)

		fmt.Printf("%s Draining %d pending action(s)...\n", ui.RenderAccent("🔄"), st.PendingCount())
		start := time.Now()

		if !eng.Sync(context.Background()) {
			fmt.Fprintf(os.Stderr, "Error: drain did not run\n")
			os.Exit(1)
		}

		stats := eng.Stats()
		elapsed := time.Since(start).Round(time.Millisecond)
		if stats.LastFailed > 0 {
			fmt.Printf("%s Drain finished in %v: synced=%d failed=%d\n",
				ui.RenderWarn("⚠"), elapsed, stats.LastSynced, stats.LastFailed)
			return
		}
		fmt.Printf("%s Drain finished in %v: synced=%d\n",
			ui.RenderPass("✓"), elapsed, stats.LastSynced)
	},
}
