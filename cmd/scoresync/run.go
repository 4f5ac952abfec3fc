package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rackline/scoresync/internal/client"
	"github.com/rackline/scoresync/internal/config"
	"github.com/rackline/scoresync/internal/engine"
	"github.com/rackline/scoresync/internal/events"
	"github.com/rackline/scoresync/internal/logging"
	"github.com/rackline/scoresync/internal/netmon"
	"github.com/rackline/scoresync/internal/proxy"
	"github.com/rackline/scoresync/internal/push"
	"github.com/rackline/scoresync/internal/store"
	"github.com/rackline/scoresync/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync layer",
	Long: `Run the full sync layer until interrupted:

  1. Opens (or creates) the local store
  2. Starts the connectivity monitor and push-channel consumer
  3. Starts the sync engine's drain triggers
  4. Serves the caching proxy on the configured listen address

Edits to the config file adjust the drain and probe intervals live.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, loader := loadConfig()
		runDaemon(cfg, loader)
	},
}

// probeURL is the cheap endpoint polled for reachability; the display
// endpoint exists on every deployment and needs no session.
func probeURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/") + "/api/display"
}

// pushURL derives the websocket endpoint from the server origin.
func pushURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/") + "/ws"
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

func runDaemon(cfg *config.Config, loader *config.Loader) {
	logOpts := logging.Options{File: cfg.LogFile}
	logger := logging.New("scoresync", logOpts)

	st := store.Open(cfg.DBPath, logging.New("store", logOpts))
	defer st.Close()
	if !st.Available() {
		fmt.Printf("%s Local store unavailable; running pass-through (no offline fallback)\n", ui.RenderWarn("⚠"))
	}

	bus := events.New(logging.New("events", logOpts))

	apiClient := client.New(&client.Config{
		BaseURL:      cfg.ServerURL,
		SessionToken: cfg.SessionToken,
		Logger:       logging.New("client", logOpts),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monCfg := netmon.DefaultConfig(probeURL(cfg.ServerURL))
	monCfg.ProbeInterval = cfg.ProbeInterval
	monCfg.Logger = logging.New("netmon", logOpts)
	mon := netmon.New(monCfg, bus)
	mon.Start(ctx)
	defer mon.Stop()

	// The engine is restarted on config edits so a new drain interval takes
	// effect; the mutex keeps a reload from racing shutdown. The monitor is
	// shared with the push consumer and stays put (a probe-interval change
	// needs a restart).
	var mu sync.Mutex
	eng := startEngine(ctx, cfg, st, mon, bus, apiClient, logOpts)
	defer func() {
		mu.Lock()
		eng.Stop()
		mu.Unlock()
	}()

	consumer := push.New(pushConfig(cfg, logOpts), st, mon, bus)
	consumer.Start(ctx)
	defer consumer.Stop()

	loader.Watch(func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if next.DrainInterval == cfg.DrainInterval {
			return
		}
		logger.Printf("applying new drain interval: %v", next.DrainInterval)
		eng.Stop()
		cfg.DrainInterval = next.DrainInterval
		eng = startEngine(ctx, cfg, st, mon, bus, apiClient, logOpts)
	})

	announceEvents(bus)

	cacheProxy, err := proxy.New(&proxy.Config{
		Origin:   cfg.ServerURL,
		Version:  cfg.CacheVersion,
		PushPath: "/ws",
		Logger:   logging.New("proxy", logOpts),
	}, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating proxy: %v\n", err)
		os.Exit(1)
	}
	cacheProxy.Activate()
	defer cacheProxy.Close()

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: cacheProxy}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("%s scoresync serving on %s (origin %s, cache %s)\n",
		ui.RenderAccent("▶"), cfg.ListenAddr, cfg.ServerURL, cfg.CacheVersion)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "Error serving proxy: %v\n", err)
		os.Exit(1)
	}
}

func startEngine(ctx context.Context, cfg *config.Config, st *store.Store, mon *netmon.Monitor,
	bus *events.Bus, apiClient *client.Client, logOpts logging.Options) *engine.Engine {

	engCfg := engine.DefaultConfig()
	engCfg.DrainInterval = cfg.DrainInterval
	engCfg.StartupDelay = cfg.StartupDelay
	engCfg.Logger = logging.New("engine", logOpts)
	eng := engine.New(st, mon, apiClient, bus, engCfg)
	eng.Start(ctx)
	return eng
}

func pushConfig(cfg *config.Config, logOpts logging.Options) *push.Config {
	pc := push.DefaultConfig(pushURL(cfg.ServerURL))
	pc.Logger = logging.New("push", logOpts)
	return pc
}

// announceEvents prints the user-facing notices for sync progress.
func announceEvents(bus *events.Bus) {
	bus.Subscribe(events.EventActionQueued, func(ev events.Event) {
		fmt.Printf("%s Action queued for later delivery\n", ui.RenderWarn("⏸"))
	})
	bus.Subscribe(events.EventSyncComplete, func(ev events.Event) {
		fmt.Printf("%s Sync complete: %s\n", ui.RenderPass("✓"), string(ev.Data))
	})
	bus.Subscribe(events.EventConflict, func(ev events.Event) {
		fmt.Printf("%s Server rejected an action: %s\n", ui.RenderFail("✗"), string(ev.Data))
	})
}
