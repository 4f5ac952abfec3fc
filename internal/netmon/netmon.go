// Package netmon tracks whether the authoritative server is reachable.
//
// A browser client gets an online/offline signal from the runtime; this
// client has none, so the monitor derives the flag from a cheap periodic
// probe against the server's display endpoint, plus explicit demotions
// reported by the transport when a request fails.
package netmon

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rackline/scoresync/internal/events"
)

// Config holds configuration for the monitor.
type Config struct {
	// ProbeURL is the endpoint polled for reachability. A GET answering
	// anything below 500 counts as online.
	ProbeURL string

	// ProbeInterval is how often to poll. Default 10s.
	ProbeInterval time.Duration

	// ProbeTimeout bounds one probe request. Default 5s.
	ProbeTimeout time.Duration

	// Logger for monitor activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given probe URL.
func DefaultConfig(probeURL string) *Config {
	return &Config{
		ProbeURL:      probeURL,
		ProbeInterval: 10 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Logger:        log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor owns the connectivity flag. All reads and writes go through its
// methods; there is no package-level state.
type Monitor struct {
	config *Config
	bus    *events.Bus
	client *http.Client

	mu     sync.Mutex
	online bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor that publishes transitions on bus.
// The monitor starts pessimistic (offline) until the first probe or an
// explicit SetOnline.
func New(config *Config, bus *events.Bus) *Monitor {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 10 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		config: config,
		bus:    bus,
		client: &http.Client{Timeout: config.ProbeTimeout},
	}
}

// Online reports the current connectivity flag. Every mutation call site
// checks this before deciding immediate-send versus enqueue.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates the flag, publishing an online-changed event on every
// transition. The transport calls SetOnline(false) when a request dies on
// the wire; tests use it to simulate connectivity.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.config.Logger.Printf("connectivity restored")
	} else {
		m.config.Logger.Printf("connectivity lost")
	}
	m.bus.Publish(events.EventOnlineChanged, events.OnlineChangedData{Online: online})
}

// OnOnline registers fn to run on every offline-to-online transition.
// Returns an unsubscribe function.
func (m *Monitor) OnOnline(fn func()) func() {
	return m.bus.Subscribe(events.EventOnlineChanged, func(ev events.Event) {
		var data events.OnlineChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		if data.Online {
			fn()
		}
	})
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so callers do not wait a full interval for the initial state.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.probe(ctx)

		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// probe performs one reachability check.
func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.config.ProbeURL, nil)
	if err != nil {
		m.config.Logger.Printf("WARNING: bad probe URL %q: %v", m.config.ProbeURL, err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.SetOnline(false)
		return
	}
	defer resp.Body.Close()

	// A 4xx still proves the server is reachable; only transport errors
	// and 5xx demote to offline.
	m.SetOnline(resp.StatusCode < 500)
}
