// Package push consumes the server's live-update channel.
//
// The server pushes full-state JSON snapshots over a websocket. This
// consumer hands every snapshot to its subscribers (the UI renders them
// directly) and persists each fresh one through the local store so the
// scoreboard still has something to show offline. Frames the server marks
// as cached replays are delivered but not persisted.
//
// The socket doubles as a connectivity signal: a healthy read loop
// promotes the monitor to online, a dial or read failure demotes it.
package push

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rackline/scoresync/internal/events"
	"github.com/rackline/scoresync/internal/netmon"
	"github.com/rackline/scoresync/internal/store"
)

// Config holds configuration for the push consumer.
type Config struct {
	// URL is the websocket endpoint of the update stream.
	URL string

	// ReconnectMin/Max bound the backoff between dial attempts.
	// Defaults 1s and 30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for consumer activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults for the given URL.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:          url,
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		Logger:       log.New(os.Stderr, "[push] ", log.LstdFlags),
	}
}

// Handler receives each pushed snapshot.
type Handler func(snapshot json.RawMessage)

// Consumer maintains the websocket and fans snapshots out.
type Consumer struct {
	config *Config
	store  *store.Store
	mon    *netmon.Monitor
	bus    *events.Bus

	mu       sync.Mutex
	handlers []Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a push consumer.
func New(config *Config, st *store.Store, mon *netmon.Monitor, bus *events.Bus) *Consumer {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[push] ", log.LstdFlags)
	}
	if config.ReconnectMin <= 0 {
		config.ReconnectMin = time.Second
	}
	if config.ReconnectMax < config.ReconnectMin {
		config.ReconnectMax = 30 * time.Second
	}
	return &Consumer{
		config: config,
		store:  st,
		mon:    mon,
		bus:    bus,
	}
}

// Subscribe registers fn for every snapshot, fresh or cached.
func (c *Consumer) Subscribe(fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Start launches the connect/read loop.
func (c *Consumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
}

// Stop closes the socket and waits for the loop to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// run dials, reads until failure, and redials with capped backoff.
func (c *Consumer) run(ctx context.Context) {
	backoff := c.config.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, c.config.URL, nil)
		if err != nil {
			c.mon.SetOnline(false)
			c.config.Logger.Printf("dial failed, retrying in %v: %v", backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.config.ReconnectMax)
			continue
		}

		c.config.Logger.Printf("connected to %s", c.config.URL)
		c.mon.SetOnline(true)
		backoff = c.config.ReconnectMin

		c.readLoop(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() == nil {
			c.mon.SetOnline(false)
		}
	}
}

// readLoop consumes frames until the socket dies or ctx is cancelled.
func (c *Consumer) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.config.Logger.Printf("read failed: %v", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		c.handleFrame(data)
	}
}

// frameMeta is the slice of the snapshot the consumer itself inspects.
type frameMeta struct {
	Cached bool `json:"cached"`
}

// handleFrame persists a fresh snapshot and fans it out.
func (c *Consumer) handleFrame(data []byte) {
	if !json.Valid(data) {
		c.config.Logger.Printf("WARNING: dropping non-JSON push frame (%d bytes)", len(data))
		return
	}

	var meta frameMeta
	_ = json.Unmarshal(data, &meta)

	if !meta.Cached {
		if c.store.SaveSnapshot(data) {
			c.bus.Publish(events.EventSnapshotSaved, nil)
		}
	}

	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(json.RawMessage(data))
	}
}
