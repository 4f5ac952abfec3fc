// Package engine orchestrates queuing and replay of mutation intents.
//
// The engine owns the single-flight drain: one pass over the pending queue,
// strictly in enqueue order, replaying each action against the server.
// Three triggers request drains — a fixed-interval ticker, the
// connectivity-restored event, and a one-shot shortly after startup — and a
// best-effort flag drops any trigger that arrives while a pass is already
// running. Correctness does not depend on that flag being a real lock: the
// ticker guarantees a later pass picks up whatever a dropped trigger missed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rackline/scoresync/internal/action"
	"github.com/rackline/scoresync/internal/client"
	"github.com/rackline/scoresync/internal/events"
	"github.com/rackline/scoresync/internal/netmon"
	"github.com/rackline/scoresync/internal/store"
)

// Sender delivers one intent to the authoritative server.
// *client.Client is the production implementation.
type Sender interface {
	Send(ctx context.Context, in action.Intent) error
}

// Config holds configuration for the engine.
type Config struct {
	// DrainInterval is the periodic trigger. Default 30s.
	DrainInterval time.Duration

	// StartupDelay is how long after Start() to attempt the initial drain
	// (skipped when offline at that moment). Default 5s.
	StartupDelay time.Duration

	// Logger for engine activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval: 30 * time.Second,
		StartupDelay:  5 * time.Second,
		Logger:        log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Stats is a point-in-time view of drain history.
type Stats struct {
	Drains      int
	LastDrainAt time.Time
	LastSynced  int
	LastFailed  int
}

// Engine is the sync engine. All mutable sync state (the single-flight
// flag, drain stats) lives on the instance; there are no package globals.
type Engine struct {
	store  *store.Store
	mon    *netmon.Monitor
	sender Sender
	bus    *events.Bus
	config *Config

	syncing atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sync engine. If config is nil, DefaultConfig() is used.
func New(st *store.Store, mon *netmon.Monitor, sender Sender, bus *events.Bus, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		store:  st,
		mon:    mon,
		sender: sender,
		bus:    bus,
		config: config,
	}
}

// Start launches the drain triggers: the periodic ticker, the
// online-transition subscription, and the delayed startup drain.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	unsubscribe := e.mon.OnOnline(func() {
		e.Sync(ctx)
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer unsubscribe()

		startup := time.NewTimer(e.config.StartupDelay)
		defer startup.Stop()

		ticker := time.NewTicker(e.config.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-startup.C:
				if e.mon.Online() {
					e.Sync(ctx)
				}
			case <-ticker.C:
				e.Sync(ctx)
			}
		}
	}()
}

// Stop halts the triggers. A drain already in flight runs to completion;
// there is no mid-drain cancellation.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// HasPendingItems reports whether any action awaits delivery. Degrades to
// false when storage is unavailable.
func (e *Engine) HasPendingItems() bool {
	return e.store.PendingCount() > 0
}

// PendingCount returns the number of actions awaiting delivery. Degrades
// to 0 when storage is unavailable.
func (e *Engine) PendingCount() int {
	return e.store.PendingCount()
}

// Stats returns a copy of the drain history counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// Submit handles a fresh mutation intent from the rules engine.
//
// Online: send immediately; a transport failure demotes connectivity and
// falls back to the queue. Offline: queue directly. Either queued outcome
// publishes an action-queued event (the "queued for later" surface).
//
// A server rejection on the immediate path is final: it is surfaced as a
// conflict event and returned, never queued.
//
// When storage is unavailable the whole subsystem is pass-through: the
// intent is sent directly and any failure is returned loudly, with no
// offline fallback.
func (e *Engine) Submit(ctx context.Context, in action.Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}

	if !e.store.Available() {
		return e.sender.Send(ctx, in)
	}

	if !e.mon.Online() {
		return e.enqueue(in)
	}

	err := e.sender.Send(ctx, in)
	if err == nil {
		return nil
	}

	var transient *client.TransientError
	if errors.As(err, &transient) {
		e.config.Logger.Printf("immediate send of %s failed (%v), queuing for later", in.Type, err)
		e.mon.SetOnline(false)
		return e.enqueue(in)
	}

	var rej *client.RejectionError
	if errors.As(err, &rej) && rej.Conflict() {
		e.bus.Publish(events.EventConflict, events.ConflictData{
			ActionType: string(in.Type),
			Error:      rej.Reason,
		})
	}
	return err
}

func (e *Engine) enqueue(in action.Intent) error {
	id := e.store.Enqueue(in)
	if id == 0 {
		return fmt.Errorf("failed to queue %s for later delivery", in.Type)
	}
	e.bus.Publish(events.EventActionQueued, events.ActionQueuedData{
		ActionType: string(in.Type),
		QueueID:    id,
		Pending:    e.store.PendingCount(),
	})
	return nil
}

// Sync requests one drain pass. It returns true if a pass actually started;
// a request arriving while another pass is in flight is dropped and
// returns false (the ticker guarantees a later retry).
func (e *Engine) Sync(ctx context.Context) bool {
	if !e.syncing.CompareAndSwap(false, true) {
		return false
	}
	defer e.syncing.Store(false)

	if !e.mon.Online() {
		return false
	}
	if !e.store.Available() {
		return false
	}

	e.drain(ctx)
	return true
}

// drain executes one full pass over the current queue snapshot. Items
// enqueued while the pass runs are picked up next cycle.
func (e *Engine) drain(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.config.Logger.Printf("WARNING: drain pass died: %v", r)
			e.bus.Publish(events.EventSyncError, map[string]string{"error": fmt.Sprint(r)})
		}
	}()

	pending := e.store.ListPending()
	if len(pending) == 0 {
		return
	}

	e.config.Logger.Printf("draining %d pending action(s)", len(pending))

	var synced, failed int
	for _, item := range pending {
		// Strictly sequential: later mutations can depend on earlier ones
		// (assign a ball group before pocketing under it).
		switch e.replay(ctx, item) {
		case outcomeDelivered:
			synced++
			e.bus.Publish(events.EventItemSynced, events.ItemSyncedData{
				ActionType: string(item.Type),
				QueueID:    item.ID,
				Synced:     synced,
				Failed:     failed,
			})
		case outcomeFailed:
			failed++
		case outcomeDropped:
			// Unmapped type, already logged. Counts as neither.
		}
	}

	e.statsMu.Lock()
	e.stats.Drains++
	e.stats.LastDrainAt = time.Now().UTC()
	e.stats.LastSynced = synced
	e.stats.LastFailed = failed
	e.statsMu.Unlock()

	e.config.Logger.Printf("drain complete: synced=%d failed=%d", synced, failed)
	e.bus.Publish(events.EventSyncComplete, events.SyncCompleteData{Synced: synced, Failed: failed})
}

// replayOutcome classifies one replay attempt.
type replayOutcome int

const (
	outcomeDelivered replayOutcome = iota
	outcomeFailed
	outcomeDropped
)

// replay attempts one queued item.
func (e *Engine) replay(ctx context.Context, item store.QueueItem) replayOutcome {
	in := action.Intent{
		Type:           item.Type,
		Payload:        item.Payload,
		IdempotencyKey: item.IdempotencyKey,
		CreatedAt:      item.EnqueuedAt,
	}

	err := e.sender.Send(ctx, in)
	if err == nil {
		e.store.Remove(item.ID)
		return outcomeDelivered
	}

	if errors.Is(err, action.ErrUnknownAction) {
		// Programming error: no retry can ever deliver this item.
		e.config.Logger.Printf("ERROR: dropping queue item %d with unmapped action type %q", item.ID, item.Type)
		e.store.Remove(item.ID)
		return outcomeDropped
	}

	var rej *client.RejectionError
	if errors.As(err, &rej) {
		e.store.MarkFailed(item.ID, rej.Reason)
		if rej.Conflict() {
			e.bus.Publish(events.EventConflict, events.ConflictData{
				ActionType: string(item.Type),
				QueueID:    item.ID,
				Error:      rej.Reason,
			})
		}
		return outcomeFailed
	}

	// Transient transport failure: same bookkeeping as a rejection, up to
	// the attempt ceiling.
	e.store.MarkFailed(item.ID, err.Error())
	return outcomeFailed
}
