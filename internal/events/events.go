// Package events provides the typed event bus used to surface sync progress
// to the UI layer.
//
// Delivery is synchronous and in subscription order. A listener that panics
// is recovered and logged; the remaining listeners still receive the event.
package events

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType identifies one kind of bus event.
type EventType string

const (
	// EventItemSynced fires after each queued action is confirmed by the server.
	EventItemSynced EventType = "item_synced"

	// EventSyncComplete fires once per drain pass with final counts.
	EventSyncComplete EventType = "sync_complete"

	// EventSyncError fires when a whole drain pass fails, as opposed to a
	// single item within it.
	EventSyncError EventType = "sync_error"

	// EventConflict fires when the server rejects an action because the
	// client's assumed state no longer matches server state.
	EventConflict EventType = "conflict"

	// EventActionQueued fires when a mutation is stored for later delivery.
	EventActionQueued EventType = "action_queued"

	// EventOnlineChanged fires on every connectivity transition.
	EventOnlineChanged EventType = "online_changed"

	// EventSnapshotSaved fires when a fresh pushed snapshot is persisted.
	EventSnapshotSaved EventType = "snapshot_saved"
)

// Event is the envelope delivered to listeners.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ItemSyncedData carries running totals during a drain.
type ItemSyncedData struct {
	ActionType string `json:"action_type"`
	QueueID    int64  `json:"queue_id"`
	Synced     int    `json:"synced"`
	Failed     int    `json:"failed"`
}

// SyncCompleteData carries the final counts for one drain pass.
type SyncCompleteData struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// ConflictData names the rejected action and the server's reason.
type ConflictData struct {
	ActionType string `json:"action_type"`
	QueueID    int64  `json:"queue_id"`
	Error      string `json:"error"`
}

// ActionQueuedData identifies a newly queued action.
type ActionQueuedData struct {
	ActionType string `json:"action_type"`
	QueueID    int64  `json:"queue_id"`
	Pending    int    `json:"pending"`
}

// OnlineChangedData carries the new connectivity state.
type OnlineChangedData struct {
	Online bool `json:"online"`
}

// Listener receives published events.
type Listener func(Event)

type subscriber struct {
	id EventType
	fn Listener
}

// Bus fans events out to listeners. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex
	subs   []subscriber
	logger *log.Logger
}

// New creates an event bus. If logger is nil, a default logger writing to
// stderr is used.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for events of type t and returns an unsubscribe
// function. Listeners are invoked in subscription order.
func (b *Bus) Subscribe(t EventType, fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{id: t, fn: fn}
	b.subs = append(b.subs, sub)
	idx := len(b.subs) - 1

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			// Tombstone rather than reslice so indexes of later
			// subscribers stay valid.
			if idx < len(b.subs) {
				b.subs[idx].fn = nil
			}
		})
	}
}

// Publish builds an Event from t and data and delivers it to every listener
// subscribed to t. Data must marshal to JSON; a marshal failure is logged
// and the event dropped.
func (b *Bus) Publish(t EventType, data any) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			b.logger.Printf("WARNING: dropping %s event: marshal failed: %v", t, err)
			return
		}
		raw = encoded
	}

	ev := Event{Type: t, Timestamp: time.Now().UTC(), Data: raw}

	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.id == t && sub.fn != nil {
			listeners = append(listeners, sub.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(t, fn, ev)
	}
}

// deliver invokes one listener, isolating its panics from the rest.
func (b *Bus) deliver(t EventType, fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("WARNING: listener for %s panicked: %v", t, r)
		}
	}()
	fn(ev)
}
