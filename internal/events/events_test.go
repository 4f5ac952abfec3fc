package events

import (
	"encoding/json"
	"io"
	"log"
	"testing"
)

func quietBus() *Bus {
	return New(log.New(io.Discard, "", 0))
}

// TestBus_DeliveryOrder verifies listeners fire in subscription order.
func TestBus_DeliveryOrder(t *testing.T) {
	bus := quietBus()

	var order []int
	bus.Subscribe(EventSyncComplete, func(Event) { order = append(order, 1) })
	bus.Subscribe(EventSyncComplete, func(Event) { order = append(order, 2) })
	bus.Subscribe(EventSyncComplete, func(Event) { order = append(order, 3) })

	bus.Publish(EventSyncComplete, SyncCompleteData{Synced: 2})

	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Errorf("delivery %d was listener %d", i, v)
		}
	}
}

// TestBus_PanicIsolation verifies one listener's panic does not block the
// others.
func TestBus_PanicIsolation(t *testing.T) {
	bus := quietBus()

	var after bool
	bus.Subscribe(EventConflict, func(Event) { panic("listener bug") })
	bus.Subscribe(EventConflict, func(Event) { after = true })

	bus.Publish(EventConflict, ConflictData{ActionType: "win_game", Error: "mismatch"})

	if !after {
		t.Error("listener after the panicking one did not run")
	}
}

// TestBus_TypeFiltering verifies listeners only see their subscribed type.
func TestBus_TypeFiltering(t *testing.T) {
	bus := quietBus()

	var syncs, conflicts int
	bus.Subscribe(EventSyncComplete, func(Event) { syncs++ })
	bus.Subscribe(EventConflict, func(Event) { conflicts++ })

	bus.Publish(EventSyncComplete, SyncCompleteData{})
	bus.Publish(EventSyncComplete, SyncCompleteData{})
	bus.Publish(EventConflict, ConflictData{})

	if syncs != 2 {
		t.Errorf("sync listener fired %d times, want 2", syncs)
	}
	if conflicts != 1 {
		t.Errorf("conflict listener fired %d times, want 1", conflicts)
	}
}

// TestBus_Unsubscribe verifies an unsubscribed listener stops receiving and
// that unsubscribing twice is harmless.
func TestBus_Unsubscribe(t *testing.T) {
	bus := quietBus()

	var count int
	cancel := bus.Subscribe(EventItemSynced, func(Event) { count++ })

	bus.Publish(EventItemSynced, ItemSyncedData{})
	cancel()
	cancel()
	bus.Publish(EventItemSynced, ItemSyncedData{})

	if count != 1 {
		t.Errorf("listener fired %d times, want 1", count)
	}
}

// TestBus_PayloadRoundTrip verifies typed data survives the envelope.
func TestBus_PayloadRoundTrip(t *testing.T) {
	bus := quietBus()

	var got ConflictData
	bus.Subscribe(EventConflict, func(ev Event) {
		if err := json.Unmarshal(ev.Data, &got); err != nil {
			t.Errorf("unmarshal event data: %v", err)
		}
	})

	bus.Publish(EventConflict, ConflictData{ActionType: "set_group", QueueID: 12, Error: "stale game"})

	if got.ActionType != "set_group" || got.QueueID != 12 || got.Error != "stale game" {
		t.Errorf("unexpected round-tripped data: %+v", got)
	}
}
