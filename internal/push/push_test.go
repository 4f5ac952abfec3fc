package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/rackline/scoresync/internal/events"
	"github.com/rackline/scoresync/internal/logging"
	"github.com/rackline/scoresync/internal/netmon"
	"github.com/rackline/scoresync/internal/store"
)

// pushServer is a test websocket origin that sends queued frames to each
// connecting client.
type pushServer struct {
	srv    *httptest.Server
	frames []string
}

func newPushServer(t *testing.T, frames ...string) *pushServer {
	t.Helper()

	ps := &pushServer{frames: frames}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		for _, frame := range ps.frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		// Hold the socket open so the consumer keeps reading.
		<-ctx.Done()
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

type pushFixture struct {
	store    *store.Store
	mon      *netmon.Monitor
	consumer *Consumer

	mu       sync.Mutex
	received []string
}

func setupConsumer(t *testing.T, url string) *pushFixture {
	t.Helper()

	st := store.Open(filepath.Join(t.TempDir(), "test.db"), logging.Discard())
	if !st.Available() {
		t.Fatal("test store unavailable")
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := events.New(logging.Discard())
	monCfg := netmon.DefaultConfig("http://127.0.0.1:0/")
	monCfg.Logger = logging.Discard()
	mon := netmon.New(monCfg, bus)

	cfg := DefaultConfig(url)
	cfg.Logger = logging.Discard()
	cfg.ReconnectMin = 10 * time.Millisecond

	f := &pushFixture{store: st, mon: mon, consumer: New(cfg, st, mon, bus)}
	f.consumer.Subscribe(func(snapshot json.RawMessage) {
		f.mu.Lock()
		f.received = append(f.received, string(snapshot))
		f.mu.Unlock()
	})
	return f
}

func (f *pushFixture) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestConsumer_PersistsFreshSnapshot verifies a pushed snapshot reaches
// both the subscribers and the local store.
func TestConsumer_PersistsFreshSnapshot(t *testing.T) {
	frame := `{"match":{"id":7,"team1_games":2},"cached":false}`
	ps := newPushServer(t, frame)
	f := setupConsumer(t, ps.wsURL())

	f.consumer.Start(context.Background())
	defer f.consumer.Stop()

	waitFor(t, "snapshot delivery", func() bool { return f.receivedCount() == 1 })

	f.mu.Lock()
	got := f.received[0]
	f.mu.Unlock()
	if got != frame {
		t.Errorf("subscriber got %s", got)
	}

	waitFor(t, "snapshot persistence", func() bool {
		_, ok := f.store.GetSnapshot()
		return ok
	})
	snap, _ := f.store.GetSnapshot()
	if string(snap.Payload) != frame {
		t.Errorf("persisted payload = %s", snap.Payload)
	}
}

// TestConsumer_CachedFrameNotPersisted verifies cached replays are
// delivered to the UI but never overwrite the stored snapshot.
func TestConsumer_CachedFrameNotPersisted(t *testing.T) {
	ps := newPushServer(t, `{"match":{"id":1},"cached":true}`)
	f := setupConsumer(t, ps.wsURL())

	f.consumer.Start(context.Background())
	defer f.consumer.Stop()

	waitFor(t, "cached frame delivery", func() bool { return f.receivedCount() == 1 })

	if _, ok := f.store.GetSnapshot(); ok {
		t.Error("cached frame must not be persisted")
	}
}

// TestConsumer_LiveSocketReportsOnline verifies the connectivity coupling.
func TestConsumer_LiveSocketReportsOnline(t *testing.T) {
	ps := newPushServer(t)
	f := setupConsumer(t, ps.wsURL())

	if f.mon.Online() {
		t.Fatal("monitor should start offline")
	}

	f.consumer.Start(context.Background())
	defer f.consumer.Stop()

	waitFor(t, "online promotion", f.mon.Online)
}

// TestConsumer_DialFailureReportsOffline verifies an unreachable origin
// demotes connectivity and the consumer keeps retrying.
func TestConsumer_DialFailureReportsOffline(t *testing.T) {
	f := setupConsumer(t, "ws://127.0.0.1:1/nope")
	f.mon.SetOnline(true)

	f.consumer.Start(context.Background())
	defer f.consumer.Stop()

	waitFor(t, "offline demotion", func() bool { return !f.mon.Online() })
}
