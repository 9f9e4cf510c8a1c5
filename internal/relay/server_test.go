package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cybergrid/hud-relay/internal/connection"
	"github.com/cybergrid/hud-relay/internal/health"
	"github.com/cybergrid/hud-relay/internal/model"
	"github.com/cybergrid/hud-relay/internal/router"
	"github.com/cybergrid/hud-relay/internal/state"
)

type testRelay struct {
	server   *Server
	http     *httptest.Server
	store    *state.Store
	registry *connection.Registry
	readings chan health.Reading
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	store := state.NewStore(state.DefaultConfig())
	registry := connection.NewRegistry()
	readings := make(chan health.Reading, 10)
	sink := health.SinkFunc(func(ctx context.Context, r health.Reading) error {
		readings <- r
		return nil
	})
	rt := router.New(router.DefaultConfig(), store, registry, sink, nil)
	srv := New(DefaultConfig(), rt, registry, store, nil)

	ts := httptest.NewServer(srv.Handler())
	tr := &testRelay{server: srv, http: ts, store: store, registry: registry, readings: readings}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return tr
}

// connect dials the relay and consumes the "full" snapshot.
func (tr *testRelay) connect(t *testing.T) (*websocket.Conn, model.Snapshot) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(tr.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var msg struct {
		Type router.MessageType `json:"type"`
		Data model.Snapshot     `json:"data"`
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if msg.Type != router.TypeFull {
		t.Fatalf("first message type = %q, want full", msg.Type)
	}
	return conn, msg.Data
}

func (tr *testRelay) waitViewers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tr.registry.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("viewers = %d, want %d", tr.registry.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

// expectSilence fails if conn receives anything within d. The connection
// is unusable afterwards because gorilla treats a read timeout as fatal.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("unexpected frame: %s", data)
	}
}

func TestServer_Snapshot(t *testing.T) {
	tr := newTestRelay(t)
	tr.store.ApplyMetrics(model.Metrics{"cpu": 33})
	tr.store.ApplyTicker([]model.TickerItem{{ShortKey: "ETH", Label: "Ether"}})

	_, snap := tr.connect(t)

	if snap.Metrics["cpu"] != 33 {
		t.Errorf("metrics.cpu = %v, want 33", snap.Metrics["cpu"])
	}
	if snap.JarvisState != model.DefaultAssistantState() {
		t.Errorf("jarvisState = %+v, want defaults", snap.JarvisState)
	}
	if len(snap.TickerItems) != 1 || snap.TickerItems[0].ShortKey != "ETH" {
		t.Errorf("tickerItems = %+v, want ETH", snap.TickerItems)
	}
	if snap.NetworkStatus != "Connected" || snap.EncryptionStatus != "AES-256" {
		t.Errorf("status = %q/%q, want Connected/AES-256", snap.NetworkStatus, snap.EncryptionStatus)
	}
}

func TestServer_FanOutExcludesSender(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	b, _ := tr.connect(t)
	c, _ := tr.connect(t)
	tr.waitViewers(t, 3)

	frame := `{"type":"log","data":{"id":"log-1","timestamp":"10:00:00","level":"info","message":"hi"}}`
	send(t, a, frame)

	for _, conn := range []*websocket.Conn{b, c} {
		if got := readFrame(t, conn); got != frame {
			t.Errorf("got %s, want %s", got, frame)
		}
	}
	expectSilence(t, a, 100*time.Millisecond)
}

func TestServer_Toggle(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	b, _ := tr.connect(t)
	tr.waitViewers(t, 2)

	send(t, a, `{"command":"toggle","key":"muteMic","value":true}`)

	var msg struct {
		Type router.MessageType   `json:"type"`
		Data model.AssistantState `json:"data"`
	}
	if err := json.Unmarshal([]byte(readFrame(t, b)), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != router.TypeState {
		t.Errorf("type = %q, want state", msg.Type)
	}
	want := model.AssistantState{Mode: model.ModeIdle, MuteMic: true, ConversationalMode: true}
	if msg.Data != want {
		t.Errorf("state = %+v, want %+v", msg.Data, want)
	}
}

func TestServer_HealthUpdateIsolated(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	b, _ := tr.connect(t)
	tr.waitViewers(t, 2)

	send(t, a, `{"command":"health_update","type":"pain","level":2}`)

	select {
	case r := <-tr.readings:
		if r.Metric != "pain" || r.Level != 2 {
			t.Errorf("reading = %s/%v, want pain/2", r.Metric, r.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not receive the reading")
	}
	expectSilence(t, b, 100*time.Millisecond)
}

func TestServer_MalformedKeepsConnection(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	b, _ := tr.connect(t)
	tr.waitViewers(t, 2)

	send(t, a, `{{{ not json`)
	if err := a.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	frame := `{"type":"metrics","data":{"cpu":12}}`
	send(t, a, frame)

	if got := readFrame(t, b); got != frame {
		t.Errorf("got %s, want %s", got, frame)
	}
	if tr.registry.Len() != 2 {
		t.Errorf("viewers = %d, want 2", tr.registry.Len())
	}
}

func TestServer_LateJoinerSeesState(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	b, _ := tr.connect(t)
	tr.waitViewers(t, 2)

	send(t, a, `{"type":"state","data":{"mode":"listening"}}`)
	readFrame(t, b)

	_, snap := tr.connect(t)
	if snap.JarvisState.Mode != model.ModeListening {
		t.Errorf("mode = %q, want listening", snap.JarvisState.Mode)
	}
}

func TestServer_DisconnectRemovesViewer(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	tr.connect(t)
	tr.waitViewers(t, 2)

	a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.Close()

	tr.waitViewers(t, 1)
}

func TestServer_HealthEndpoint(t *testing.T) {
	tr := newTestRelay(t)

	resp, err := http.Get(tr.http.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	ts, err := time.Parse(time.RFC3339Nano, body.Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q: %v", body.Timestamp, err)
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("timestamp %v is stale", ts)
	}
}

func TestServer_StatsEndpoint(t *testing.T) {
	tr := newTestRelay(t)
	tr.connect(t)
	tr.waitViewers(t, 1)

	resp, err := http.Get(tr.http.URL + "/debug/stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Viewers  int          `json:"viewers"`
		Accepted int64        `json:"accepted"`
		Router   router.Stats `json:"router"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Viewers != 1 {
		t.Errorf("viewers = %d, want 1", body.Viewers)
	}
	if body.Accepted != 1 {
		t.Errorf("accepted = %d, want 1", body.Accepted)
	}
}

func TestServer_Shutdown(t *testing.T) {
	tr := newTestRelay(t)
	a, _ := tr.connect(t)
	tr.waitViewers(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if tr.registry.Len() != 0 {
		t.Errorf("viewers = %d, want 0", tr.registry.Len())
	}

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after shutdown = %v, want normal close", err)
	}

	resp, err := http.Get(tr.http.URL + "/ws")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after shutdown = %d, want 503", resp.StatusCode)
	}
}

// upgradedPeer returns a started Peer over a real connection that was not
// accepted by the relay's own handler, plus the client end.
func upgradedPeer(t *testing.T) (*connection.Peer, *websocket.Conn) {
	t.Helper()

	upgraded := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		upgraded <- c
	}))
	t.Cleanup(ts.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var conn *websocket.Conn
	select {
	case conn = <-upgraded:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for upgrade")
	}

	peer := connection.NewPeer(conn, connection.DefaultPeerConfig(), nil)
	peer.Start()
	t.Cleanup(func() {
		peer.Close()
		peer.Wait()
	})
	return peer, client
}

func TestServer_ShutdownClosesUnattachedPeer(t *testing.T) {
	tr := newTestRelay(t)
	peer, client := upgradedPeer(t)

	// Upgraded but not yet attached when Shutdown starts.
	if !tr.server.track(peer) {
		t.Fatal("track before Shutdown = false, want true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case <-peer.Done():
	default:
		t.Error("peer should be closed by Shutdown")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("read after shutdown = %v, want normal close", err)
	}
}

func TestServer_TrackAfterShutdown(t *testing.T) {
	tr := newTestRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// A handler that passed the closing check before Shutdown and
	// finished its upgrade afterwards.
	peer, _ := upgradedPeer(t)
	if tr.server.track(peer) {
		t.Fatal("track after Shutdown = true, want false")
	}
	select {
	case <-peer.Done():
	default:
		t.Error("peer should be closed")
	}
	if tr.registry.Len() != 0 {
		t.Errorf("viewers = %d, want 0", tr.registry.Len())
	}
}
