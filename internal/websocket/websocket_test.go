package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newServerConnection returns the server side of a live websocket pair and
// the client side for reading what the server wrote.
func newServerConnection(t *testing.T, cfg ConnectionConfig) (*Connection, *websocket.Conn) {
	t.Helper()

	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverSide <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	conn := NewConnection(<-serverSide, cfg)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, client
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	conn, client := newServerConnection(t, DefaultConnectionConfig())

	if conn.IsAuthenticated() {
		t.Fatal("new connection should not be authenticated")
	}
	if err := conn.SetCredentials("host-1", types.ViewerHost, "s1"); err != nil {
		t.Fatalf("SetCredentials failed: %v", err)
	}
	if conn.GetUserID() != "host-1" || conn.GetRole() != types.ViewerHost || conn.GetSessionID() != "s1" {
		t.Errorf("unexpected credentials: %s %s %s", conn.GetUserID(), conn.GetRole(), conn.GetSessionID())
	}

	if err := conn.WriteJSON(types.BroadcastEvent{SessionID: "s1", Seq: 7, Type: types.BroadcastBoardUpdate}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got types.BroadcastEvent
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if got.Seq != 7 || got.Type != types.BroadcastBoardUpdate {
		t.Errorf("unexpected event: %+v", got)
	}
}

func TestConnection_CloseIsIdempotentAndStopsWriter(t *testing.T) {
	conn, client := newServerConnection(t, DefaultConnectionConfig())
	if err := conn.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	_ = conn.Close()
	_ = client.Close()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("writer goroutine did not exit")
	}

	if err := conn.WriteJSON(map[string]string{"a": "b"}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if err := conn.TrySend(map[string]string{"a": "b"}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed from TrySend, got %v", err)
	}
}

func TestConnection_InvalidJSON(t *testing.T) {
	conn, _ := newServerConnection(t, DefaultConnectionConfig())
	if err := conn.WriteJSON(make(chan int)); !errors.Is(err, ErrInvalidJSON) {
		t.Errorf("expected ErrInvalidJSON, got %v", err)
	}
}

func TestConnection_TrySendDropsWhenFull(t *testing.T) {
	// A connection whose writer is never started lets the buffer fill up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &Connection{id: "c1", writeCh: make(chan []byte, 1), writeTimeout: 20 * time.Millisecond, ctx: ctx, cancel: cancel}

	if err := conn.TrySend("first"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := conn.TrySend("second"); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("expected ErrSendBufferFull, got %v", err)
	}
	if err := conn.WriteJSON("third"); !errors.Is(err, ErrWriteTimeout) {
		t.Errorf("expected ErrWriteTimeout, got %v", err)
	}
}

func TestConnection_HoldParksFramesUntilRelease(t *testing.T) {
	conn, client := newServerConnection(t, DefaultConnectionConfig())
	conn.Hold()

	for _, seq := range []uint64{2, 3, 4} {
		if err := conn.TrySend(&types.BroadcastEvent{SessionID: "s1", Seq: seq, Type: types.BroadcastBoardUpdate}); err != nil {
			t.Fatalf("held TrySend failed: %v", err)
		}
	}

	snapshot := &types.BroadcastEvent{SessionID: "s1", Seq: 3, Type: types.BroadcastSnapshot}
	if err := conn.Release(snapshot, newerThan(snapshot.Seq)); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := conn.TrySend(&types.BroadcastEvent{SessionID: "s1", Seq: 5, Type: types.BroadcastBoardUpdate}); err != nil {
		t.Fatalf("TrySend after release failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []uint64
	for i := 0; i < 3; i++ {
		var ev types.BroadcastEvent
		if err := client.ReadJSON(&ev); err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		got = append(got, ev.Seq)
	}
	if got[0] != 3 || got[1] != 4 || got[2] != 5 {
		t.Errorf("expected snapshot 3 then 4 and 5, got %v", got)
	}
}

func TestConnection_ShutdownFlushesThenCloses(t *testing.T) {
	conn, client := newServerConnection(t, DefaultConnectionConfig())
	if err := conn.TrySend(types.BroadcastEvent{SessionID: "s1", Seq: 9, Type: types.BroadcastStatusChange}); err != nil {
		t.Fatalf("TrySend failed: %v", err)
	}
	conn.Shutdown("session ended")

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last types.BroadcastEvent
	if err := client.ReadJSON(&last); err != nil {
		t.Fatalf("queued frame lost: %v", err)
	}
	if last.Seq != 9 {
		t.Errorf("expected seq 9, got %d", last.Seq)
	}

	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure || closeErr.Text != "session ended" {
		t.Errorf("expected normal close with reason, got %v", err)
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("writer goroutine did not exit")
	}
}

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	registry := NewRegistry()

	if err := registry.RegisterConnection(nil); !errors.Is(err, ErrNilConnection) {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}

	host, _ := newServerConnection(t, DefaultConnectionConfig())
	if err := registry.RegisterConnection(host); !errors.Is(err, ErrConnectionNotAuthenticated) {
		t.Errorf("expected ErrConnectionNotAuthenticated, got %v", err)
	}

	_ = host.SetCredentials("host-1", types.ViewerHost, "s1")
	second, _ := newServerConnection(t, DefaultConnectionConfig())
	_ = second.SetCredentials("host-1", types.ViewerHost, "s1")
	player, _ := newServerConnection(t, DefaultConnectionConfig())
	_ = player.SetCredentials("p1", types.ViewerParticipant, "s2")

	for _, c := range []*Connection{host, second, player} {
		if err := registry.RegisterConnection(c); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	if n := len(registry.GetSessionConnections("s1")); n != 2 {
		t.Errorf("expected 2 connections in s1, got %d", n)
	}
	stats := registry.GetStats()
	if stats["total_connections"] != 3 || stats["active_sessions"] != 2 {
		t.Errorf("unexpected stats: %v", stats)
	}

	registry.UnregisterConnection(host)
	registry.UnregisterConnection(host)
	if n := len(registry.GetSessionConnections("s1")); n != 1 {
		t.Errorf("expected 1 connection after unregister, got %d", n)
	}

	if closed := registry.CloseSession("s1", "session ended"); closed != 1 {
		t.Errorf("expected 1 closed connection, got %d", closed)
	}
	registry.CloseAll()
	if stats := registry.GetStats(); stats["total_connections"] != 0 || stats["active_sessions"] != 0 {
		t.Errorf("expected empty registry, got %v", stats)
	}
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()
	conns := make([]*Connection, 10)
	for i := range conns {
		conns[i], _ = newServerConnection(t, DefaultConnectionConfig())
		_ = conns[i].SetCredentials("p", types.ViewerParticipant, "s1")
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			_ = registry.RegisterConnection(c)
			_ = registry.GetSessionConnections("s1")
		}(c)
	}
	wg.Wait()

	if n := len(registry.GetSessionConnections("s1")); n != 10 {
		t.Errorf("expected 10 connections, got %d", n)
	}
}

type fakeGate struct {
	viewer types.Viewer
	err    error
}

func (g *fakeGate) AuthorizeSubscription(ctx context.Context, r *http.Request, sessionID string) (types.Viewer, error) {
	if g.err != nil {
		return types.Viewer{}, g.err
	}
	return g.viewer, nil
}

func (g *fakeGate) Snapshot(ctx context.Context, viewer types.Viewer, sessionID string) (*types.BroadcastEvent, error) {
	return &types.BroadcastEvent{
		SessionID: sessionID,
		Seq:       3,
		Type:      types.BroadcastSnapshot,
		Payload:   map[string]any{"status": types.StatusActive},
	}, nil
}

func TestHandler_RejectsBeforeUpgrade(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{name: "missing session", query: "", status: http.StatusBadRequest},
		{name: "anonymous", query: "?session_id=s1", err: interfaces.ErrUnauthenticated, status: http.StatusUnauthorized},
		{name: "foreign host", query: "?session_id=s1", err: interfaces.ErrUnauthorized, status: http.StatusForbidden},
		{name: "unknown session", query: "?session_id=nope", err: interfaces.ErrSessionNotFound, status: http.StatusNotFound},
		{name: "store failure", query: "?session_id=s1", err: errors.New("disk gone"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(NewRegistry(), &fakeGate{err: tt.err}, DefaultHandlerConfig())
			rec := httptest.NewRecorder()
			h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestHandler_SubscribeReceivesSnapshotThenDeltas(t *testing.T) {
	registry := NewRegistry()
	gate := &fakeGate{viewer: types.Viewer{Kind: types.ViewerParticipant, ParticipantID: "p1", SessionID: "s1"}}
	h := NewHandler(registry, gate, DefaultHandlerConfig())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?session_id=s1", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer client.Close()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))

	var snapshot types.BroadcastEvent
	if err := client.ReadJSON(&snapshot); err != nil {
		t.Fatalf("reading snapshot failed: %v", err)
	}
	if snapshot.Type != types.BroadcastSnapshot || snapshot.Seq != 3 {
		t.Errorf("unexpected snapshot: %+v", snapshot)
	}

	deadline := time.Now().Add(time.Second)
	for len(registry.GetSessionConnections("s1")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conns := registry.GetSessionConnections("s1")
	if len(conns) != 1 {
		t.Fatalf("expected one registered subscriber, got %d", len(conns))
	}
	if conns[0].GetUserID() != "p1" || conns[0].GetRole() != types.ViewerParticipant {
		t.Errorf("unexpected subscriber identity %s/%s", conns[0].GetUserID(), conns[0].GetRole())
	}

	if err := conns[0].TrySend(types.BroadcastEvent{SessionID: "s1", Seq: 4, Type: types.BroadcastStateChange}); err != nil {
		t.Fatalf("TrySend failed: %v", err)
	}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("reading delta failed: %v", err)
	}
	var delta types.BroadcastEvent
	if err := json.Unmarshal(data, &delta); err != nil {
		t.Fatalf("invalid delta JSON: %v", err)
	}
	if delta.Seq != 4 {
		t.Errorf("expected seq 4, got %d", delta.Seq)
	}

	_ = client.Close()
	deadline = time.Now().Add(2 * time.Second)
	for len(registry.GetSessionConnections("s1")) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(registry.GetSessionConnections("s1")); n != 0 {
		t.Errorf("expected subscriber to be unregistered after disconnect, got %d", n)
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	cfg := DefaultHandlerConfig()
	cfg.AllowedOrigins = []string{"https://play.example.com"}
	h := NewHandler(NewRegistry(), &fakeGate{}, cfg)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	if h.checkOrigin(r) {
		t.Error("foreign origin should be rejected")
	}
	r.Header.Set("Origin", "https://play.example.com")
	if !h.checkOrigin(r) {
		t.Error("allowed origin should pass")
	}
}
