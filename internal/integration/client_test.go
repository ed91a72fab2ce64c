package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playsession/internal/api"
	"playsession/internal/app"
	"playsession/internal/auth"
	"playsession/internal/config"
	"playsession/pkg/types"
)

const testSecret = "integration-secret-0123456789"

// instance is one running runtime under test.
type instance struct {
	app  *app.Application
	base string
}

func newConfig(t *testing.T, dbPath, redisAddr string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "play.db")
	}
	cfg.Database.Path = dbPath
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.RateLimit = 0
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Auth.JWTSecret = testSecret
	cfg.Broadcast.RedisAddr = redisAddr
	return cfg
}

func startInstance(t *testing.T, cfg *config.Config) *instance {
	t.Helper()
	application, err := app.NewApplication(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("instance did not stop")
		}
	})

	select {
	case <-application.Ready():
	case err := <-errCh:
		t.Fatalf("instance exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("instance never became ready")
	}
	return &instance{app: application, base: "http://" + application.Addr()}
}

func (in *instance) hostToken(t *testing.T, userID string, admin bool) string {
	t.Helper()
	tok, err := in.app.Resolver().IssueHostToken(userID, admin)
	require.NoError(t, err)
	return tok
}

// call sends a JSON request and decodes a JSON response into out when non-nil.
// credential is a host bearer token, or a participant token when prefixed
// with "p:".
func (in *instance) call(t *testing.T, method, path, credential string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, in.base+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(credential, "p:"):
		req.Header.Set(auth.HeaderParticipantToken, strings.TrimPrefix(credential, "p:"))
	case credential != "":
		req.Header.Set(auth.HeaderAuthorization, "Bearer "+credential)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(data, out), string(data))
	}
	return resp.StatusCode
}

// waitForSubscribers polls the health endpoint until n subscribers are live.
func (in *instance) waitForSubscribers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		var health api.HealthResponse
		in.call(t, http.MethodGet, "/health", "", nil, &health)
		return health.Connections["total_connections"] == n
	}, 3*time.Second, 20*time.Millisecond)
}

// subscriber is a websocket client that collects broadcast events.
type subscriber struct {
	conn   *gorillaws.Conn
	events chan types.BroadcastEvent
	errs   chan error

	mu      sync.Mutex
	lastSeq uint64
}

// subscribe dials the session channel. credential follows the same
// convention as call.
func (in *instance) subscribe(t *testing.T, sessionID, credential string) (*subscriber, types.BroadcastEvent) {
	t.Helper()
	u, err := url.Parse(in.base)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/api/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	if strings.HasPrefix(credential, "p:") {
		q.Set(auth.QueryToken, strings.TrimPrefix(credential, "p:"))
	} else {
		q.Set(auth.QueryAccessToken, credential)
	}
	u.RawQuery = q.Encode()

	conn, resp, err := gorillaws.DefaultDialer.Dial(u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)

	sub := &subscriber{
		conn:   conn,
		events: make(chan types.BroadcastEvent, 100),
		errs:   make(chan error, 1),
	}
	go sub.readLoop()
	t.Cleanup(func() { _ = conn.Close() })

	snapshot := sub.next(t)
	require.Equal(t, types.BroadcastSnapshot, snapshot.Type)
	sub.lastSeq = snapshot.Seq
	return sub, snapshot
}

func (s *subscriber) readLoop() {
	for {
		var ev types.BroadcastEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.errs <- err
			close(s.events)
			return
		}
		s.events <- ev
	}
}

func (s *subscriber) next(t *testing.T) types.BroadcastEvent {
	t.Helper()
	select {
	case ev, ok := <-s.events:
		if !ok {
			t.Fatalf("subscription closed: %v", <-s.errs)
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a broadcast")
	}
	return types.BroadcastEvent{}
}

// waitFor skips to the first event of type eventType. Every delta seen on
// the way must carry the next seq.
func (s *subscriber) waitFor(t *testing.T, eventType string) types.BroadcastEvent {
	t.Helper()
	for {
		ev := s.next(t)
		s.mu.Lock()
		want := s.lastSeq + 1
		s.lastSeq = ev.Seq
		s.mu.Unlock()
		require.Equal(t, want, ev.Seq, fmt.Sprintf("gap before %s", ev.Type))
		if ev.Type == eventType {
			return ev
		}
	}
}

// expectNone asserts nothing arrives for a short while.
func (s *subscriber) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-s.events:
		t.Fatalf("unexpected broadcast %s", ev.Type)
	case <-time.After(d):
	}
}
