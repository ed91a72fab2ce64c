package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"playsession/internal/broadcast"
	"playsession/internal/database"
	"playsession/internal/store/postgres"
	"playsession/internal/websocket"
	"playsession/pkg/interfaces"
	"playsession/pkg/types"
)

type mockConnection struct {
	sent     []interface{}
	shutdown string
}

func (m *mockConnection) ID() string                                          { return "c1" }
func (m *mockConnection) WriteJSON(v interface{}) error                       { return m.TrySend(v) }
func (m *mockConnection) TrySend(v interface{}) error                         { m.sent = append(m.sent, v); return nil }
func (m *mockConnection) Shutdown(reason string)                              { m.shutdown = reason }
func (m *mockConnection) Close() error                                        { return nil }
func (m *mockConnection) GetUserID() string                                   { return "p1" }
func (m *mockConnection) GetRole() string                                     { return types.ViewerParticipant }
func (m *mockConnection) GetSessionID() string                                { return "s1" }
func (m *mockConnection) IsAuthenticated() bool                               { return true }
func (m *mockConnection) SetCredentials(userID, role, sessionID string) error { return nil }

type mockSink struct{ delivered []*types.BroadcastEvent }

func (m *mockSink) Name() string { return "mock" }
func (m *mockSink) Deliver(ctx context.Context, event *types.BroadcastEvent) error {
	m.delivered = append(m.delivered, event)
	return nil
}

type mockPublisher struct{ calls int }

func (m *mockPublisher) Publish(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	m.calls++
}

// Both store backends must satisfy the complete repository contract.
var (
	_ interfaces.DatabaseManager = (*database.Manager)(nil)
	_ interfaces.DatabaseManager = (*postgres.Store)(nil)
)

func TestInterfaces_MocksSatisfyContracts(t *testing.T) {
	conn := &mockConnection{}
	registry := websocket.NewRegistry()
	assert.NoError(t, registry.RegisterConnection(conn))
	local := broadcast.NewRegistrySink(registry)
	assert.NoError(t, local.Deliver(context.Background(), &types.BroadcastEvent{SessionID: "s1", Type: types.BroadcastStatusChange, Payload: map[string]any{"status": types.StatusEnded}}))
	assert.Len(t, conn.sent, 1)
	assert.Equal(t, "session ended", conn.shutdown)
	assert.Empty(t, registry.GetSessionConnections("s1"))

	sink := &mockSink{}
	var bs interfaces.BroadcastSink = sink
	assert.NoError(t, bs.Deliver(context.Background(), &types.BroadcastEvent{Type: types.BroadcastStateChange}))
	assert.Len(t, sink.delivered, 1)

	pub := &mockPublisher{}
	var p interfaces.Publisher = pub
	p.Publish(context.Background(), "s1", types.BroadcastBoardUpdate, nil)
	assert.Equal(t, 1, pub.calls)
}

func TestInterfaces_ErrorsAreDistinct(t *testing.T) {
	errs := []error{
		interfaces.ErrSessionNotFound,
		interfaces.ErrNotFound,
		interfaces.ErrDuplicate,
		interfaces.ErrUnauthorized,
		interfaces.ErrUnauthenticated,
	}
	for i := range errs {
		for j := range errs {
			if i != j {
				assert.False(t, errors.Is(errs[i], errs[j]), "%v should not match %v", errs[i], errs[j])
			}
		}
	}
}
