package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/dbsync/internal/backup"
	"github.com/mschirtzinger/dbsync/internal/orchestrator"
)

type fakeSource struct {
	events chan orchestrator.Event

	mu      sync.Mutex
	syncing bool
	current *orchestrator.Operation
	unsubs  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan orchestrator.Event, 16)}
}

func (f *fakeSource) Subscribe(int) (<-chan orchestrator.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
	}
}

func (f *fakeSource) CurrentStatus() (orchestrator.Operation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return orchestrator.Operation{}, false
	}
	return *f.current, true
}

func (f *fakeSource) IsSyncing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncing
}

func startServer(t *testing.T, src Source) *Server {
	t.Helper()
	s, err := NewServer(src, &Config{Port: 0})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, ctx context.Context, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.GetAddr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewServer_RequiresSource(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestServerStartStop(t *testing.T) {
	src := newFakeSource()
	s, err := NewServer(src, &Config{Port: 0})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.NotEmpty(t, s.GetAddr())
	require.NoError(t, s.Stop())

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.unsubs)
}

func TestWelcomeStatus(t *testing.T) {
	src := newFakeSource()
	src.syncing = true
	src.current = &orchestrator.Operation{
		ID: "op-1", Kind: orchestrator.KindDBOnly, Trigger: orchestrator.TriggerAuto,
		Status: orchestrator.StatusRunning, Progress: 50,
	}
	s := startServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, s)

	msg := readMessage(t, ctx, conn)
	assert.Equal(t, MessageTypeStatus, msg.Type)

	var status StatusData
	require.NoError(t, json.Unmarshal(msg.Data, &status))
	assert.True(t, status.Syncing)
	require.NotNil(t, status.Operation)
	assert.Equal(t, "op-1", status.Operation.ID)
	assert.Equal(t, 50, status.Operation.Progress)

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)
}

func TestEventsAreBroadcast(t *testing.T) {
	src := newFakeSource()
	s := startServer(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := []*websocket.Conn{dial(t, ctx, s), dial(t, ctx, s)}
	for _, c := range conns {
		readMessage(t, ctx, c)
	}
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, 5*time.Second, 5*time.Millisecond)

	finished := time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC)
	src.events <- orchestrator.Event{Type: orchestrator.EventStarted, Operation: orchestrator.Operation{ID: "op-2", Kind: orchestrator.KindShutdown}}
	src.events <- orchestrator.Event{Type: orchestrator.EventFinished, Operation: orchestrator.Operation{
		ID: "op-2", Kind: orchestrator.KindShutdown, Status: orchestrator.StatusFailed,
		Err: backup.ErrDiskFull, FailedStep: orchestrator.StepBackup, FinishedAt: finished,
	}}

	for _, c := range conns {
		started := readMessage(t, ctx, c)
		assert.Equal(t, MessageTypeSyncStarted, started.Type)

		msg := readMessage(t, ctx, c)
		assert.Equal(t, MessageTypeSyncFinished, msg.Type)

		var op OperationData
		require.NoError(t, json.Unmarshal(msg.Data, &op))
		assert.Equal(t, "op-2", op.ID)
		assert.Equal(t, "failed", op.Status)
		assert.Equal(t, "disk_full", op.Category)
		assert.Equal(t, "backup", op.FailedStep)
		require.NotNil(t, op.FinishedAt)
		assert.True(t, op.FinishedAt.Equal(finished))
	}
}

func TestClientDisconnect(t *testing.T) {
	s := startServer(t, newFakeSource())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.GetAddr()+"/ws", nil)
	require.NoError(t, err)
	readMessage(t, ctx, conn)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestHealthEndpoint(t *testing.T) {
	src := newFakeSource()
	src.syncing = true
	s := startServer(t, src)

	resp, err := http.Get("http://" + s.GetAddr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthData
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthData{Status: "ok", Clients: 0, Syncing: true}, health)
}

func TestEventMessage_UnknownType(t *testing.T) {
	_, err := eventMessage(orchestrator.Event{Type: "bogus"})
	assert.Error(t, err)

	msg, err := eventMessage(orchestrator.Event{Type: orchestrator.EventProgress})
	require.NoError(t, err)
	assert.Equal(t, MessageTypeSyncProgress, msg.Type)
}
