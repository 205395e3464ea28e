package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/state"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeServer accepts websocket connections and hands them to the test.
type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	done  chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4), done: make(chan struct{})}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- c
		<-fs.done
		c.CloseNow()
	}))
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) Close() {
	close(fs.done)
	fs.srv.Close()
}

// accept waits for the engine to connect and checks its HELLO.
func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	var c *websocket.Conn
	select {
	case c = <-fs.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not connect")
	}

	var hello protocol.Hello
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Read(ctx, c, &hello))
	assert.Equal(t, protocol.NewHello(4, "secret-token"), hello)
	return c
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, v))
}

func receive(t *testing.T, c *websocket.Conn) protocol.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var m protocol.Message
	require.NoError(t, wsjson.Read(ctx, c, &m))
	return m
}

// barrier sends PING and waits for the PONG. The engine dispatches frames in
// order, so everything sent before has been handled once it returns.
func barrier(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, map[string]any{"type": "PING"})
	assert.Equal(t, protocol.Pong(), receive(t, c))
}

func popCommand(t *testing.T, q *queue.FIFO[protocol.Opcode]) protocol.Opcode {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	op, err := q.Pop(ctx)
	require.NoError(t, err)
	return op
}

type harness struct {
	engine   *Engine
	state    *state.State
	outbox   *queue.FIFO[protocol.Message]
	commands *queue.FIFO[protocol.Opcode]
	clock    *fakeClock
	server   *fakeServer
	stop     func()
}

var epoch = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:    state.New(epoch),
		outbox:   &queue.FIFO[protocol.Message]{},
		commands: &queue.FIFO[protocol.Opcode]{},
		clock:    &fakeClock{now: epoch},
		server:   newFakeServer(t),
	}
	h.engine = New(Config{
		URL:            h.server.URL(),
		FandomatID:     4,
		DeviceToken:    "secret-token",
		ReconnectDelay: 20 * time.Millisecond,
		WatchdogPeriod: time.Millisecond,
		SendRetryDelay: 5 * time.Millisecond,
	}, h.state, h.outbox, h.commands, zerolog.Nop())
	h.engine.now = h.clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("engine did not stop after cancel")
		}
		h.server.Close()
	}
	return h
}

func TestScenarioAcceptAluminum(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)
	require.Eventually(t, func() bool { return h.state.Snapshot().WSConnected }, time.Second, time.Millisecond)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	assert.Equal(t, protocol.SessionStarted("s1"), receive(t, c))
	assert.Equal(t, protocol.OpStart, popCommand(t, h.commands))
	assert.True(t, h.state.IsCurrent("s1"))

	// What the scanner worker queues for a scan during the session.
	h.outbox.Push(protocol.CheckBottle("s1", "012345"))
	assert.Equal(t, protocol.CheckBottle("s1", "012345"), receive(t, c))

	send(t, c, map[string]any{
		"type":       "BOTTLE_CHECK_RESULT",
		"session_id": "s1",
		"exist":      true,
		"bottle":     map[string]any{"material": "Aluminum"},
	})
	assert.Equal(t, protocol.OpAluminum, popCommand(t, h.commands))

	got := receive(t, c)
	assert.Equal(t, protocol.TypeBottleAccepted, got.Type)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "BTL-004-00001", got.Code)
	assert.Equal(t, "Aluminum", got.Material)
	assert.Equal(t, "2026-03-14T09:26:53.589793Z", got.Timestamp)
}

func TestScenarioUnknownBottleRejected(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	send(t, c, map[string]any{"type": "BOTTLE_CHECK_RESULT", "session_id": "s1", "exist": false})
	barrier(t, c)

	assert.Equal(t, protocol.OpReject, popCommand(t, h.commands))
	assert.Equal(t, 0, h.commands.Len())
	assert.Equal(t, uint64(0), h.state.Snapshot().BottleCounter)
	assert.True(t, h.state.IsCurrent("s1"))
}

func TestMaterialRouting(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	cases := []struct {
		bottle   any
		opcode   protocol.Opcode
		material string
	}{
		{map[string]any{"material": "PLASTIC"}, protocol.OpPlastic, "PLASTIC"},
		{map[string]any{}, protocol.OpPlastic, "plastic"},
		{map[string]any{"material": "glass"}, protocol.OpReject, "glass"},
		{map[string]any{"material": ""}, protocol.OpReject, ""},
		{map[string]any{"material": " plastic "}, protocol.OpReject, " plastic "},
	}
	for i, tc := range cases {
		send(t, c, map[string]any{"type": "BOTTLE_CHECK_RESULT", "session_id": "s1", "exist": true, "bottle": tc.bottle})
		assert.Equal(t, tc.opcode, popCommand(t, h.commands))
		got := receive(t, c)
		assert.Equal(t, protocol.TypeBottleAccepted, got.Type)
		assert.Equal(t, tc.material, got.Material)
		assert.Equal(t, protocol.BottleCode(4, uint64(i+1)), got.Code)
	}
}

func TestStaleResultAfterSessionReplaced(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "A"})
	assert.Equal(t, protocol.SessionStarted("A"), receive(t, c))

	// A second START_SESSION replaces A without a SESSION_END for it.
	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "B"})
	assert.Equal(t, protocol.SessionStarted("B"), receive(t, c))
	assert.Equal(t, protocol.OpStart, popCommand(t, h.commands))
	assert.Equal(t, protocol.OpStart, popCommand(t, h.commands))

	send(t, c, map[string]any{"type": "BOTTLE_CHECK_RESULT", "session_id": "A", "exist": true, "bottle": map[string]any{"material": "plastic"}})
	barrier(t, c)

	assert.Equal(t, 0, h.commands.Len())
	assert.Equal(t, 0, h.outbox.Len())
	assert.Equal(t, uint64(0), h.state.Snapshot().BottleCounter)
	assert.True(t, h.state.IsCurrent("B"))
}

func TestCancelSession(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	send(t, c, map[string]any{"type": "CANCEL_SESSION", "session_id": "other"})
	barrier(t, c)
	assert.True(t, h.state.IsCurrent("s1"))
	assert.Equal(t, 0, h.commands.Len())

	send(t, c, map[string]any{"type": "CANCEL_SESSION", "session_id": "s1"})
	assert.Equal(t, protocol.OpEnd, popCommand(t, h.commands))
	id, active := h.state.Session()
	assert.False(t, active)
	assert.Empty(t, id)

	send(t, c, map[string]any{"type": "CANCEL_SESSION", "session_id": "s1"})
	barrier(t, c)
	assert.Equal(t, 0, h.commands.Len())
}

func TestWatchdogEndsSilentSession(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	h.clock.Set(epoch.Add(89 * time.Second))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, h.state.IsCurrent("s1"))
	assert.Equal(t, 0, h.commands.Len())

	h.clock.Set(epoch.Add(90 * time.Second))
	assert.Equal(t, protocol.SessionEnd("s1"), receive(t, c))
	assert.Equal(t, protocol.OpEnd, popCommand(t, h.commands))
	_, active := h.state.Session()
	assert.False(t, active)
}

func TestServerActivityPostponesWatchdog(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	h.clock.Set(epoch.Add(60 * time.Second))
	send(t, c, map[string]any{"type": "OK"})
	barrier(t, c)

	h.clock.Set(epoch.Add(120 * time.Second))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, h.state.IsCurrent("s1"))

	h.clock.Set(epoch.Add(150 * time.Second))
	assert.Equal(t, protocol.SessionEnd("s1"), receive(t, c))
}

func TestWatchdogSkipsReplacedSession(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s2"})
	receive(t, c)
	popCommand(t, h.commands)
	popCommand(t, h.commands)

	h.clock.Set(epoch.Add(90 * time.Second))
	assert.Equal(t, protocol.SessionEnd("s2"), receive(t, c))
	assert.Equal(t, protocol.OpEnd, popCommand(t, h.commands))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.commands.Len())
	assert.Equal(t, 0, h.outbox.Len())
}

func TestMalformedAndUnknownFramesKeepConnection(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "OK"})
	barrier(t, c)
	assert.Equal(t, "PING", h.state.Snapshot().LastWSEventType)

	h.clock.Set(epoch.Add(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("{not json")))
	send(t, c, map[string]any{"type": "FIRMWARE_UPDATE", "url": "x"})
	send(t, c, map[string]any{"type": "ERROR", "error": "bad token"})
	barrier(t, c)

	snap := h.state.Snapshot()
	assert.True(t, snap.WSConnected)
	assert.Equal(t, "PING", snap.LastWSEventType)
	assert.True(t, snap.LastServerMessageAt.Equal(epoch.Add(time.Minute)))
	_, active := h.state.Session()
	assert.False(t, active)
}

func TestReconnectResendsHelloAndKeepsOutbox(t *testing.T) {
	h := newHarness(t)
	defer h.stop()
	c := h.server.accept(t)

	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)
	popCommand(t, h.commands)

	_ = c.Close(websocket.StatusInternalError, "restart")
	require.Eventually(t, func() bool { return !h.state.Snapshot().WSConnected }, 2*time.Second, time.Millisecond)

	h.outbox.Push(protocol.CheckBottle("s1", "777"))
	c2 := h.server.accept(t)
	assert.Equal(t, protocol.CheckBottle("s1", "777"), receive(t, c2))
	require.Eventually(t, func() bool { return h.state.Snapshot().WSConnected }, time.Second, time.Millisecond)

	// The watchdog died with the old connection; the session itself stays.
	h.clock.Set(epoch.Add(5 * time.Minute))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, h.state.IsCurrent("s1"))
	assert.Equal(t, 0, h.commands.Len())
}

func TestRunStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newHarness(t)
	c := h.server.accept(t)
	send(t, c, map[string]any{"type": "START_SESSION", "session_id": "s1"})
	receive(t, c)

	// stop closes the fake server, so only the engine's own goroutines
	// could still be around when the deferred check runs.
	h.stop()
	http.DefaultClient.CloseIdleConnections()
	assert.False(t, h.state.Snapshot().WSConnected)
}

func TestRunRetriesUnreachableServer(t *testing.T) {
	st := state.New(epoch)
	e := New(Config{
		URL:            "ws://127.0.0.1:1/ws",
		FandomatID:     4,
		DeviceToken:    "secret-token",
		ReconnectDelay: 5 * time.Millisecond,
		DialTimeout:    100 * time.Millisecond,
	}, st, &queue.FIFO[protocol.Message]{}, &queue.FIFO[protocol.Opcode]{}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.False(t, st.Snapshot().WSConnected)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: " ws://x "}.withDefaults()
	assert.Equal(t, "ws://x", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 90*time.Second, cfg.SessionTimeout)
	assert.Equal(t, time.Second, cfg.WatchdogPeriod)
	assert.Equal(t, 200*time.Millisecond, cfg.SendRetryDelay)
}
