package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStoreWriteAndRead(t *testing.T) {
	p := filepath.Join(t.TempDir(), "run", FileName)
	s := NewStore(p)

	id := "s1"
	if err := s.Write(Snapshot{
		Time:    1700000000.5,
		Session: SessionSnapshot{Active: true, SessionID: &id, BottleCounter: 3},
		Queues:  QueuesSnapshot{OutboxSize: 2},
	}); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	got, err := s.Read()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !got.Session.Active || got.Session.SessionID == nil || *got.Session.SessionID != "s1" {
		t.Fatalf("session mismatch: %+v", got.Session)
	}
	if got.Session.BottleCounter != 3 || got.Queues.OutboxSize != 2 {
		t.Fatalf("counters mismatch: %+v %+v", got.Session, got.Queues)
	}
	if got.UpdatedAt == "" {
		t.Fatalf("updated_at empty")
	}
	if _, err := os.Stat(p + ".lock"); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
}

func TestStoreConcurrentWritesStayValid(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), FileName))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.Write(Snapshot{Session: SessionSnapshot{BottleCounter: uint64(n*100 + j)}}))
			}
		}(i)
	}
	wg.Wait()

	_, err := s.Read()
	require.NoError(t, err)
}

func TestStoreReadErrors(t *testing.T) {
	_, err := NewStore("").Read()
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(p, []byte("{broken"), 0o644))
	_, err = NewStore(p).Read()
	require.Error(t, err)

	var nilStore *Store
	assert.NoError(t, nilStore.Write(Snapshot{}))
}

func TestBuildReflectsState(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	st := state.New(start)
	st.StartSession("s1")
	st.NextBottleCode(4)
	st.SetScannerConnected(true)
	st.RecordScannerLine("012345")
	st.SetWSConnected(true)
	st.RecordServerMessage(start.Add(10*time.Second), "PING")

	outbox := &queue.FIFO[protocol.Message]{}
	outbox.Push(protocol.SessionStarted("s1"))
	commands := &queue.FIFO[protocol.Opcode]{}

	w := NewWriter(NewStore(""), st, Endpoints{
		ScannerPort: "/dev/ttyUSB0",
		ScannerBaud: 9600,
		ArduinoPort: "/dev/ttyACM0",
		ArduinoBaud: 115200,
		WSURL:       "wss://example.test/ws",
	}, outbox, commands, zerolog.Nop())
	w.now = func() time.Time { return start.Add(90 * time.Second) }

	snap := w.Build()
	assert.InDelta(t, 90.0, snap.UptimeSeconds, 1e-9)
	assert.True(t, snap.Session.Active)
	require.NotNil(t, snap.Session.SessionID)
	assert.Equal(t, "s1", *snap.Session.SessionID)
	assert.Equal(t, uint64(1), snap.Session.BottleCounter)
	assert.True(t, snap.Devices.Scanner.Connected)
	require.NotNil(t, snap.Devices.Scanner.LastLine)
	assert.Equal(t, "012345", *snap.Devices.Scanner.LastLine)
	assert.Nil(t, snap.Devices.Arduino.LastLine)
	assert.Equal(t, 115200, snap.Devices.Arduino.Baud)
	assert.True(t, snap.Websocket.Connected)
	require.NotNil(t, snap.Websocket.LastEvent)
	assert.Equal(t, "PING", *snap.Websocket.LastEvent)
	require.NotNil(t, snap.Websocket.LastServerMsgAt)
	assert.InDelta(t, float64(start.Add(10*time.Second).Unix()), *snap.Websocket.LastServerMsgAt, 1e-6)
	assert.Equal(t, 1, snap.Queues.OutboxSize)
	assert.Equal(t, 0, snap.Queues.ArduinoCommandQueue)
	assert.Equal(t, os.Getpid(), snap.Process.PID)
}

func TestBuildIdleStateUsesNulls(t *testing.T) {
	w := NewWriter(nil, state.New(time.Now()), Endpoints{}, nil, nil, zerolog.Nop())
	b, err := json.Marshal(w.Build())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	session := raw["session"].(map[string]any)
	assert.Nil(t, session["session_id"])
	ws := raw["websocket"].(map[string]any)
	assert.Nil(t, ws["last_server_msg_at"])
}

func TestWriterRunWritesUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := filepath.Join(t.TempDir(), FileName)
	st := state.New(time.Now())
	w := NewWriter(NewStore(p), st, Endpoints{}, nil, nil, zerolog.Nop())
	w.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(p)
		return err == nil
	}, time.Second, 2*time.Millisecond)

	st.StartSession("live")
	require.Eventually(t, func() bool {
		snap, err := NewStore(p).Read()
		return err == nil && snap.Session.SessionID != nil && *snap.Session.SessionID == "live"
	}, time.Second, 2*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
