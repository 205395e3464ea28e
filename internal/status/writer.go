package status

import (
	"context"
	"os"
	"runtime"
	"time"

	"fandomat/internal/state"

	"github.com/rs/zerolog"
)

const DefaultInterval = time.Second

// Sizer is anything with a queue depth.
type Sizer interface {
	Len() int
}

// Endpoints are the configured device and server addresses shown next to
// their live state.
type Endpoints struct {
	ScannerPort string
	ScannerBaud int
	ArduinoPort string
	ArduinoBaud int
	WSURL       string
}

// Writer periodically renders State into the store. Write failures are
// logged and the next tick tries again.
type Writer struct {
	store     *Store
	state     *state.State
	endpoints Endpoints
	outbox    Sizer
	commands  Sizer
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewWriter(store *Store, st *state.State, endpoints Endpoints, outbox, commands Sizer, log zerolog.Logger) *Writer {
	return &Writer{
		store:     store,
		state:     st,
		endpoints: endpoints,
		outbox:    outbox,
		commands:  commands,
		interval:  DefaultInterval,
		log:       log,
		now:       time.Now,
	}
}

// Run writes a snapshot immediately and then every interval until ctx ends.
func (w *Writer) Run(ctx context.Context) error {
	w.log.Info().Str("path", w.store.Path()).Dur("interval", w.interval).Msg("start")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failing := false
	for {
		err := w.store.Write(w.Build())
		switch {
		case err != nil && !failing:
			w.log.Error().Err(err).Msg("status write failed")
			failing = true
		case err == nil && failing:
			w.log.Info().Msg("status write recovered")
			failing = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Build assembles a snapshot from the current state.
func (w *Writer) Build() Snapshot {
	now := w.now()
	st := w.state.Snapshot()

	snap := Snapshot{
		Time:          unixSeconds(now),
		UptimeSeconds: now.Sub(st.StartTime).Seconds(),
		OS: OSInfo{
			System:    runtime.GOOS,
			Arch:      runtime.GOARCH,
			GoVersion: runtime.Version(),
		},
		Process: ProcessInfo{PID: os.Getpid()},
		Session: SessionSnapshot{
			Active:        st.SessionActive,
			SessionID:     optional(st.SessionID),
			BottleCounter: st.BottleCounter,
		},
		Devices: DevicesSnapshot{
			Scanner: DeviceSnapshot{
				Connected: st.ScannerConnected,
				LastLine:  optional(st.LastScannerLine),
				Port:      w.endpoints.ScannerPort,
				Baud:      w.endpoints.ScannerBaud,
			},
			Arduino: DeviceSnapshot{
				Connected: st.ArduinoConnected,
				LastLine:  optional(st.LastArduinoLine),
				Port:      w.endpoints.ArduinoPort,
				Baud:      w.endpoints.ArduinoBaud,
			},
		},
		Websocket: WebsocketSnapshot{
			Connected: st.WSConnected,
			URL:       w.endpoints.WSURL,
			LastEvent: optional(st.LastWSEventType),
		},
		UpdatedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if host, err := os.Hostname(); err == nil {
		snap.OS.Hostname = host
	}
	if wd, err := os.Getwd(); err == nil {
		snap.Process.CWD = wd
	}
	if !st.LastServerMessageAt.IsZero() {
		ts := unixSeconds(st.LastServerMessageAt)
		snap.Websocket.LastServerMsgAt = &ts
	}
	if w.outbox != nil {
		snap.Queues.OutboxSize = w.outbox.Len()
	}
	if w.commands != nil {
		snap.Queues.ArduinoCommandQueue = w.commands.Len()
	}
	return snap
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
