package session

import (
	"context"
	"time"

	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
)

// watchdog ends sessionID once the server has been silent for the session
// timeout.
type watchdog struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func (c *conn) restartWatchdog(sessionID string) {
	c.stopWatchdog()

	ctx, cancel := context.WithCancel(c.ctx)
	w := &watchdog{sessionID: sessionID, cancel: cancel, done: make(chan struct{})}
	c.watchdog = w

	go func() {
		defer close(w.done)
		c.engine.watch(ctx, sessionID)
	}()
}

// stopWatchdog cancels the live watchdog and waits for it to exit.
func (c *conn) stopWatchdog() {
	if c.watchdog == nil {
		return
	}
	c.watchdog.cancel()
	<-c.watchdog.done
	c.watchdog = nil
}

func (e *Engine) watch(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(e.cfg.WatchdogPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		idle := e.now().Sub(e.state.LastServerMessageAt())
		if idle < e.cfg.SessionTimeout {
			continue
		}

		// The session may have been replaced or cancelled since this
		// watchdog started; EndSession only clears it if it is still ours.
		if !e.state.EndSession(sessionID) {
			return
		}
		metrics.SessionsEnded.WithLabelValues("timeout").Inc()
		e.log.Warn().
			Str("session_id", sessionID).
			Dur("idle", idle).
			Msg("session timed out")

		e.outbox.Push(protocol.SessionEnd(sessionID))
		e.commands.Push(protocol.OpEnd)
		return
	}
}
