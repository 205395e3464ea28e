package session

import (
	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
)

// handleFrame records server activity and dispatches one inbound frame.
// Undecodable frames still count as activity.
func (c *conn) handleFrame(raw []byte) {
	e := c.engine
	in, err := protocol.DecodeInbound(raw)
	if err != nil {
		e.state.RecordServerMessage(e.now(), "")
		metrics.WSMalformed.Inc()
		e.log.Warn().Err(err).Bytes("raw", truncate(raw, 256)).Msg("<- malformed frame dropped")
		return
	}

	e.state.RecordServerMessage(e.now(), string(in.Type))
	metrics.WSMessagesIn.WithLabelValues(string(in.Type)).Inc()
	e.log.Info().Str("type", string(in.Type)).Str("session_id", in.SessionID).Msg("<- " + string(in.Type))

	switch in.Type {
	case protocol.TypeOK:
	case protocol.TypeError:
		e.log.Error().Str("error", in.Error).Msg("server error")
	case protocol.TypePing:
		if err := c.write(protocol.Pong()); err != nil {
			metrics.WSSendErrors.Inc()
			e.log.Warn().Err(err).Msg("pong failed")
		}
	case protocol.TypeStartSession:
		c.startSession(in.SessionID)
	case protocol.TypeCancelSession:
		c.cancelSession(in.SessionID)
	case protocol.TypeBottleCheckResult:
		c.bottleCheckResult(in)
	default:
		e.log.Debug().Str("type", string(in.Type)).Msg("unknown message type ignored")
	}
}

// startSession replaces any active session without ending it on the server.
func (c *conn) startSession(sessionID string) {
	e := c.engine
	if !e.state.StartSession(sessionID) {
		e.log.Warn().Msg("START_SESSION without session_id ignored")
		return
	}
	metrics.SessionsStarted.Inc()
	e.log.Info().Str("session_id", sessionID).Msg("session started")

	e.outbox.Push(protocol.SessionStarted(sessionID))
	e.commands.Push(protocol.OpStart)
	c.restartWatchdog(sessionID)
}

// cancelSession is a no-op unless sessionID is the active session.
func (c *conn) cancelSession(sessionID string) {
	e := c.engine
	if !e.state.EndSession(sessionID) {
		e.log.Debug().Str("session_id", sessionID).Msg("cancel for inactive session ignored")
		return
	}
	metrics.SessionsEnded.WithLabelValues("cancel").Inc()
	e.log.Info().Str("session_id", sessionID).Msg("session cancelled")

	e.commands.Push(protocol.OpEnd)
	c.stopWatchdog()
}

func (c *conn) bottleCheckResult(in protocol.Inbound) {
	e := c.engine
	if !e.state.IsCurrent(in.SessionID) {
		metrics.StaleResults.Inc()
		e.log.Debug().Str("session_id", in.SessionID).Msg("stale check result dropped")
		return
	}

	if !in.Exist {
		e.commands.Push(protocol.OpReject)
		metrics.BottlesRejected.Inc()
		e.log.Info().Str("session_id", in.SessionID).Msg("bottle not found, rejected")
		return
	}

	material := in.Material()
	op := protocol.OpcodeForMaterial(material)
	e.commands.Push(op)

	code := e.state.NextBottleCode(e.cfg.FandomatID)
	e.outbox.Push(protocol.BottleAccepted(in.SessionID, code, material, e.now()))
	metrics.BottlesAccepted.WithLabelValues(string(op)).Inc()
	e.log.Info().
		Str("session_id", in.SessionID).
		Str("code", code).
		Str("material", material).
		Str("opcode", string(op)).
		Msg("bottle accepted")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
