package device

import (
	"context"
	"strconv"

	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/serialport"
	"fandomat/internal/state"

	"github.com/rs/zerolog"
)

// Scanner reads barcodes and turns each one scanned during a session into a
// CHECK_BOTTLE request on the outbox.
type Scanner struct {
	link   link
	state  *state.State
	outbox *queue.FIFO[protocol.Message]
}

func NewScanner(cfg Config, st *state.State, outbox *queue.FIFO[protocol.Message], log zerolog.Logger) *Scanner {
	s := &Scanner{state: st, outbox: outbox}
	s.link = link{
		name:         "scanner",
		cfg:          cfg.withDefaults(),
		log:          log,
		setConnected: st.SetScannerConnected,
		step:         s.step,
	}
	return s
}

// Run keeps the scanner link alive until ctx is cancelled. Cancellation is
// normal shutdown and returns nil.
func (s *Scanner) Run(ctx context.Context) error {
	return s.link.run(ctx)
}

func (s *Scanner) step(_ serialport.Port, lr *serialport.LineReader) (bool, error) {
	raw, ok, err := lr.ReadRaw()
	if err != nil {
		return false, &ioError{op: "read", err: err}
	}
	if !ok {
		return false, nil
	}
	line := serialport.Decode(raw)
	if line == "" {
		return true, nil
	}

	log := s.link.log
	if s.link.cfg.LogRaw {
		log = log.With().Str("raw", strconv.Quote(raw)).Logger()
	}

	sessionID, active := s.state.RecordScannerLine(line)
	if !active {
		metrics.ScansTotal.WithLabelValues("idle").Inc()
		log.Info().Str("sku", line).Msg("scan ignored: no active session")
		return true, nil
	}

	metrics.ScansTotal.WithLabelValues("active").Inc()
	s.outbox.Push(protocol.CheckBottle(sessionID, line))
	log.Info().Str("session_id", sessionID).Str("sku", line).Msg("check bottle queued")
	return true, nil
}
