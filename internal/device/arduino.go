package device

import (
	"context"

	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/serialport"
	"fandomat/internal/state"

	"github.com/rs/zerolog"
)

// Arduino writes actuator opcodes in queue order and logs whatever the
// firmware prints back.
type Arduino struct {
	link     link
	state    *state.State
	commands *queue.FIFO[protocol.Opcode]
}

func NewArduino(cfg Config, st *state.State, commands *queue.FIFO[protocol.Opcode], log zerolog.Logger) *Arduino {
	a := &Arduino{state: st, commands: commands}
	a.link = link{
		name:         "arduino",
		cfg:          cfg.withDefaults(),
		log:          log,
		setConnected: st.SetArduinoConnected,
		step:         a.step,
	}
	return a
}

// Run keeps the actuator link alive until ctx is cancelled.
func (a *Arduino) Run(ctx context.Context) error {
	return a.link.run(ctx)
}

func (a *Arduino) step(port serialport.Port, lr *serialport.LineReader) (bool, error) {
	wrote := false
	for {
		op, ok := a.commands.TryPop()
		if !ok {
			break
		}
		if _, err := port.Write(op.Line()); err != nil {
			// The command goes back to the head so order survives the reconnect.
			a.commands.PushFront(op)
			return false, &ioError{op: "write", err: err}
		}
		wrote = true
		metrics.ActuatorCommands.WithLabelValues(string(op)).Inc()
		a.link.log.Info().Str("opcode", string(op)).Msg("command sent")
	}

	line, ok, err := lr.ReadLine()
	if err != nil {
		return wrote, &ioError{op: "read", err: err}
	}
	if ok && line != "" {
		a.state.RecordArduinoLine(line)
		a.link.log.Info().Str("line", line).Msg("device says")
	}
	return wrote || ok, nil
}
