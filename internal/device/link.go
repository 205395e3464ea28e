// Package device runs the two serial workers: the barcode scanner and the
// actuator controller. Both keep their link open across I/O failures and
// talk to the session engine only through the shared state and the queues.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fandomat/internal/metrics"
	"fandomat/internal/serialport"

	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultIdleSleep      = 10 * time.Millisecond
)

// Config describes one serial link.
type Config struct {
	Device         string
	Baud           int
	ReconnectDelay time.Duration
	IdleSleep      time.Duration
	// LogRaw adds the undecoded frame, quoted, to every line log.
	LogRaw bool
	// Open defaults to serialport.Open.
	Open serialport.OpenFunc
}

func (c Config) withDefaults() Config {
	c.Device = strings.TrimSpace(c.Device)
	if c.Baud <= 0 {
		c.Baud = 9600
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = DefaultIdleSleep
	}
	if c.Open == nil {
		c.Open = serialport.Open
	}
	return c
}

type ioError struct {
	op  string
	err error
}

func (e *ioError) Error() string { return fmt.Sprintf("%s: %v", e.op, e.err) }
func (e *ioError) Unwrap() error { return e.err }

// stepFunc does one iteration on an open link. busy reports whether a line
// was read or a command written, which skips the idle sleep.
type stepFunc func(port serialport.Port, lr *serialport.LineReader) (busy bool, err error)

// link is the reconnect loop shared by both workers.
type link struct {
	name         string
	cfg          Config
	log          zerolog.Logger
	setConnected func(bool)
	step         stepFunc
}

func (l *link) run(ctx context.Context) error {
	l.log.Info().Str("device", l.cfg.Device).Int("baud", l.cfg.Baud).Msg("start")
	defer func() { l.log.Info().Msg("stopped") }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		port, err := l.cfg.Open(l.cfg.Device, l.cfg.Baud)
		if err != nil {
			metrics.DeviceErrors.WithLabelValues(l.name, "open").Inc()
			l.log.Error().Err(err).Str("device", l.cfg.Device).Msg("open failed")
			if !sleepWithContext(ctx, l.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		l.markConnected(true)
		metrics.DeviceConnects.WithLabelValues(l.name).Inc()
		l.log.Info().Str("device", l.cfg.Device).Int("baud", l.cfg.Baud).Msg("port opened")

		err = l.stream(ctx, port)
		_ = port.Close()
		l.markConnected(false)

		if ctx.Err() != nil {
			return nil
		}

		op := "io"
		var ioErr *ioError
		if errors.As(err, &ioErr) {
			op = ioErr.op
		}
		metrics.DeviceErrors.WithLabelValues(l.name, op).Inc()
		l.log.Error().Err(err).Str("device", l.cfg.Device).Dur("retry_in", l.cfg.ReconnectDelay).Msg("link lost")

		if !sleepWithContext(ctx, l.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (l *link) stream(ctx context.Context, port serialport.Port) error {
	lr := serialport.NewLineReader(port)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		busy, err := l.step(port, lr)
		if err != nil {
			return err
		}
		if !busy && !sleepWithContext(ctx, l.cfg.IdleSleep) {
			return nil
		}
	}
}

func (l *link) markConnected(v bool) {
	l.setConnected(v)
	metrics.SetDeviceConnected(l.name, v)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
