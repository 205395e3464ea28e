// Package session keeps the websocket link to the session server and turns
// server decisions into actuator commands and outbound protocol messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/state"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultSessionTimeout = 90 * time.Second
	DefaultWatchdogPeriod = time.Second
	DefaultSendRetryDelay = 200 * time.Millisecond
	DefaultDialTimeout    = 10 * time.Second
)

type Config struct {
	URL         string
	FandomatID  int
	DeviceToken string

	ReconnectDelay time.Duration
	SessionTimeout time.Duration
	WatchdogPeriod time.Duration
	SendRetryDelay time.Duration
	DialTimeout    time.Duration

	// HTTPClient is used for the websocket handshake. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	c.URL = strings.TrimSpace(c.URL)
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = DefaultWatchdogPeriod
	}
	if c.SendRetryDelay <= 0 {
		c.SendRetryDelay = DefaultSendRetryDelay
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Engine is the only writer to the server connection and the only producer
// of actuator commands.
type Engine struct {
	cfg      Config
	state    *state.State
	outbox   *queue.FIFO[protocol.Message]
	commands *queue.FIFO[protocol.Opcode]
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg Config, st *state.State, outbox *queue.FIFO[protocol.Message], commands *queue.FIFO[protocol.Opcode], log zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		state:    st,
		outbox:   outbox,
		commands: commands,
		log:      log,
		now:      time.Now,
	}
}

// Run connects, serves and reconnects until ctx is cancelled. Connection
// failures are logged and retried; cancellation returns nil.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Str("url", e.cfg.URL).Int("fandomat_id", e.cfg.FandomatID).Msg("start")
	defer func() { e.log.Info().Msg("stopped") }()

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := e.serve(ctx)
		e.state.SetWSConnected(false)
		metrics.SetWSConnected(false)

		if ctx.Err() != nil {
			return nil
		}
		e.log.Error().Err(err).Dur("retry_in", e.cfg.ReconnectDelay).Msg("disconnected")

		if !sleepWithContext(ctx, e.cfg.ReconnectDelay) {
			return nil
		}
	}
}

// serve runs one connection from dial to teardown and returns why it ended.
func (e *Engine) serve(ctx context.Context) error {
	e.log.Info().Str("url", e.cfg.URL).Msg("connecting")

	dialCtx, cancelDial := context.WithTimeout(ctx, e.cfg.DialTimeout)
	ws, _, err := websocket.Dial(dialCtx, e.cfg.URL, &websocket.DialOptions{
		HTTPClient: e.cfg.HTTPClient,
		HTTPHeader: http.Header{"User-Agent": []string{"fandomat/" + protocol.Version}},
	})
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer ws.CloseNow()

	e.state.SetWSConnected(true)
	metrics.SetWSConnected(true)
	metrics.WSConnects.Inc()
	e.log.Info().Msg("connected")

	hello := protocol.NewHello(e.cfg.FandomatID, e.cfg.DeviceToken)
	if err := wsjson.Write(ctx, ws, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}
	metrics.WSMessagesOut.WithLabelValues(string(hello.Type)).Inc()
	e.log.Info().Int("fandomat_id", hello.FandomatID).Str("version", hello.Version).Msg("-> HELLO")

	connCtx, cancel := context.WithCancel(ctx)
	c := &conn{engine: e, ws: ws, ctx: connCtx}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.sendLoop()
	}()

	err = c.receiveLoop()

	cancel()
	wg.Wait()
	c.stopWatchdog()
	return err
}

// conn is the per-connection half of the engine. The watchdog handle is only
// touched by the receive loop and by teardown after it returned.
type conn struct {
	engine   *Engine
	ws       *websocket.Conn
	ctx      context.Context
	watchdog *watchdog
}

func (c *conn) sendLoop() {
	e := c.engine
	for {
		msg, err := e.outbox.Pop(c.ctx)
		if err != nil {
			return
		}
		if err := c.write(msg); err != nil {
			e.outbox.PushFront(msg)
			if c.ctx.Err() != nil {
				return
			}
			metrics.WSSendErrors.Inc()
			e.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("send failed, retrying")
			if !sleepWithContext(c.ctx, e.cfg.SendRetryDelay) {
				return
			}
		}
	}
}

func (c *conn) write(msg protocol.Message) error {
	if err := wsjson.Write(c.ctx, c.ws, msg); err != nil {
		return err
	}
	metrics.WSMessagesOut.WithLabelValues(string(msg.Type)).Inc()
	c.engine.log.Info().
		Str("type", string(msg.Type)).
		Str("session_id", msg.SessionID).
		Str("sku", msg.SKU).
		Str("code", msg.Code).
		Msg("-> " + string(msg.Type))
	return nil
}

func (c *conn) receiveLoop() error {
	for {
		_, raw, err := c.ws.Read(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(raw)
	}
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
