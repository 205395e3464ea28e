package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fandomat/internal/config"
	"fandomat/internal/device"
	"fandomat/internal/metrics"
	"fandomat/internal/protocol"
	"fandomat/internal/queue"
	"fandomat/internal/serialport"
	"fandomat/internal/session"
	"fandomat/internal/state"
	"fandomat/internal/status"
	"fandomat/internal/workflowlog"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		exitErr(err)
	}
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(os.Stderr, opts.flags)
		return nil
	}
	if opts.listPorts {
		return listPorts(os.Stdout)
	}

	cfg, err := config.Load(opts.configPath, opts.envPath)
	if err != nil {
		return err
	}
	opts.apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.saveConfig {
		if err := config.Save(opts.configPath, cfg); err != nil {
			return err
		}
	}

	logs, err := workflowlog.New(workflowlog.ResolveDir(cfg.LogDir), cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	defer logs.Close()

	sys := logs.Logger("system")
	sys.Info().
		Str("version", protocol.Version).
		Str("logs", logs.Dir()).
		Str("scanner", cfg.ScannerPort).
		Str("arduino", cfg.ArduinoPort).
		Str("ws_url", cfg.WSURL).
		Int("fandomat_id", cfg.FandomatID).
		Str("device_token", config.MaskToken(cfg.DeviceToken)).
		Msg("starting fandomat runtime")
	if opts.saveConfig {
		sys.Info().Str("path", opts.configPath).Msg("config saved")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := state.New(time.Now())
	outbox := &queue.FIFO[protocol.Message]{}
	commands := &queue.FIFO[protocol.Opcode]{}

	scanner := device.NewScanner(device.Config{
		Device:         cfg.ScannerPort,
		Baud:           cfg.BaudrateScanner,
		ReconnectDelay: cfg.ReconnectDelay,
		LogRaw:         opts.raw,
	}, st, outbox, logs.Logger("scanner"))

	arduino := device.NewArduino(device.Config{
		Device:         cfg.ArduinoPort,
		Baud:           cfg.BaudrateArduino,
		ReconnectDelay: cfg.ReconnectDelay,
	}, st, commands, logs.Logger("arduino"))

	engine := session.New(session.Config{
		URL:            cfg.WSURL,
		FandomatID:     cfg.FandomatID,
		DeviceToken:    cfg.DeviceToken,
		ReconnectDelay: cfg.WSReconnectDelay,
		SessionTimeout: cfg.SessionTimeout,
	}, st, outbox, commands, logs.Logger("websocket"))

	writer := status.NewWriter(status.NewStore(cfg.StatusFile), st, status.Endpoints{
		ScannerPort: cfg.ScannerPort,
		ScannerBaud: cfg.BaudrateScanner,
		ArduinoPort: cfg.ArduinoPort,
		ArduinoBaud: cfg.BaudrateArduino,
		WSURL:       cfg.WSURL,
	}, outbox, commands, logs.Logger("status"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scanner.Run(gctx) })
	g.Go(func() error { return arduino.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			sys.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint enabled")
			if err := metrics.Serve(gctx, cfg.MetricsAddr); err != nil {
				sys.Error().Err(err).Msg("metrics endpoint stopped")
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		sys.Error().Err(err).Msg("runtime stopped with error")
		return err
	}
	sys.Info().Msg("shutdown complete")
	return nil
}

func listPorts(w io.Writer) error {
	ports, err := serialport.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
		return nil
	}
	for i, p := range ports {
		desc := p.Description
		if desc == "" {
			desc = "n/a"
		}
		fmt.Fprintf(w, "[%d] %s\t%s\n", i, p.Device, desc)
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
