package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"fandomat/internal/config"

	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	envPath    string
	listPorts  bool
	saveConfig bool
	raw        bool
	help       bool

	flags *pflag.FlagSet

	scannerPort     string
	legacyPort      string
	arduinoPort     string
	baudrate        int
	baudrateScanner int
	baudrateArduino int
	reconnectDelay  time.Duration
	wsURL           string
	fandomatID      int
	statusFile      string
	logDir          string
	logLevel        string
	metricsAddr     string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("fandomat", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&o.configPath, "config", "config.json", "config file (JSON or YAML)")
	fs.StringVar(&o.envPath, "env-file", ".env", "dotenv file with config overrides")
	fs.BoolVar(&o.listPorts, "list-ports", false, "list available serial ports and exit")
	fs.BoolVar(&o.saveConfig, "save-config", false, "write the resolved ports and server settings to --config")
	fs.BoolVar(&o.raw, "raw", false, "log scanner frames as quoted raw bytes next to the decoded text")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")

	fs.StringVar(&o.scannerPort, "scanner-port", "", "scanner serial device, example /dev/ttyUSB0")
	fs.StringVar(&o.legacyPort, "port", "", "deprecated alias of --scanner-port")
	fs.StringVar(&o.arduinoPort, "arduino-port", "", "actuator serial device, example /dev/ttyACM0")
	fs.IntVar(&o.baudrate, "baudrate", config.DefaultBaudrate, "baud rate for both ports")
	fs.IntVar(&o.baudrateScanner, "baudrate-scanner", 0, "scanner baud rate (defaults to --baudrate)")
	fs.IntVar(&o.baudrateArduino, "baudrate-arduino", 0, "actuator baud rate (defaults to --baudrate)")
	fs.DurationVar(&o.reconnectDelay, "reconnect-delay", config.DefaultReconnectDelay, "delay before reopening a failed serial link")
	fs.StringVar(&o.wsURL, "ws-url", "", "session server websocket URL")
	fs.IntVar(&o.fandomatID, "fandomat-id", 0, "fandomat id sent in HELLO")
	fs.StringVar(&o.statusFile, "status-file", "", "status snapshot path (default status.json)")
	fs.StringVar(&o.logDir, "log-dir", "", "log directory (default ./logs or $FANDOMAT_LOG_DIR)")
	fs.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, example :9108")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			o.help = true
			o.flags = fs
			return o, nil
		}
		return options{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return options{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	o.flags = fs
	return o, nil
}

// apply overlays flags given on the command line onto cfg. Flags left at
// their defaults do not override file or environment values.
func (o options) apply(cfg *config.Config) {
	changed := func(name string) bool { return o.flags != nil && o.flags.Changed(name) }

	if changed("port") && strings.TrimSpace(o.legacyPort) != "" {
		cfg.ScannerPort = strings.TrimSpace(o.legacyPort)
	}
	if changed("scanner-port") {
		cfg.ScannerPort = strings.TrimSpace(o.scannerPort)
	}
	if changed("arduino-port") {
		cfg.ArduinoPort = strings.TrimSpace(o.arduinoPort)
	}
	if changed("baudrate") {
		cfg.BaudrateScanner = o.baudrate
		cfg.BaudrateArduino = o.baudrate
	}
	if changed("baudrate-scanner") {
		cfg.BaudrateScanner = o.baudrateScanner
	}
	if changed("baudrate-arduino") {
		cfg.BaudrateArduino = o.baudrateArduino
	}
	if changed("reconnect-delay") {
		cfg.ReconnectDelay = o.reconnectDelay
	}
	if changed("ws-url") {
		cfg.WSURL = strings.TrimSpace(o.wsURL)
	}
	if changed("fandomat-id") {
		cfg.FandomatID = o.fandomatID
	}
	if changed("status-file") {
		cfg.StatusFile = strings.TrimSpace(o.statusFile)
	}
	if changed("log-dir") {
		cfg.LogDir = strings.TrimSpace(o.logDir)
	}
	if changed("log-level") {
		cfg.LogLevel = strings.TrimSpace(o.logLevel)
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = strings.TrimSpace(o.metricsAddr)
	}
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `fandomat runs the reverse-vending machine: scanner, actuator and the
session server link.

Settings come from --config, then --env-file, then the environment, then
flags. Run once with --save-config to keep the device ports.

Usage:
  fandomat [flags]

Flags:
%s`, fs.FlagUsages())
}
