package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultWSURL            = "wss://api.yaxshi.link/ws/fandomats"
	DefaultFandomatID       = 4
	DefaultBaudrate         = 9600
	DefaultReconnectDelay   = 2 * time.Second
	DefaultWSReconnectDelay = 5 * time.Second
	DefaultSessionTimeout   = 90 * time.Second
	DefaultStatusFile       = "status.json"
	DefaultLogLevel         = "info"
)

// Config is the resolved runtime configuration. The yaml keys match the
// persisted config.json, which yaml.v3 reads as well.
type Config struct {
	WSURL           string `yaml:"WS_URL"`
	FandomatID      int    `yaml:"FANDOMAT_ID"`
	DeviceToken     string `yaml:"DEVICE_TOKEN"`
	ScannerPort     string `yaml:"SCANNER_PORT,omitempty"`
	ArduinoPort     string `yaml:"ARDUINO_PORT,omitempty"`
	BaudrateScanner int    `yaml:"BAUDRATE_SCANNER,omitempty"`
	BaudrateArduino int    `yaml:"BAUDRATE_ARDUINO,omitempty"`

	// Durations are decoded from the file by fileDurations.
	ReconnectDelay   time.Duration `yaml:"-"`
	WSReconnectDelay time.Duration `yaml:"-"`
	SessionTimeout   time.Duration `yaml:"-"`

	StatusFile  string `yaml:"STATUS_FILE,omitempty"`
	LogDir      string `yaml:"LOG_DIR,omitempty"`
	LogLevel    string `yaml:"LOG_LEVEL,omitempty"`
	MetricsAddr string `yaml:"METRICS_ADDR,omitempty"`
}

func Defaults() Config {
	return Config{
		WSURL:            DefaultWSURL,
		FandomatID:       DefaultFandomatID,
		BaudrateScanner:  DefaultBaudrate,
		BaudrateArduino:  DefaultBaudrate,
		ReconnectDelay:   DefaultReconnectDelay,
		WSReconnectDelay: DefaultWSReconnectDelay,
		SessionTimeout:   DefaultSessionTimeout,
		StatusFile:       DefaultStatusFile,
		LogLevel:         DefaultLogLevel,
	}
}

// Load resolves configuration from defaults, the config file, the .env file
// and the process environment, later sources winning. Missing files are not
// an error. The result is not validated so callers can apply flags first.
func Load(configPath, envPath string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(configPath) != "" {
		if err := mergeFile(&cfg, configPath); err != nil {
			return Config{}, err
		}
	}

	fileVals := map[string]string{}
	if strings.TrimSpace(envPath) != "" {
		vals, err := godotenv.Read(envPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", envPath, err)
		}
		for k, v := range vals {
			fileVals[normalizeKey(k)] = v
		}
	}

	lookup := func(key string) string {
		return firstNonEmpty(os.Getenv(key), fileVals[key])
	}
	if err := applyLookup(&cfg, lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	var d fileDurations
	if err := yaml.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for _, f := range []struct {
		dst *time.Duration
		src *fileDuration
	}{
		{&cfg.ReconnectDelay, d.ReconnectDelay},
		{&cfg.WSReconnectDelay, d.WSReconnectDelay},
		{&cfg.SessionTimeout, d.SessionTimeout},
	} {
		if f.src != nil {
			*f.dst = time.Duration(*f.src)
		}
	}
	return nil
}

// fileDurations holds the timing keys of the config file. They accept the
// same forms as the environment: bare seconds (90, 1.5) or Go durations.
type fileDurations struct {
	ReconnectDelay   *fileDuration `yaml:"RECONNECT_DELAY"`
	WSReconnectDelay *fileDuration `yaml:"WS_RECONNECT_DELAY"`
	SessionTimeout   *fileDuration `yaml:"SESSION_TIMEOUT"`
}

type fileDuration time.Duration

func (d *fileDuration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", n.Line)
	}
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = fileDuration(v)
	return nil
}

func applyLookup(cfg *Config, lookup func(string) string) error {
	setString := func(dst *string, key string) {
		if v := lookup(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v := lookup(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}
	setDuration := func(dst *time.Duration, key string) error {
		v := lookup(key)
		if v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString(&cfg.WSURL, "WS_URL")
	setString(&cfg.DeviceToken, "DEVICE_TOKEN")
	setString(&cfg.ScannerPort, "SCANNER_PORT")
	setString(&cfg.ArduinoPort, "ARDUINO_PORT")
	setString(&cfg.StatusFile, "STATUS_FILE")
	setString(&cfg.LogDir, "LOG_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	for _, f := range []struct {
		dst *int
		key string
	}{
		{&cfg.FandomatID, "FANDOMAT_ID"},
		{&cfg.BaudrateScanner, "BAUDRATE_SCANNER"},
		{&cfg.BaudrateArduino, "BAUDRATE_ARDUINO"},
	} {
		if err := setInt(f.dst, f.key); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.ReconnectDelay, "RECONNECT_DELAY"},
		{&cfg.WSReconnectDelay, "WS_RECONNECT_DELAY"},
		{&cfg.SessionTimeout, "SESSION_TIMEOUT"},
	} {
		if err := setDuration(f.dst, f.key); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration accepts Go durations ("1.5s") and bare seconds ("90").
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.WSURL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return errors.New("WS_URL must start with ws:// or wss://")
	}
	if strings.TrimSpace(c.DeviceToken) == "" {
		return errors.New("DEVICE_TOKEN is empty")
	}
	if c.FandomatID < 0 {
		return errors.New("FANDOMAT_ID must not be negative")
	}
	if strings.TrimSpace(c.ScannerPort) == "" {
		return errors.New("SCANNER_PORT is empty")
	}
	if strings.TrimSpace(c.ArduinoPort) == "" {
		return errors.New("ARDUINO_PORT is empty")
	}
	if c.BaudrateScanner <= 0 || c.BaudrateArduino <= 0 {
		return errors.New("baud rates must be positive")
	}
	if c.ReconnectDelay <= 0 || c.WSReconnectDelay <= 0 || c.SessionTimeout <= 0 {
		return errors.New("delays and session timeout must be positive")
	}
	return nil
}

// savedConfig is the on-disk shape written by Save. Durations are strings
// so the file stays readable and decodes back through yaml.v3.
type savedConfig struct {
	WSURL            string `json:"WS_URL"`
	FandomatID       int    `json:"FANDOMAT_ID"`
	DeviceToken      string `json:"DEVICE_TOKEN"`
	ScannerPort      string `json:"SCANNER_PORT,omitempty"`
	ArduinoPort      string `json:"ARDUINO_PORT,omitempty"`
	BaudrateScanner  int    `json:"BAUDRATE_SCANNER,omitempty"`
	BaudrateArduino  int    `json:"BAUDRATE_ARDUINO,omitempty"`
	ReconnectDelay   string `json:"RECONNECT_DELAY,omitempty"`
	WSReconnectDelay string `json:"WS_RECONNECT_DELAY,omitempty"`
	SessionTimeout   string `json:"SESSION_TIMEOUT,omitempty"`
}

// Save writes the connection and device keys to path atomically as JSON.
// Timing keys are written only when they differ from the defaults.
func Save(path string, c Config) error {
	def := Defaults()
	out := savedConfig{
		WSURL:           c.WSURL,
		FandomatID:      c.FandomatID,
		DeviceToken:     c.DeviceToken,
		ScannerPort:     c.ScannerPort,
		ArduinoPort:     c.ArduinoPort,
		BaudrateScanner: c.BaudrateScanner,
		BaudrateArduino: c.BaudrateArduino,
	}
	if c.ReconnectDelay != def.ReconnectDelay {
		out.ReconnectDelay = c.ReconnectDelay.String()
	}
	if c.WSReconnectDelay != def.WSReconnectDelay {
		out.WSReconnectDelay = c.WSReconnectDelay.String()
	}
	if c.SessionTimeout != def.SessionTimeout {
		out.SessionTimeout = c.SessionTimeout.String()
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	b = append(b, '\n')
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}
	if err := renameio.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// MaskToken hides the middle of a device token for logs.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func normalizeKey(k string) string {
	k = strings.TrimSpace(strings.ToUpper(k))
	repl := strings.NewReplacer(" ", "_", ".", "_", "-", "_")
	return repl.Replace(k)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
