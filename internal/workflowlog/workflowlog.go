// Package workflowlog hands out one structured logger per runtime component.
// Each component writes to its own rotating file, to the shared system.log
// and to the console.
package workflowlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	systemComponent = "system"
	maxSizeMB       = 2
	maxBackups      = 5
)

var componentSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

type Manager struct {
	dir     string
	level   zerolog.Level
	console io.Writer

	mu      sync.Mutex
	system  *lumberjack.Logger
	files   map[string]*lumberjack.Logger
	loggers map[string]zerolog.Logger
}

// New prepares dir for log files. A nil console disables console output.
func New(dir, level string, console io.Writer) (*Manager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("workflowlog: empty log dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workflowlog: mkdir: %w", err)
	}

	lvl := zerolog.InfoLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
		if err != nil {
			return nil, fmt.Errorf("workflowlog: %w", err)
		}
		lvl = parsed
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	m := &Manager{
		dir:     dir,
		level:   lvl,
		console: console,
		files:   make(map[string]*lumberjack.Logger),
		loggers: make(map[string]zerolog.Logger),
	}
	m.system = m.rotating(systemComponent)
	return m, nil
}

// ResolveDir picks the log directory: explicit value, then FANDOMAT_LOG_DIR,
// then ./logs (../logs when running from an installed app/ directory).
func ResolveDir(explicit string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("FANDOMAT_LOG_DIR")); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "logs"
	}
	if filepath.Base(wd) == "app" {
		return filepath.Join(filepath.Dir(wd), "logs")
	}
	return filepath.Join(wd, "logs")
}

func (m *Manager) Dir() string {
	if m == nil {
		return ""
	}
	return m.dir
}

// Logger returns the logger for component, creating its file on first use.
func (m *Manager) Logger(component string) zerolog.Logger {
	name := sanitizeComponent(component)
	if m == nil {
		return consoleLogger(os.Stdout).With().Str("component", name).Logger()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.loggers[name]; ok {
		return l
	}

	writers := []io.Writer{m.system}
	if name != systemComponent {
		f := m.rotating(name)
		m.files[name] = f
		writers = append(writers, f)
	}
	if m.console != nil {
		writers = append(writers, consoleWriter(m.console))
	}

	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(m.level).
		With().
		Timestamp().
		Str("component", name).
		Logger()
	m.loggers[name] = l
	return l
}

func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, f := range m.files {
		_ = f.Close()
		delete(m.files, k)
	}
	_ = m.system.Close()
}

func (m *Manager) rotating(name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(m.dir, name+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
}

func consoleLogger(out io.Writer) zerolog.Logger {
	return zerolog.New(consoleWriter(out)).With().Timestamp().Logger()
}

func sanitizeComponent(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "worker"
	}
	v = componentSanitizer.ReplaceAllString(v, "_")
	v = strings.Trim(v, "._-")
	if v == "" {
		return "worker"
	}
	return strings.ToLower(v)
}
