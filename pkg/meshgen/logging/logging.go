// Package logging is the shared logging layer for the meshgen CLI and TUI.
// Every component gets a named logger; records go to a rotating file under
// $XDG_STATE_HOME/meshgen, optionally to stderr, and, in TUI mode, to an
// in-memory ring buffer the log panel renders.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("launcher").Info("tool started", "pid", pid)
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel enables stderr output at the given level. Empty disables it.
	ConsoleLevel string

	// TUIMode suppresses console output and keeps recent entries in a
	// ring buffer for the log panel.
	TUIMode bool
}

// LogEntry is a single record as delivered to subscribers.
type LogEntry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger is a component-scoped logger. A Logger obtained before Init has no
// sinks and only feeds subscribers.
type Logger struct {
	component string
	sinks     []*log.Logger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(LevelDebug, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.log(LevelError, msg, args...) }

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	for _, sink := range l.sinks {
		sink.Log(level.charm(), msg, args...)
	}
	reg.publish(LogEntry{Time: time.Now(), Level: level, Component: l.component, Message: msg})
}

// With returns a logger that adds the given key/value pairs to every record.
func (l *Logger) With(args ...interface{}) *Logger {
	sinks := make([]*log.Logger, len(l.sinks))
	for i, sink := range l.sinks {
		sinks[i] = sink.With(args...)
	}
	return &Logger{component: l.component, sinks: sinks}
}

// levels is a Config with its level strings parsed.
type levels struct {
	base       Level
	overrides  map[string]Level
	console    Level
	consoleOn  bool
	bufferTail bool
}

func (lv levels) forComponent(component string) Level {
	if l, ok := lv.overrides[component]; ok {
		return l
	}
	return lv.base
}

func parseLevels(cfg Config) (levels, error) {
	base, err := ParseLevel(cfg.Level)
	if err != nil {
		return levels{}, fmt.Errorf("parsing log level: %w", err)
	}
	lv := levels{base: base, overrides: make(map[string]Level, len(cfg.Components)), bufferTail: cfg.TUIMode}
	for comp, s := range cfg.Components {
		l, err := ParseLevel(s)
		if err != nil {
			return levels{}, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		lv.overrides[comp] = l
	}
	// The TUI owns the terminal, so stderr output is never enabled there.
	if cfg.ConsoleLevel != "" && !cfg.TUIMode {
		if lv.console, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return levels{}, fmt.Errorf("parsing console level: %w", err)
		}
		lv.consoleOn = true
	}
	return lv, nil
}

// registry owns the process-wide logging state.
type registry struct {
	mu      sync.RWMutex
	levels  levels
	file    *RotatingWriter
	ring    *LogBuffer
	loggers map[string]*Logger
	subs    map[chan LogEntry]struct{}
}

var reg = &registry{
	loggers: make(map[string]*Logger),
	subs:    make(map[chan LogEntry]struct{}),
}

// build must be called with r.mu held.
func (r *registry) build(component string) *Logger {
	l := &Logger{component: component}
	if r.file == nil {
		return l
	}
	l.sinks = append(l.sinks, log.NewWithOptions(r.file, log.Options{
		Level:           r.levels.forComponent(component).charm(),
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	}))
	if r.levels.consoleOn {
		l.sinks = append(l.sinks, log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.levels.console.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		}))
	}
	return l
}

// rebuild must be called with r.mu held.
func (r *registry) rebuild() {
	for component := range r.loggers {
		r.loggers[component] = r.build(component)
	}
}

func (r *registry) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

func (r *registry) publish(entry LogEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.ring != nil {
		r.ring.Add(entry)
	}
	for ch := range r.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Init configures the logging system. It may be called again to reconfigure;
// loggers handed out earlier are rebuilt in place.
func Init(cfg Config) error {
	lv, err := parseLevels(cfg)
	if err != nil {
		return err
	}
	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if err := reg.closeFile(); err != nil {
		return err
	}
	reg.levels = lv
	reg.ring = nil
	if lv.bufferTail {
		reg.ring = NewLogBuffer(DefaultBufferSize)
	}

	w, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		reg.rebuild()
		return fmt.Errorf("creating log writer: %w", err)
	}
	reg.file = w
	reg.rebuild()
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	reg.mu.RLock()
	l, ok := reg.loggers[component]
	reg.mu.RUnlock()
	if ok {
		return l
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if l, ok := reg.loggers[component]; ok {
		return l
	}
	l = reg.build(component)
	reg.loggers[component] = l
	return l
}

// Close flushes and closes the log file and ends every subscription.
func Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for ch := range reg.subs {
		close(ch)
		delete(reg.subs, ch)
	}
	err := reg.closeFile()
	reg.levels = levels{}
	reg.loggers = make(map[string]*Logger)
	return err
}

// Subscribe returns a buffered channel receiving every log entry. Entries are
// dropped rather than blocking when the subscriber falls behind.
func Subscribe() <-chan LogEntry {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	ch := make(chan LogEntry, 100)
	reg.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel without closing it.
func Unsubscribe(ch <-chan LogEntry) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	for sub := range reg.subs {
		if sub == ch {
			delete(reg.subs, sub)
			return
		}
	}
}

// GetLogBuffer returns the TUI log buffer, or nil outside TUI mode.
func GetLogBuffer() *LogBuffer {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.ring
}

// DefaultLogPath returns $XDG_STATE_HOME/meshgen/meshgen.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "meshgen", "meshgen.log")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}
