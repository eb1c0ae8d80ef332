package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ComponentKey is the attribute naming the subsystem that produced a record.
const ComponentKey = "component"

// Audit log rotation defaults, applied when the config leaves them zero.
const (
	DefaultAuditMaxSizeMB  = 100
	DefaultAuditMaxBackups = 7
	DefaultAuditMaxAgeDays = 30
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	// Service is attached to every record when set.
	Service string
	Audit   AuditConfig
}

// AuditConfig controls where lifecycle transitions are recorded. When
// disabled, audit records go to the application logger with stream=audit.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *state
)

// Init builds the global loggers from cfg. Calling it again replaces the
// previous loggers and closes the files they held.
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	prev := current
	current = next
	mu.Unlock()

	slog.SetDefault(next.app)
	if prev != nil {
		return closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*state, error) {
	s := &state{}
	level := parseLevel(cfg.Level)

	out, err := s.outputs(cfg.OutputPaths)
	if err != nil {
		_ = closeAll(s.closers)
		return nil, err
	}
	s.app = slog.New(newHandler(cfg.Format, out, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
	if cfg.Service != "" {
		s.app = s.app.With(slog.String("service", cfg.Service))
	}

	if !cfg.Audit.Enabled {
		s.audit = s.app.With(slog.String("stream", "audit"))
		return s, nil
	}
	if cfg.Audit.Path == "" {
		_ = closeAll(s.closers)
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.Audit.Path,
		MaxSize:    orDefault(cfg.Audit.MaxSizeMB, DefaultAuditMaxSizeMB),
		MaxBackups: orDefault(cfg.Audit.MaxBackups, DefaultAuditMaxBackups),
		MaxAge:     orDefault(cfg.Audit.MaxAgeDays, DefaultAuditMaxAgeDays),
		Compress:   cfg.Audit.Compress,
	}
	s.closers = append(s.closers, rotator)
	s.audit = slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if cfg.Service != "" {
		s.audit = s.audit.With(slog.String("service", cfg.Service))
	}
	return s, nil
}

// outputs resolves the configured destinations. "stdout" and "stderr" are
// the process streams; anything else is a file opened for append.
func (s *state) outputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(path) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			s.closers = append(s.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

func load() *state {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		// stdout with defaults cannot fail.
		current, _ = build(Config{})
		slog.SetDefault(current.app)
	}
	return current
}

// L returns the application logger, initialising a stdout JSON logger on
// first use.
func L() *slog.Logger { return load().app }

// Audit returns the logger lifecycle transitions are written to.
func Audit() *slog.Logger { return load().audit }

// Sync closes the files held by the current loggers. Call it on shutdown.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	err := closeAll(current.closers)
	current.closers = nil
	return err
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String(ComponentKey, name))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
