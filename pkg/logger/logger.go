// Package logger holds the process-wide application and audit loggers.
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
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the application log and the optional audit stream.
type Config struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Rotation    Rotation    `json:"rotation"`
	Audit       AuditConfig `json:"audit"`
}

// Rotation is handed to lumberjack for file outputs. Zero fields take defaults.
type Rotation struct {
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`
}

// AuditConfig sends audit records to their own JSON file.
type AuditConfig struct {
	Enabled  bool     `json:"enabled"`
	Path     string   `json:"path"`
	Rotation Rotation `json:"rotation"`
}

type loggers struct {
	app   *slog.Logger
	audit *slog.Logger
	files []io.Closer
}

var (
	current atomic.Pointer[loggers]
	mu      sync.Mutex
)

var stdout = sync.OnceValue(func() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
})

// Init installs the global loggers. It may only run once per process so that
// child loggers created with Named never point at a closed file.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current.Load() != nil {
		return errors.New("logger already initialised")
	}

	state := &loggers{}
	var writers []io.Writer
	for _, path := range cfg.OutputPaths {
		w, err := state.open(path, cfg.Rotation)
		if err != nil {
			state.close()
			return err
		}
		writers = append(writers, w)
	}
	var out io.Writer = os.Stdout
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		state.app = slog.New(slog.NewTextHandler(out, opts))
	} else {
		state.app = slog.New(slog.NewJSONHandler(out, opts))
	}

	state.audit = state.app
	if cfg.Audit.Enabled {
		if strings.TrimSpace(cfg.Audit.Path) == "" {
			state.close()
			return errors.New("audit log path cannot be empty when enabled")
		}
		w, err := state.open(cfg.Audit.Path, cfg.Audit.Rotation)
		if err != nil {
			state.close()
			return err
		}
		state.audit = slog.New(slog.NewJSONHandler(w, nil)).With(slog.String("stream", "audit"))
	}

	current.Store(state)
	return nil
}

func (s *loggers) open(path string, rotation Rotation) (io.Writer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(rotation.MaxSizeMB, 100),
		MaxBackups: orDefault(rotation.MaxBackups, 7),
		MaxAge:     orDefault(rotation.MaxAgeDays, 30),
		Compress:   rotation.Compress,
	}
	s.files = append(s.files, f)
	return f, nil
}

func (s *loggers) close() error {
	var err error
	for _, f := range s.files {
		err = errors.Join(err, f.Close())
	}
	s.files = nil
	return err
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// L returns the application logger, or a stdout JSON logger before Init.
func L() *slog.Logger {
	if s := current.Load(); s != nil {
		return s.app
	}
	return stdout()
}

// Audit returns the audit logger. Without a dedicated audit file it is L().
func Audit() *slog.Logger {
	if s := current.Load(); s != nil {
		return s.audit
	}
	return stdout()
}

// Named tags L() with a component attribute.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes the rotating files. Loggers stay usable; lumberjack reopens on
// the next write.
func Sync() error {
	if s := current.Load(); s != nil {
		mu.Lock()
		defer mu.Unlock()
		return s.close()
	}
	return nil
}
