// Package logging configures the process-wide slog logger.
//
// Records are JSON by default. File output goes through a size-rotating
// writer so long-running repl sessions do not grow the log without bound.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls where and how much is logged.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// Format is json or text.
	Format string `yaml:"format" toml:"format"`
	// FilePath enables file logging when non-empty.
	FilePath string `yaml:"file" toml:"file"`
	// MaxSizeMB triggers rotation of FilePath.
	MaxSizeMB int `yaml:"max_size_mb" toml:"max_size_mb"`
	// MaxFiles is how many rotated generations are kept.
	MaxFiles int `yaml:"max_files" toml:"max_files"`
	// WriteToStderr mirrors records to stderr.
	WriteToStderr bool `yaml:"stderr" toml:"stderr"`
}

func DefaultConfig() Config {
	return Config{
		Level:     "warn",
		Format:    "json",
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DefaultLogPath returns ~/.kbsearch/logs/kbsearch.log, or a path under the
// temp dir when the home directory cannot be resolved.
func DefaultLogPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "kbsearch", "kbsearch.log")
	}
	return filepath.Join(home, ".kbsearch", "logs", "kbsearch.log")
}

// Setup builds a logger from cfg. The returned cleanup flushes and closes
// the log file and must be called on shutdown. With neither a file nor
// stderr enabled, records are discarded.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	cleanup := func() {}

	if cfg.FilePath != "" {
		rw, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, rw)
		cleanup = func() {
			_ = rw.Sync()
			_ = rw.Close()
		}
	}
	if cfg.WriteToStderr {
		writers = append(writers, os.Stderr)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}

	return slog.New(newHandler(out, cfg)), cleanup, nil
}

// SetupDefault installs the logger built from cfg as slog's default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

func newHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
