package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters, lumberjack semantics.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Level and Format are the slog-facing knobs of SlogConfig; kept as distinct string
// types (rather than reusing slog.Level/a bare string) so config decoding can validate
// them independently of slog's own zero values.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the application-wide structured logger returned by NewSlogger.
type SlogConfig struct {
	Level      Level  `json:"level" mapstructure:"level"`
	Format     Format `json:"format" mapstructure:"format"`
	Color      bool   `json:"color" mapstructure:"color"`
	TimeStamps bool   `json:"timestamps" mapstructure:"timestamps"`
	Source     bool   `json:"source" mapstructure:"source"`
}

// FileConfig describes per-process stdout/stderr file destinations. If StdoutPath/
// StderrPath are empty and Dir is set, files default to Dir/<name>.stdout.log and
// Dir/<name>.stderr.log. Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	StdoutPath string `json:"stdout_path" mapstructure:"stdout_path"`
	StderrPath string `json:"stderr_path" mapstructure:"stderr_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Config is the single unified logging configuration: Slog drives the application's own
// structured logger, File drives per-child-process log file destinations.
type Config struct {
	Slog SlogConfig `json:"slog" mapstructure:"slog"`
	File FileConfig `json:"file" mapstructure:"file"`
}

// NewSlogger builds the application-wide *slog.Logger described by c.Slog, writing to
// stdout. Color only applies to the text format.
func (c Config) NewSlogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.Level.slogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTimeAttr
	}

	var handler slog.Handler
	switch c.Slog.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		if c.Slog.Color {
			handler = NewColorTextHandler(os.Stdout, opts, c.Slog.TimeStamps)
		} else {
			handler = slog.NewTextHandler(os.Stdout, opts)
		}
	}
	return slog.New(handler)
}

func dropTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

// NewProcessLogger returns a *slog.Logger that writes child-process-scoped JSON lines
// into c.File's directory, named after name. Returns nil if no file destination is
// configured (Dir and both explicit paths empty).
func (c Config) NewProcessLogger(name string) *slog.Logger {
	out, _, err := c.File.Writers(name)
	if err != nil || out == nil {
		return nil
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: c.Slog.Level.slogLevel()}))
}

// Writers returns io.WriteClosers for stdout and stderr for the given process name.
// name may include an instance suffix (e.g., web-1).
func (c FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	var outW io.WriteCloser
	var errW io.WriteCloser
	if stdout != "" {
		outW = &lj.Logger{
			Filename:   stdout,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	if stderr != "" {
		errW = &lj.Logger{
			Filename:   stderr,
			MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   c.Compress,
		}
	}
	return outW, errW, nil
}

// StdoutFilePath returns the resolved stdout log path for name, applying the same
// Dir-fallback rule as Writers, without opening anything. Returns "" if no file
// destination is configured.
func (c FileConfig) StdoutFilePath(name string) string {
	if c.StdoutPath != "" {
		return c.StdoutPath
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	return ""
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
