package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Service string
	Env     string
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// File, when set, sends logs to a size rotated file instead of stdout.
	File       string
	MaxSizeMB  int
	MaxBackups int
	// Output overrides the destination. Tests use it to capture lines.
	Output io.Writer
}

// ParseLevel maps a level name onto slog levels, defaulting to info.
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

func (o Options) writer() io.Writer {
	if o.Output != nil {
		return o.Output
	}
	if file := strings.TrimSpace(o.File); file != "" {
		maxSize := o.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		return &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSize,
			MaxBackups: o.MaxBackups,
			Compress:   true,
		}
	}
	return os.Stdout
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(opts.writer(), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{
		slog.String("service", strings.TrimSpace(opts.Service)),
	}
	if env := strings.TrimSpace(opts.Env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withAttrs := handler.WithAttrs(attrs)

	base := slog.New(withAttrs)
	slog.SetDefault(base)

	// Bridge the standard library logger so net/http server errors keep the
	// same shape.
	stdBridge := slog.NewLogLogger(withAttrs, slog.LevelInfo)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
