package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger.
type Options struct {
	Name   string
	Level  string
	Format string // "json" or "text"
	Output io.Writer
}

var (
	root   hclog.Logger
	rootMu sync.RWMutex
)

// New builds an hclog logger from options.
func New(opts Options) hclog.Logger {
	name := opts.Name
	if name == "" {
		name = "vvf"
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(levelOrDefault(opts.Level)),
		JSONFormat: strings.EqualFold(opts.Format, "json"),
		Output:     out,
	})
}

func levelOrDefault(level string) string {
	if level == "" {
		if env := os.Getenv("LOG_LEVEL"); env != "" {
			return env
		}
		return "info"
	}
	return level
}

// SetDefault replaces the process wide logger.
func SetDefault(l hclog.Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}

// Default returns the process wide logger, creating one from the
// LOG_LEVEL and LOG_FORMAT environment variables on first use.
func Default() hclog.Logger {
	rootMu.RLock()
	l := root
	rootMu.RUnlock()
	if l != nil {
		return l
	}

	rootMu.Lock()
	defer rootMu.Unlock()
	if root == nil {
		root = New(Options{Format: os.Getenv("LOG_FORMAT")})
	}
	return root
}

// Named returns a sub logger of the default logger.
func Named(name string) hclog.Logger {
	return Default().Named(name)
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value interface{}
}

// Info logs informational messages. args are key/value pairs or Fields.
func Info(msg string, args ...interface{}) {
	Default().Info(msg, flatten(args)...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, flatten(args)...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Default().Error(msg, flatten(args)...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, flatten(args)...)
}

func flatten(args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case Field:
			out = append(out, v.Key, v.Value)
		case []Field:
			for _, f := range v {
				out = append(out, f.Key, f.Value)
			}
		default:
			out = append(out, a)
		}
	}
	return out
}

// Helper functions for common field types
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Err(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}
