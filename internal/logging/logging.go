// Package logging owns the process-wide zap logger. Components take a named
// child of it; nothing else reads the global.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config selects the level, encoding and destination of log output.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // "" means stderr
}

// Init replaces the global logger. An unknown level falls back to info.
func Init(cfg Config) error {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if cfg.OutputPath != "" {
			// No escape codes in log files.
			zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	level.SetLevel(parseLevel(cfg.Level, zapcore.InfoLevel))
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	l, err := zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	set(l)
	return nil
}

// InitDefault installs a production logger on stderr.
func InitDefault() {
	l, _ := zap.NewProduction()
	set(l)
}

func set(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

func parseLevel(s string, fallback zapcore.Level) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fallback
	}
	return l
}

// SetLevel changes the level of the running logger. Unknown names are
// ignored.
func SetLevel(name string) {
	level.SetLevel(parseLevel(name, level.Level()))
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}

// L returns the global logger, installing the default one on first use.
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	InitDefault()
	return L()
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return L().Named(component)
}
