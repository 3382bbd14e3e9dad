// Package logging builds the process-wide zap logger.
//
// The original Python bot (core/logger.py) wired loguru with a console sink
// and a rotating file sink under logs/. We keep that two-sink shape with
// zap: a human-readable console core and a JSON file core, both gated by
// level, built once at startup and passed by reference into every
// component instead of reached for as a package global.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls where and how verbosely the logger writes.
type Config struct {
	Level   string // debug|info|warn|error
	LogDir  string // directory for the engine.log file sink; empty disables it
	Console bool   // also write to stderr; stderr is always used when LogDir is empty
}

// New builds a *zap.Logger per Config. Never returns an error: a bad level
// string falls back to info, and a file sink that can't be opened is
// dropped silently in favor of console-only (logging must never be a
// reason the engine fails to start).
func New(cfg Config) *zap.Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	var cores []zapcore.Core

	consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	if cfg.Console || cfg.LogDir == "" {
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level))
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(cfg.LogDir, "engine.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
				cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.AddSync(f), level))
			}
		}
	}

	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...))
}
