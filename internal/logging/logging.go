// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging wraps a zap sugared logger behind the small printf-style
// surface the rest of the engine calls (Infof/Debugf/Warnf/Errorf/Fatalf).
// Grounded on the teacher's internal/logging package's role (one global,
// JSON-structured logger configured once from config.Config), ported from
// slog to zap per the engine's wider use of go.uber.org/zap across the
// corpus's services.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the engine's logging surface. *Logger satisfies
// chainwatch.Logger and priceoracle.Logger without further adaptation.
type Logger struct {
	sugar *zap.SugaredLogger
}

var global *Logger

// Configure builds the process-wide logger at the given level
// ("debug", "info", "warn", "error"; unrecognized values fall back to
// "info") and installs it as the global logger.
func Configure(level string) (*Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.EncoderConfig.TimeKey = "timestamp"

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	global = &Logger{sugar: zl.Sugar().With("component", "distengine")}
	return global, nil
}

// GetLogger returns the process-wide logger, configuring it at "info"
// level first if Configure hasn't been called yet.
func GetLogger() *Logger {
	if global == nil {
		l, err := Configure("info")
		if err != nil {
			panic(err)
		}
		return l
	}
	return global
}

// With returns a child logger with the given key/value pairs attached
// to every subsequent line, mirroring zap's own With semantics.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sugar: l.sugar.With(args...)}
}

func (l *Logger) Debugf(template string, args ...any) { l.sugar.Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...any)   { l.sugar.Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...any)   { l.sugar.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...any)  { l.sugar.Errorf(template, args...) }
func (l *Logger) Fatalf(template string, args ...any)  { l.sugar.Fatalf(template, args...) }

// Sync flushes any buffered log entries; call via defer from main.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
