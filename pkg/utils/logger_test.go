package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("debug mode returns development logger", func(t *testing.T) {
		logger, err := NewLogger(true)
		if err != nil {
			t.Fatalf("NewLogger(true) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(true) returned nil logger")
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug logger should enable debug level")
		}
		_ = logger.Sync()
	})

	t.Run("production mode returns production logger", func(t *testing.T) {
		logger, err := NewLogger(false)
		if err != nil {
			t.Fatalf("NewLogger(false) error: %v", err)
		}
		if logger == nil {
			t.Fatal("NewLogger(false) returned nil logger")
		}
		if logger.Core().Enabled(zapcore.DebugLevel) {
			t.Error("production logger should not enable debug level")
		}
		_ = logger.Sync()
	})
}

func TestSetDebug(t *testing.T) {
	logger, level, err := NewLeveledLogger(false)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	SetDebug(level, true)
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level after SetDebug(true)")
	}
	SetDebug(level, false)
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected info level after SetDebug(false)")
	}
}
