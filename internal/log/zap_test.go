package log

import (
	"context"
	"testing"

	"github.com/modelguard/modelguard/pkg/types"
)

func TestNewLoggerReturnsStoredLogger(t *testing.T) {
	mock := &types.MockLogger{}
	ctx := WithLogger(context.Background(), mock)
	got := NewLogger(ctx)
	if got != mock {
		t.Errorf("NewLogger() = %v, want the logger stored in the context", got)
	}
}

func TestNewLoggerCreatesLogger(t *testing.T) {
	logger := NewLogger(context.Background())
	if logger == nil {
		t.Fatal("NewLogger() returned nil")
	}
	// Must not panic.
	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
}

func TestNewLoggerNilContextPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewLogger(nil) did not panic")
		}
	}()
	NewLogger(nil) //nolint:staticcheck
}
