package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New(false)
	if err != nil {
		t.Fatalf("New(false) failed: %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Production logger should not log debug")
	}

	d, err := New(true)
	if err != nil {
		t.Fatalf("New(true) failed: %v", err)
	}
	if !d.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Development logger should log debug")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("OrNop(nil) returned nil")
	}

	l, _ := New(false)
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
