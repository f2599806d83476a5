package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitConfiguresGlobalLogger(t *testing.T) {
	t.Cleanup(func() {
		global = zap.NewNop()
	})

	if err := Init("debug"); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	if !Logger().Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected logger to enable debug level")
	}
}

func TestInitFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() {
		global = zap.NewNop()
	})

	if err := Init("nonsense"); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}

	if Logger().Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug level to stay disabled")
	}
	if !Logger().Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
}

func TestWithModuleAttachesModuleField(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(func() {
		global = zap.NewNop()
	})
	global = zap.New(core)

	WithModule("auth").Info("module test")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if module := entries[0].ContextMap()["module"]; module != "auth" {
		t.Fatalf("expected module field to be \"auth\", got %v", module)
	}
}
