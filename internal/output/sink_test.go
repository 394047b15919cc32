package output

import (
	"io"
	"log/slog"
	"testing"

	"github.com/murmurlabs/murmurd/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSelectsMode(t *testing.T) {
	if _, err := New(config.OutputConfig{Mode: "copy"}, testLogger()); err != nil {
		t.Fatalf("copy mode: %v", err)
	}
	if _, err := New(config.OutputConfig{Mode: "paste"}, testLogger()); err != nil {
		t.Fatalf("paste mode: %v", err)
	}
	if _, err := New(config.OutputConfig{Mode: "typewriter"}, testLogger()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
