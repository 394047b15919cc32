package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.RingSeconds != 8 {
		t.Fatalf("expected default ring seconds, got %d", cfg.Audio.RingSeconds)
	}
	if cfg.VAD.FrameDurationMS != 20 {
		t.Fatalf("expected default frame duration, got %d", cfg.VAD.FrameDurationMS)
	}
	if cfg.Output.Mode != "copy" {
		t.Fatalf("expected default output mode copy, got %q", cfg.Output.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MURMUR_AUDIO_DEVICE", "usb-mic")
	t.Setenv("MURMUR_AUDIO_RING_SECONDS", "4")
	t.Setenv("MURMUR_VAD_AGGRESSIVENESS", "3")
	t.Setenv("MURMUR_VAD_FRAME_DURATION_MS", "30")
	t.Setenv("MURMUR_VAD_AUTO_STOP_SILENCE_MS", "1500")
	t.Setenv("MURMUR_STT_MODE", "exec")
	t.Setenv("MURMUR_STT_COMMAND", "whisper-cli --output-json")
	t.Setenv("MURMUR_ENHANCE_ENABLED", "true")
	t.Setenv("MURMUR_ENHANCE_MODE", "ollama")
	t.Setenv("MURMUR_ENHANCE_MODEL", "qwen2.5:3b")
	t.Setenv("MURMUR_OUTPUT_MODE", "paste")
	t.Setenv("MURMUR_RECORDING_MODE", "hold")
	t.Setenv("MURMUR_HISTORY_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Device != "usb-mic" {
		t.Fatalf("expected device override, got %q", cfg.Audio.Device)
	}
	if cfg.Audio.RingSeconds != 4 {
		t.Fatalf("expected ring seconds override, got %d", cfg.Audio.RingSeconds)
	}
	if cfg.VAD.Aggressiveness != 3 || cfg.VAD.FrameDurationMS != 30 {
		t.Fatalf("expected vad overrides, got %+v", cfg.VAD)
	}
	if cfg.VAD.AutoStopSilenceMS != 1500 {
		t.Fatalf("expected auto stop override, got %d", cfg.VAD.AutoStopSilenceMS)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command != "whisper-cli --output-json" {
		t.Fatalf("expected stt overrides, got %+v", cfg.STT)
	}
	if !cfg.Enhance.Enabled || cfg.Enhance.Model != "qwen2.5:3b" {
		t.Fatalf("expected enhance overrides, got %+v", cfg.Enhance)
	}
	if cfg.Output.Mode != "paste" {
		t.Fatalf("expected output mode override, got %q", cfg.Output.Mode)
	}
	if cfg.Recording.Mode != "hold" {
		t.Fatalf("expected recording mode override, got %q", cfg.Recording.Mode)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history disabled")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad aggressiveness", map[string]string{"MURMUR_VAD_AGGRESSIVENESS": "7"}},
		{"bad frame duration", map[string]string{"MURMUR_VAD_FRAME_DURATION_MS": "25"}},
		{"exec without command", map[string]string{"MURMUR_STT_MODE": "exec"}},
		{"bad output mode", map[string]string{"MURMUR_OUTPUT_MODE": "print"}},
		{"bad recording mode", map[string]string{"MURMUR_RECORDING_MODE": "latched"}},
		{"prompt missing placeholder", map[string]string{
			"MURMUR_ENHANCE_ENABLED": "true",
			"MURMUR_ENHANCE_PROMPT":  "fix this up",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "murmurd.yaml")
	body := []byte(`
audio:
  device: "pulse"
  ring_seconds: 6
vad:
  aggressiveness: 1
  silence_confirm_frames: 5
output:
  mode: paste
  restore_clipboard: false
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.Device != "pulse" || cfg.Audio.RingSeconds != 6 {
		t.Fatalf("expected file overrides, got %+v", cfg.Audio)
	}
	if cfg.VAD.SilenceConfirmFrames != 5 {
		t.Fatalf("expected silence confirm override, got %d", cfg.VAD.SilenceConfirmFrames)
	}
	if cfg.Output.Mode != "paste" || cfg.Output.RestoreClipboard {
		t.Fatalf("expected output overrides, got %+v", cfg.Output)
	}
	// Untouched sections keep their defaults.
	if cfg.VAD.FrameDurationMS != 20 {
		t.Fatalf("expected default frame duration, got %d", cfg.VAD.FrameDurationMS)
	}
}
