package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	Device          string `yaml:"device"` // empty means system default
	RingSeconds     int    `yaml:"ring_seconds"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	MeterIntervalMS int    `yaml:"meter_interval_ms"`
}

type VADConfig struct {
	Enabled              bool `yaml:"enabled"`
	Aggressiveness       int  `yaml:"aggressiveness"` // 0 (conservative) .. 3 (aggressive)
	FrameDurationMS      int  `yaml:"frame_duration_ms"`
	SpeechConfirmFrames  int  `yaml:"speech_confirm_frames"`
	SilenceConfirmFrames int  `yaml:"silence_confirm_frames"`
	AutoStopSilenceMS    int  `yaml:"auto_stop_silence_ms"`
	PreSpeechPaddingMS   int  `yaml:"pre_speech_padding_ms"`
	PostSpeechPaddingMS  int  `yaml:"post_speech_padding_ms"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type EnhanceConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Mode        string  `yaml:"mode"` // mock, ollama
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	Prompt      string  `yaml:"prompt"` // must contain the {{text}} placeholder
	TimeoutMS   int     `yaml:"timeout_ms"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type FilterConfig struct {
	StripAnnotations bool              `yaml:"strip_annotations"`
	Replacements     map[string]string `yaml:"replacements"`
}

type OutputConfig struct {
	Mode             string `yaml:"mode"` // copy, paste
	RestoreClipboard bool   `yaml:"restore_clipboard"`
}

type RecordingConfig struct {
	Mode          string `yaml:"mode"` // toggle, hold
	DataDir       string `yaml:"data_dir"`
	KeepAudio     bool   `yaml:"keep_audio"`
	MaxDurationMS int    `yaml:"max_duration_ms"`
}

type HistoryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	VAD         VADConfig       `yaml:"vad"`
	STT         STTConfig       `yaml:"stt"`
	Enhance     EnhanceConfig   `yaml:"enhance"`
	Filter      FilterConfig    `yaml:"filter"`
	Output      OutputConfig    `yaml:"output"`
	Recording   RecordingConfig `yaml:"recording"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "murmurd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8732,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Device:          "",
			RingSeconds:     8,
			FramesPerBuffer: 512,
			MeterIntervalMS: 100,
		},
		VAD: VADConfig{
			Enabled:              true,
			Aggressiveness:       2,
			FrameDurationMS:      20,
			SpeechConfirmFrames:  3,
			SilenceConfirmFrames: 10,
			AutoStopSilenceMS:    2000,
			PreSpeechPaddingMS:   300,
			PostSpeechPaddingMS:  200,
		},
		STT: STTConfig{
			Mode:      "mock",
			TimeoutMS: 45000,
		},
		Enhance: EnhanceConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			Prompt:      "Clean up the following dictated text, fixing punctuation only:\n\n{{text}}",
			TimeoutMS:   10000,
			Temperature: 0.2,
			MaxTokens:   512,
		},
		Filter: FilterConfig{
			StripAnnotations: true,
		},
		Output: OutputConfig{
			Mode:             "copy",
			RestoreClipboard: true,
		},
		Recording: RecordingConfig{
			Mode:          "toggle",
			DataDir:       "./data/recordings",
			KeepAudio:     true,
			MaxDurationMS: 120000,
		},
		History: HistoryConfig{
			Enabled:    true,
			Path:       "./data/murmur-history.db",
			MaxEntries: 1000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MURMUR_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MURMUR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MURMUR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MURMUR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MURMUR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MURMUR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MURMUR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "MURMUR_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "MURMUR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MURMUR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MURMUR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MURMUR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MURMUR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MURMUR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MURMUR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MURMUR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "MURMUR_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.RingSeconds, "MURMUR_AUDIO_RING_SECONDS")
	overrideInt(&cfg.Audio.FramesPerBuffer, "MURMUR_AUDIO_FRAMES_PER_BUFFER")
	overrideInt(&cfg.Audio.MeterIntervalMS, "MURMUR_AUDIO_METER_INTERVAL_MS")
	overrideBool(&cfg.VAD.Enabled, "MURMUR_VAD_ENABLED")
	overrideInt(&cfg.VAD.Aggressiveness, "MURMUR_VAD_AGGRESSIVENESS")
	overrideInt(&cfg.VAD.FrameDurationMS, "MURMUR_VAD_FRAME_DURATION_MS")
	overrideInt(&cfg.VAD.SpeechConfirmFrames, "MURMUR_VAD_SPEECH_CONFIRM_FRAMES")
	overrideInt(&cfg.VAD.SilenceConfirmFrames, "MURMUR_VAD_SILENCE_CONFIRM_FRAMES")
	overrideInt(&cfg.VAD.AutoStopSilenceMS, "MURMUR_VAD_AUTO_STOP_SILENCE_MS")
	overrideInt(&cfg.VAD.PreSpeechPaddingMS, "MURMUR_VAD_PRE_SPEECH_PADDING_MS")
	overrideInt(&cfg.VAD.PostSpeechPaddingMS, "MURMUR_VAD_POST_SPEECH_PADDING_MS")
	overrideString(&cfg.STT.Mode, "MURMUR_STT_MODE")
	overrideString(&cfg.STT.Command, "MURMUR_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "MURMUR_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "MURMUR_STT_LANGUAGE")
	overrideInt(&cfg.STT.TimeoutMS, "MURMUR_STT_TIMEOUT_MS")
	overrideBool(&cfg.Enhance.Enabled, "MURMUR_ENHANCE_ENABLED")
	overrideString(&cfg.Enhance.Mode, "MURMUR_ENHANCE_MODE")
	overrideString(&cfg.Enhance.Endpoint, "MURMUR_ENHANCE_ENDPOINT")
	overrideString(&cfg.Enhance.Model, "MURMUR_ENHANCE_MODEL")
	overrideString(&cfg.Enhance.Prompt, "MURMUR_ENHANCE_PROMPT")
	overrideInt(&cfg.Enhance.TimeoutMS, "MURMUR_ENHANCE_TIMEOUT_MS")
	overrideFloat(&cfg.Enhance.Temperature, "MURMUR_ENHANCE_TEMPERATURE")
	overrideInt(&cfg.Enhance.MaxTokens, "MURMUR_ENHANCE_MAX_TOKENS")
	overrideBool(&cfg.Filter.StripAnnotations, "MURMUR_FILTER_STRIP_ANNOTATIONS")
	overrideString(&cfg.Output.Mode, "MURMUR_OUTPUT_MODE")
	overrideBool(&cfg.Output.RestoreClipboard, "MURMUR_OUTPUT_RESTORE_CLIPBOARD")
	overrideString(&cfg.Recording.Mode, "MURMUR_RECORDING_MODE")
	overrideString(&cfg.Recording.DataDir, "MURMUR_RECORDING_DATA_DIR")
	overrideBool(&cfg.Recording.KeepAudio, "MURMUR_RECORDING_KEEP_AUDIO")
	overrideInt(&cfg.Recording.MaxDurationMS, "MURMUR_RECORDING_MAX_DURATION_MS")
	overrideBool(&cfg.History.Enabled, "MURMUR_HISTORY_ENABLED")
	overrideString(&cfg.History.Path, "MURMUR_HISTORY_PATH")
	overrideInt(&cfg.History.MaxEntries, "MURMUR_HISTORY_MAX_ENTRIES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.RingSeconds <= 0 {
		return errors.New("audio.ring_seconds must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.Audio.MeterIntervalMS <= 0 {
		return errors.New("audio.meter_interval_ms must be positive")
	}
	if cfg.VAD.Enabled {
		if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
			return errors.New("vad.aggressiveness must be between 0 and 3")
		}
		switch cfg.VAD.FrameDurationMS {
		case 10, 20, 30:
		default:
			return errors.New("vad.frame_duration_ms must be one of 10|20|30")
		}
		if cfg.VAD.SpeechConfirmFrames <= 0 {
			return errors.New("vad.speech_confirm_frames must be positive")
		}
		if cfg.VAD.SilenceConfirmFrames <= 0 {
			return errors.New("vad.silence_confirm_frames must be positive")
		}
		if cfg.VAD.AutoStopSilenceMS < 0 {
			return errors.New("vad.auto_stop_silence_ms must be >= 0")
		}
		if cfg.VAD.PreSpeechPaddingMS < 0 || cfg.VAD.PostSpeechPaddingMS < 0 {
			return errors.New("vad padding durations must be >= 0")
		}
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.TimeoutMS <= 0 {
		return errors.New("stt.timeout_ms must be positive")
	}
	if cfg.Enhance.Enabled {
		switch cfg.Enhance.Mode {
		case "mock", "ollama":
		default:
			return errors.New("enhance.mode must be one of mock|ollama")
		}
		if cfg.Enhance.Mode == "ollama" && cfg.Enhance.Endpoint == "" {
			return errors.New("enhance.endpoint must be set when mode=ollama")
		}
		if cfg.Enhance.TimeoutMS <= 0 {
			return errors.New("enhance.timeout_ms must be positive")
		}
		if !strings.Contains(cfg.Enhance.Prompt, "{{text}}") {
			return errors.New("enhance.prompt must contain the {{text}} placeholder")
		}
	}
	switch cfg.Output.Mode {
	case "copy", "paste":
	default:
		return errors.New("output.mode must be one of copy|paste")
	}
	switch cfg.Recording.Mode {
	case "toggle", "hold":
	default:
		return errors.New("recording.mode must be one of toggle|hold")
	}
	if cfg.Recording.DataDir == "" {
		return errors.New("recording.data_dir must not be empty")
	}
	if cfg.Recording.MaxDurationMS <= 0 {
		return errors.New("recording.max_duration_ms must be positive")
	}
	if cfg.History.Enabled {
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when history is enabled")
		}
		if cfg.History.MaxEntries < 0 {
			return errors.New("history.max_entries must be >= 0")
		}
	}
	return nil
}
