package protocol

import "time"

// Progress is the fire-and-forget stage notification emitted by the pipeline
// on every transition. Dropping one never affects pipeline correctness.
type Progress struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechEvent is a VAD boundary event (speech_start, speech_end, auto_stop).
type SpeechEvent struct {
	RunID      string    `json:"run_id"`
	Type       string    `json:"type"`
	FrameIndex int       `json:"frame_index"`
	OffsetMS   int64     `json:"offset_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// LevelEvent carries metering statistics for UI feedback.
type LevelEvent struct {
	RunID     string    `json:"run_id"`
	RMS       float64   `json:"rms"`
	Peak      float64   `json:"peak"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptEvent is broadcast when a run reaches its final text.
type TranscriptEvent struct {
	RunID     string    `json:"run_id"`
	RawText   string    `json:"raw_text"`
	FinalText string    `json:"final_text"`
	Enhanced  bool      `json:"enhanced"`
	AudioPath string    `json:"audio_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectProgress   = "pipeline.progress"
	SubjectSpeech     = "vad.event"
	SubjectLevel      = "audio.level"
	SubjectTranscript = "pipeline.transcript"
)
