package stt

import (
	"context"
	"fmt"

	"github.com/murmurlabs/murmurd/internal/config"
)

// Result captures transcriber output for one finalized audio file.
type Result struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts speech-recognition backends. The input is always a
// finalized WAV file path; the pipeline never streams partial audio here.
type Transcriber interface {
	Transcribe(ctx context.Context, wavPath string) (Result, error)
}

// FailureReason classifies transcription failures.
type FailureReason string

const (
	ReasonModelUnavailable FailureReason = "model_unavailable"
	ReasonFileUnreadable   FailureReason = "file_unreadable"
	ReasonEngine           FailureReason = "engine_error"
)

// Error is the typed failure surfaced by transcriber backends. Transcription
// failures are fatal to the run; the orchestrator does not retry.
type Error struct {
	Reason FailureReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transcription failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transcription failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New selects a backend from the closed set configured in cfg.
func New(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockTranscriber(), nil
	case "exec":
		return NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
