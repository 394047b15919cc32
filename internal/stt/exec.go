package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmurd/internal/config"
)

// execTranscriber shells out to a whisper-style CLI that accepts an audio
// file path and prints a JSON result on stdout.
type execTranscriber struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecTranscriber(cfg config.STTConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, wavPath string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := os.Stat(wavPath); err != nil {
		return Result{}, &Error{Reason: ReasonFileUnreadable, Err: err}
	}
	if t.cfg.ModelPath != "" {
		if _, err := os.Stat(t.cfg.ModelPath); err != nil {
			return Result{}, &Error{Reason: ReasonModelUnavailable, Err: err}
		}
	}

	base := t.cmd[0]
	cmdArgs := append([]string{}, t.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", wavPath)
	if t.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", t.cfg.ModelPath)
	}
	if t.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, &Error{Reason: ReasonEngine, Err: fmt.Errorf("%w: %s", err, stderr.String())}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, &Error{Reason: ReasonEngine, Err: fmt.Errorf("decode stt response: %w", err)}
	}
	return Result{Text: resp.Text, Confidence: resp.Confidence}, nil
}
