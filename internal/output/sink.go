package output

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"github.com/murmurlabs/murmurd/internal/config"
)

// Sink delivers final text to the user's focused application.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// New selects a delivery mode from the closed set configured in cfg.
func New(cfg config.OutputConfig, log *slog.Logger) (Sink, error) {
	switch cfg.Mode {
	case "copy":
		return &clipboardSink{log: log}, nil
	case "paste":
		return &pasteSink{restore: cfg.RestoreClipboard, log: log}, nil
	default:
		return nil, fmt.Errorf("unknown output mode %q", cfg.Mode)
	}
}

// clipboardSink places the text on the system clipboard and leaves pasting
// to the user.
type clipboardSink struct {
	log *slog.Logger
}

func (s *clipboardSink) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	s.log.Debug("text copied to clipboard", "chars", len(text))
	return nil
}

// pasteSink routes the text through the clipboard and injects the platform
// paste chord into the focused application. When restore is set the previous
// clipboard contents are put back after the keystroke settles.
type pasteSink struct {
	restore bool
	log     *slog.Logger
}

// pasteSettle is how long the focused application gets to consume the
// clipboard before we restore the previous contents.
const pasteSettle = 150 * time.Millisecond

func (s *pasteSink) Deliver(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var prev string
	if s.restore {
		saved, err := clipboard.ReadAll()
		if err != nil {
			// Empty or unreadable clipboard is not worth failing delivery over.
			s.log.Debug("could not read clipboard for restore", "error", err)
		} else {
			prev = saved
		}
	}

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := sendPasteChord(); err != nil {
		return fmt.Errorf("inject paste keystroke: %w", err)
	}

	if s.restore && prev != "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pasteSettle):
		}
		if err := clipboard.WriteAll(prev); err != nil {
			s.log.Warn("could not restore clipboard", "error", err)
		}
	}
	s.log.Debug("text pasted", "chars", len(text))
	return nil
}

func sendPasteChord() error {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return err
	}
	// Linux uinput needs a moment after the virtual device appears.
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
	kb.SetKeys(keybd_event.VK_V)
	if runtime.GOOS == "darwin" {
		kb.HasSuper(true)
	} else {
		kb.HasCTRL(true)
	}
	return kb.Launching()
}
