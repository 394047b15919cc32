package enhance

import (
	"context"
	"fmt"
	"strings"

	"github.com/murmurlabs/murmurd/internal/config"
)

// Request describes one enhancement call. Prompt is a template holding the
// {{text}} placeholder.
type Request struct {
	Text        string
	Model       string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Enhancer transforms recognized text via a local language model. Callers
// bound each call with a context deadline; failure and timeout are always
// non-fatal to the pipeline, which falls back to the input text.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (string, error)
}

// RenderPrompt substitutes the text placeholder. If the template lacks the
// placeholder the text is appended so it is never silently lost.
func RenderPrompt(template, text string) string {
	if strings.Contains(template, "{{text}}") {
		return strings.ReplaceAll(template, "{{text}}", text)
	}
	return template + "\n\n" + text
}

// New selects a backend from the closed set configured in cfg.
func New(cfg config.EnhanceConfig) (Enhancer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEnhancer(), nil
	case "ollama":
		return NewOllamaEnhancer(cfg.Endpoint), nil
	default:
		return nil, fmt.Errorf("unknown enhance mode %q", cfg.Mode)
	}
}
