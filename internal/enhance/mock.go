package enhance

import (
	"context"
	"strings"
	"unicode"
)

type mockEnhancer struct{}

// NewMockEnhancer returns an Enhancer that trims whitespace and uppercases
// the first rune, enough for pipelines and tests to observe that the
// enhancement stage ran.
func NewMockEnhancer() Enhancer {
	return mockEnhancer{}
}

func (mockEnhancer) Enhance(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", nil
	}
	r := []rune(text)
	r[0] = unicode.ToUpper(r[0])
	return string(r), nil
}
