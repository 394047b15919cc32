package pipeline

import (
	"regexp"
	"strings"

	"github.com/murmurlabs/murmurd/internal/config"
)

// Speech engines emit non-lexical markers like "[BLANK_AUDIO]", "(coughs)"
// or "[inaudible]". They are noise in dictated text and are stripped whole.
var annotationPattern = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Filter deterministically cleans raw transcripts. It is pure text
// processing; the same input and config always produce the same output.
type Filter struct {
	stripAnnotations bool
	replacements     map[string]string
}

func NewFilter(cfg config.FilterConfig) *Filter {
	return &Filter{
		stripAnnotations: cfg.StripAnnotations,
		replacements:     cfg.Replacements,
	}
}

// Clean strips annotations, applies configured phrase replacements, and
// normalizes whitespace. An input of only annotations yields the empty
// string; callers decide whether that counts as a result.
func (f *Filter) Clean(text string) string {
	if f.stripAnnotations {
		text = annotationPattern.ReplaceAllString(text, " ")
	}
	for from, to := range f.replacements {
		if from == "" {
			continue
		}
		text = strings.ReplaceAll(text, from, to)
	}
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
