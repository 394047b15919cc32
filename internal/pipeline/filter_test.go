package pipeline

import (
	"testing"

	"github.com/murmurlabs/murmurd/internal/config"
)

func TestCleanStripsAnnotations(t *testing.T) {
	f := NewFilter(config.FilterConfig{StripAnnotations: true})

	cases := []struct {
		in   string
		want string
	}{
		{"hello world", "hello world"},
		{"[BLANK_AUDIO]", ""},
		{"hello [inaudible] world", "hello world"},
		{"(coughs) so anyway", "so anyway"},
		{"  spaced   out \t text \n", "spaced out text"},
		{"[music] (laughter) [silence]", ""},
	}
	for _, tc := range cases {
		if got := f.Clean(tc.in); got != tc.want {
			t.Fatalf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCleanKeepsAnnotationsWhenDisabled(t *testing.T) {
	f := NewFilter(config.FilterConfig{StripAnnotations: false})
	if got := f.Clean("hello [pause] world"); got != "hello [pause] world" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestCleanAppliesReplacements(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		StripAnnotations: true,
		Replacements: map[string]string{
			"comma":    ",",
			"murmur d": "murmurd",
		},
	})
	got := f.Clean("type murmur d comma please")
	if got != "type murmurd , please" {
		t.Fatalf("unexpected output %q", got)
	}
}
