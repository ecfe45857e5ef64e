package msgfmt

import (
	"strings"
	"testing"
)

func TestStripCitations(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`plain text`, `plain text`},
		{`<cite index="1">72°F and sunny</cite>`, `72°F and sunny`},
		{`before <cite a="b" c="d">middle</cite> after`, `before middle after`},
		{`<cite>one</cite> and <cite>two</cite>`, `one and two`},
	}
	for _, tt := range tests {
		if got := StripCitations(tt.in); got != tt.want {
			t.Errorf("StripCitations(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitBubbles(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"single message", []string{"single message"}},
		{"first || second", []string{"first", "second"}},
		{"a||b||c", []string{"a", "b", "c"}},
		{"keep || || this", []string{"keep", "this"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		got := SplitBubbles(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("SplitBubbles(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitBubbles(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestRenderPlainDropsFormatting(t *testing.T) {
	got := RenderPlain("This is **bold** and *italic* and `code`.")
	want := "This is bold and italic and code."
	if got != want {
		t.Errorf("RenderPlain = %q, want %q", got, want)
	}
}

func TestRenderPlainLinks(t *testing.T) {
	got := RenderPlain("See [the docs](https://example.com/docs) for more.")
	if !strings.Contains(got, "the docs (https://example.com/docs)") {
		t.Errorf("RenderPlain = %q, want link flattened to text (url)", got)
	}
}

func TestRenderPlainLists(t *testing.T) {
	got := RenderPlain("Options:\n\n- first\n- second\n")
	if !strings.Contains(got, "- first") || !strings.Contains(got, "- second") {
		t.Errorf("RenderPlain = %q, want dash list items preserved", got)
	}
}

func TestRenderPlainHeading(t *testing.T) {
	got := RenderPlain("# Forecast\n\nSunny all week.")
	if strings.Contains(got, "#") {
		t.Errorf("RenderPlain = %q, heading marker survived", got)
	}
	if !strings.Contains(got, "Forecast") || !strings.Contains(got, "Sunny all week.") {
		t.Errorf("RenderPlain = %q, content lost", got)
	}
}

func TestRenderCombinesStripAndFlatten(t *testing.T) {
	got := Render(`**Weather:** <cite index="2">72°F and sunny</cite>`)
	want := "Weather: 72°F and sunny"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderPlainPlainTextUntouched(t *testing.T) {
	got := RenderPlain("just a normal sentence")
	if got != "just a normal sentence" {
		t.Errorf("RenderPlain = %q", got)
	}
}
