package reply

import "testing"

func TestCleanTextForTTS(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"**bold** text", "bold text"},
		{"*italic* text", "italic text"},
		{"__bold__ text", "bold text"},
		{"_italic_ text", "italic text"},
		{"* Your first name", "Your first name"},
		{"# Heading", "Heading"},
		{"[link](http://example.com)", "link"},
		{"line one\n\nline two", "line one line two"},
		{"a   b", "a b"},
	}

	for _, c := range cases {
		got := CleanTextForTTS(c.in)
		if got != c.want {
			t.Errorf("CleanTextForTTS(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCleanTextForTTSCodeFence(t *testing.T) {
	in := "before ```code block``` after"
	got := CleanTextForTTS(in)
	if got != "before after" {
		t.Errorf("expected code fence stripped, got %q", got)
	}
}

func TestCleanTextForTTSEmpty(t *testing.T) {
	if got := CleanTextForTTS(""); got != "" {
		t.Errorf("expected empty passthrough, got %q", got)
	}
}
