package markdown

import (
	"strings"
	"testing"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**hi**", "<b>hi</b>"},
		{"italic", "*hi*", "<i>hi</i>"},
		{"strikethrough", "~~gone~~", "<s>gone</s>"},
		{"inline code", "run `go vet` now", "run <code>go vet</code> now"},
		{"heading", "# Title\n\nbody", "<b>Title</b>\n\nbody"},
		{"link", "[docs](https://example.com)", `<a href="https://example.com">docs</a>`},
		{"escapes html", "a <b> & c", "a &lt;b&gt; &amp; c"},
		{"plain", "just text", "just text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToTelegramHTML(tt.in); got != tt.want {
				t.Errorf("ToTelegramHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToTelegramHTMLCodeBlock(t *testing.T) {
	got := ToTelegramHTML("```\nfmt.Println(\"<hi>\")\n```")
	if !strings.Contains(got, "<pre>") || !strings.Contains(got, "</pre>") {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(got, "&lt;hi&gt;") {
		t.Errorf("code not escaped: %q", got)
	}
}

func TestToTelegramHTMLList(t *testing.T) {
	got := ToTelegramHTML("- one\n- two")
	if !strings.Contains(got, "• one") || !strings.Contains(got, "• two") {
		t.Errorf("got %q", got)
	}
}

func TestToTelegramHTMLOrderedList(t *testing.T) {
	got := ToTelegramHTML("1. first\n2. second")
	if !strings.Contains(got, "1. first") || !strings.Contains(got, "2. second") {
		t.Errorf("got %q", got)
	}
}

func TestToTelegramHTMLBlockquote(t *testing.T) {
	got := ToTelegramHTML("> quoted line")
	if got != "<blockquote>quoted line</blockquote>" {
		t.Errorf("got %q", got)
	}
}

func TestToTelegramHTMLMixed(t *testing.T) {
	got := ToTelegramHTML("# Status\n\nAll **green**, see `main.go`.\n")
	want := "<b>Status</b>\n\nAll <b>green</b>, see <code>main.go</code>."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
