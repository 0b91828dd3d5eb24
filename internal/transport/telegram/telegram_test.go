package telegram

import (
	"strings"
	"testing"

	"snipebot/pkg/logx"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("line one is right here\n", 40)
	chunks := splitText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.Contains(c, "line one is right here"[:5]) && !strings.HasSuffix(c, "here") {
			t.Fatalf("chunk %d split mid-line: %q", i, c)
		}
	}
}

func TestSplitTextNoBoundary(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 250)
	chunks := splitText(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if total := len(chunks[0]) + len(chunks[1]) + len(chunks[2]); total != 250 {
		t.Fatalf("characters lost: %d", total)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token accepted")
	}
}
