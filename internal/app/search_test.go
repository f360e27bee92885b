package app

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("Whole Milk", 48); got != "Whole Milk" {
		t.Fatalf("short name should pass through, got %q", got)
	}

	got := truncate(strings.Repeat("a", 60), 10)
	if got != "aaaaaaaaa…" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	// Accented French product names must never be cut mid-rune.
	name := "Crème glacée à l'érable du Québec format familial"
	got := truncate(name, 20)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if want := 20; utf8.RuneCountInString(got) != want {
		t.Fatalf("expected %d runes, got %d (%q)", want, utf8.RuneCountInString(got), got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if format, err := parseOutputFormat(" JSON "); err != nil || format != outputFormatJSON {
		t.Fatalf("unexpected result: %q, %v", format, err)
	}
	if format, err := parseOutputFormat(""); err != nil || format != outputFormatTable {
		t.Fatalf("unexpected default: %q, %v", format, err)
	}
	if _, err := parseOutputFormat("yaml"); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
