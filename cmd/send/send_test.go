package send

import (
	"strings"
	"testing"
)

func TestPrintable(t *testing.T) {
	if got := printable([]byte("hello\nworld")); got != "hello\nworld" {
		t.Errorf("expected text to be printed unchanged, got %q", got)
	}
	if got := printable([]byte{0, 1, 2}); got != "<3 bytes>" {
		t.Errorf("expected binary summary, got %q", got)
	}
	if got := printable([]byte(strings.Repeat("a", 300))); got != "<300 bytes>" {
		t.Errorf("expected long body summary, got %q", got)
	}
}
