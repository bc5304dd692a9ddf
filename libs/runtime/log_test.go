package runtime

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	if got := ParseLevel("DEBUG"); got != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", got)
	}
	if got := ParseLevel(" warning "); got != slog.LevelWarn {
		t.Fatalf("expected warn, got %v", got)
	}
	if got := ParseLevel("nonsense"); got != slog.LevelInfo {
		t.Fatalf("expected info fallback, got %v", got)
	}
}
