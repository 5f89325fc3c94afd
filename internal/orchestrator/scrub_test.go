package orchestrator

import (
	"strings"
	"testing"
)

func TestScrubResponse_StripsToolCallJSON(t *testing.T) {
	raw := `{"tool_call": {"name": "get_time", "args": {}}} It's 3pm.`
	got := scrubResponse(raw, "")
	if got != "It's 3pm." {
		t.Fatalf("scrubResponse() = %q, want %q", got, "It's 3pm.")
	}
}

func TestScrubResponse_RemovesHedgingPhrases(t *testing.T) {
	raw := "Let me check, I found that it's sunny outside today."
	got := scrubResponse(raw, "")
	if got == raw {
		t.Fatal("expected hedging phrases to be removed")
	}
	for _, phrase := range []string{"Let me check", "I found that"} {
		if strings.Contains(got, phrase) {
			t.Fatalf("expected %q to be removed from %q", phrase, got)
		}
	}
}

func TestScrubResponse_TooShortFallsBackToApology(t *testing.T) {
	got := scrubResponse(`{"a": 1}`, "")
	if got != scrubApology {
		t.Fatalf("scrubResponse() = %q, want apology", got)
	}
}

func TestScrubResponse_TooShortUsesCallerFallback(t *testing.T) {
	fallback := "The current date is Friday, January 2, 2026."
	got := scrubResponse(`{"a": 1}`, fallback)
	if got != fallback {
		t.Fatalf("scrubResponse() = %q, want %q", got, fallback)
	}
}

func TestScrubResponse_NormalizesWhitespace(t *testing.T) {
	raw := "Sure,    here's   your   answer."
	got := scrubResponse(raw, "")
	if strings.Contains(got, "  ") {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
}
