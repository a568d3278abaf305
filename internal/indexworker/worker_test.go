package indexworker

import (
	"testing"
	"time"
)

func TestMeanPoolAveragesChunkVectors(t *testing.T) {
	chunks := [][]float32{{1, 3}, {3, 5}}
	got := meanPool(chunks)
	want := []float32{2, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("meanPool() = %v, want %v", got, want)
		}
	}
}

func TestMeanPoolEmptyIsNil(t *testing.T) {
	if meanPool(nil) != nil {
		t.Fatal("meanPool(nil) should be nil")
	}
}

func TestBackoffForAttemptDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, 1000 * time.Millisecond},
		{3, 2000 * time.Millisecond},
		{10, 30_000 * time.Millisecond},
	}
	for _, c := range cases {
		if got := backoffForAttempt(c.attempt); got != c.want {
			t.Errorf("backoffForAttempt(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestSanitizeOutboxErrorRedactsSecrets(t *testing.T) {
	in := "request failed: Authorization: Bearer sk-live-abc123 api_key=deadbeef"
	out := sanitizeOutboxError(in)
	if contains(out, "sk-live-abc123") || contains(out, "deadbeef") {
		t.Fatalf("sanitizeOutboxError did not redact secret material: %q", out)
	}
	if !contains(out, "[REDACTED]") {
		t.Fatalf("sanitizeOutboxError should emit [REDACTED] markers, got %q", out)
	}
}

func TestSanitizeOutboxErrorTruncatesLongText(t *testing.T) {
	long := make([]byte, maxOutboxErrorChars+100)
	for i := range long {
		long[i] = 'a'
	}
	out := sanitizeOutboxError(string(long))
	runes := []rune(out)
	if len(runes) != maxOutboxErrorChars+3 {
		t.Fatalf("sanitizeOutboxError should truncate to %d runes plus ellipsis, got %d", maxOutboxErrorChars, len(runes))
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
