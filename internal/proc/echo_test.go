package proc

import (
	"testing"
	"time"
)

func TestEchoStripperElidesPrompt(t *testing.T) {
	s := newEchoStripper("implement issue 42", time.Second)

	out := s.process([]byte("implement issue 42\r\nWorking on it...\n"))
	if got := string(out); got != "Working on it...\n" {
		t.Errorf("process = %q, want %q", got, "Working on it...\n")
	}
}

func TestEchoStripperSplitAcrossChunks(t *testing.T) {
	s := newEchoStripper("hello world", time.Second)

	var out []byte
	for _, chunk := range []string{"hel", "lo wo", "rld", "real output"} {
		out = append(out, s.process([]byte(chunk))...)
	}
	if got := string(out); got != "real output" {
		t.Errorf("process = %q, want %q", got, "real output")
	}
}

func TestEchoStripperOnlyFirstOccurrence(t *testing.T) {
	s := newEchoStripper("abc", time.Second)

	out := s.process([]byte("abc"))
	out = append(out, s.process([]byte("abc"))...)
	if got := string(out); got != "abc" {
		t.Errorf("second occurrence must pass through, got %q", got)
	}
}

func TestEchoStripperAbandonsAfterTimeout(t *testing.T) {
	s := newEchoStripper("never echoed", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	input := "completely different output"
	out := s.process([]byte(input))
	if got := string(out); got != input {
		t.Errorf("after timeout output must pass through, got %q", got)
	}
}

func TestEchoStripperEmptyPrompt(t *testing.T) {
	s := newEchoStripper("", time.Second)
	out := s.process([]byte("anything\r\n"))
	if got := string(out); got != "anything\r\n" {
		t.Errorf("empty prompt must not filter, got %q", got)
	}
}

func TestEchoStripperPassesMismatchedBytes(t *testing.T) {
	s := newEchoStripper("expected", time.Second)

	// Output that never matches the prompt flows through untouched,
	// newlines included.
	out := s.process([]byte("zzz\r\nmoar\n"))
	if got := string(out); got != "zzz\r\nmoar\n" {
		t.Errorf("mismatched bytes must pass through, got %q", got)
	}
}
