package board

import (
	"testing"

	"github.com/autodevhq/autodev/internal/assignment"
)

func TestDefaultMappingRoundTrip(t *testing.T) {
	m := DefaultMapping()

	tests := []struct {
		local assignment.Status
		board string
	}{
		{assignment.StatusInProgress, "In Progress"},
		{assignment.StatusDevComplete, "Dev Complete"},
		{assignment.StatusMerged, "Done"},
	}

	for _, tt := range tests {
		name, ok := m.ToBoard(tt.local)
		if !ok || name != tt.board {
			t.Errorf("ToBoard(%s) = %q, %v; want %q, true", tt.local, name, ok, tt.board)
		}
		back, ok := m.ToLocal(tt.board)
		if !ok {
			t.Errorf("ToLocal(%q) not mapped", tt.board)
			continue
		}
		// assigned and in-progress share a board column; the round trip
		// lands on in-progress.
		if tt.local == assignment.StatusInProgress && back != assignment.StatusInProgress {
			t.Errorf("ToLocal(%q) = %s, want in-progress", tt.board, back)
		}
	}
}

func TestMappingBlockedAndFailedAreReadOnly(t *testing.T) {
	m := DefaultMapping()

	// The board can move items into these columns, and reconciliation must
	// pick that up, but the orchestrator never writes them.
	if s, ok := m.ToLocal("Blocked"); !ok || s != assignment.StatusBlocked {
		t.Errorf("ToLocal(Blocked) = %s, %v; want blocked, true", s, ok)
	}
	if s, ok := m.ToLocal("Failed"); !ok || s != assignment.StatusFailed {
		t.Errorf("ToLocal(Failed) = %s, %v; want failed, true", s, ok)
	}
	if name, ok := m.ToBoard(assignment.StatusBlocked); ok {
		t.Errorf("ToBoard(blocked) = %q, want unmapped", name)
	}
	if name, ok := m.ToBoard(assignment.StatusFailed); ok {
		t.Errorf("ToBoard(failed) = %q, want unmapped", name)
	}
}

func TestMappingUnmappedStatusIsOpaque(t *testing.T) {
	m := DefaultMapping()

	for _, name := range []string{"Ready", "Todo", "Backlog", "In Review", ""} {
		if _, ok := m.ToLocal(name); ok {
			t.Errorf("ToLocal(%q) should be unmapped", name)
		}
	}
}

func TestMappingCompletedAliasesToMerged(t *testing.T) {
	m := DefaultMapping()
	s, ok := m.ToLocal("Completed")
	if !ok || s != assignment.StatusMerged {
		t.Errorf("ToLocal(Completed) = %s, %v; want merged, true", s, ok)
	}
}

func TestMappingReadyAndCompleteSets(t *testing.T) {
	m := DefaultMapping()

	for _, name := range []string{"Ready", "Todo"} {
		if !m.IsReady(name) {
			t.Errorf("IsReady(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"Done", "Completed", "Dev Complete"} {
		if !m.IsComplete(name) {
			t.Errorf("IsComplete(%q) = false, want true", name)
		}
	}
	if m.IsReady("In Progress") || m.IsComplete("In Progress") {
		t.Error("In Progress must be neither ready nor complete")
	}
}
