package epic

import (
	"testing"

	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/logging"
)

// fakeBranches reports configured branches as existing, and a subset of
// those as merged.
type fakeBranches struct {
	exists map[string]bool
	merged map[string]bool
}

func (f *fakeBranches) BranchExists(name string) (bool, error) {
	return f.exists[name], nil
}

func (f *fakeBranches) BranchMergedIntoDefault(branch string) (bool, error) {
	return f.merged[branch], nil
}

func newCoordinator(branches BranchChecker) *Coordinator {
	return New("auth-rework", "MASTER", board.DefaultMapping(), branches, logging.Nop())
}

func item(id string, issue int, title, status, instance string) board.Item {
	return board.Item{ID: id, IssueNumber: issue, Title: title, Status: status, AssignedInstance: instance}
}

func TestPhaseOf(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"Phase 1: set up schema", 1},
		{"phase 12 cleanup", 12},
		{"Phase 2.3: sub-task", 2},
		{"no designator at all", 0},
		{"Phases are cool", 0},
	}
	for _, tt := range tests {
		if got := PhaseOf(board.Item{Title: tt.title}); got != tt.want {
			t.Errorf("PhaseOf(%q) = %d, want %d", tt.title, got, tt.want)
		}
	}
}

func TestIsMaster(t *testing.T) {
	c := newCoordinator(nil)
	tests := []struct {
		title string
		want  bool
	}{
		{"Phase 1 MASTER: merge and PR", true},
		{"Phase 1: regular work", false},
		{"Phase 2.1 MASTER: fractional phases never master", false},
		{"MASTER without a phase", false},
	}
	for _, tt := range tests {
		if got := c.IsMaster(board.Item{Title: tt.title}); got != tt.want {
			t.Errorf("IsMaster(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}

func TestBelongsByFieldOrTitle(t *testing.T) {
	c := newCoordinator(nil)

	if !c.Belongs(board.Item{Title: "anything", Epic: "auth-rework"}) {
		t.Error("epic field match should belong")
	}
	if !c.Belongs(board.Item{Title: "auth-rework: phase 1 work"}) {
		t.Error("title substring match should belong")
	}
	if c.Belongs(board.Item{Title: "unrelated", Epic: "other-epic"}) {
		t.Error("unrelated item should not belong")
	}
}

func TestRestrictReturnsCurrentPhaseWork(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Ready", ""),
		item("i2", 2, "auth-rework Phase 1: handlers", "Ready", ""),
		item("i3", 3, "auth-rework Phase 1 MASTER", "Ready", ""),
		item("i4", 4, "auth-rework Phase 2: cleanup", "Ready", ""),
	}

	got := c.Restrict(items)
	if len(got) != 2 {
		t.Fatalf("Restrict returned %d items, want 2: %+v", len(got), got)
	}
	for _, it := range got {
		if PhaseOf(it) != 1 || c.IsMaster(it) {
			t.Errorf("unexpected item returned: %q", it.Title)
		}
	}
}

func TestRestrictSkipsAssignedAndUnreadyWork(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "In Progress", "claude-0"),
		item("i2", 2, "auth-rework Phase 1: handlers", "Ready", ""),
		item("i3", 3, "auth-rework Phase 1: docs", "Needs More Info", ""),
	}

	got := c.Restrict(items)
	if len(got) != 1 || got[0].IssueNumber != 2 {
		t.Fatalf("Restrict = %+v, want only issue 2", got)
	}
}

func TestRestrictReturnsMasterWhenWorkDone(t *testing.T) {
	branches := &fakeBranches{
		exists: map[string]bool{"issue-1": true, "issue-2": true},
		merged: map[string]bool{"issue-1": true, "issue-2": true},
	}
	c := newCoordinator(branches)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1: handlers", "Dev Complete", ""),
		item("i3", 3, "auth-rework Phase 1 MASTER", "Ready", ""),
	}

	got := c.Restrict(items)
	if len(got) != 1 || !c.IsMaster(got[0]) {
		t.Fatalf("Restrict = %+v, want just the master", got)
	}
}

func TestRestrictHoldsWhileMasterAssigned(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER", "In Progress", "claude-0"),
		item("i3", 3, "auth-rework Phase 2: next", "Ready", ""),
	}

	if got := c.Restrict(items); len(got) != 0 {
		t.Fatalf("Restrict = %+v, want nothing while master in flight", got)
	}
}

func TestRestrictWaitsForBranchMerge(t *testing.T) {
	// Board says done but the branch has not landed on the default branch:
	// the master must not become assignable yet.
	branches := &fakeBranches{
		exists: map[string]bool{"issue-1": true},
		merged: map[string]bool{},
	}
	c := newCoordinator(branches)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER", "Ready", ""),
	}

	if got := c.Restrict(items); len(got) != 0 {
		t.Fatalf("Restrict = %+v, want nothing until branch merges", got)
	}
}

func TestRestrictHoldsNextPhaseUntilMasterMerged(t *testing.T) {
	// The master finished its run and the phase PR is open, but not yet
	// merged: phase 2 stays closed and the master is not re-dispatched.
	branches := &fakeBranches{
		exists: map[string]bool{"issue-1": true},
		merged: map[string]bool{"issue-1": true},
	}
	c := newCoordinator(branches)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER", "Dev Complete", ""),
		item("i3", 3, "auth-rework Phase 2: cleanup", "Ready", ""),
	}

	if got := c.Restrict(items); len(got) != 0 {
		t.Fatalf("Restrict = %+v, want nothing until the master merges", got)
	}
}

func TestRestrictAdvancesToNextPhase(t *testing.T) {
	branches := &fakeBranches{
		exists: map[string]bool{"issue-1": true},
		merged: map[string]bool{"issue-1": true},
	}
	c := newCoordinator(branches)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER", "Done", ""),
		item("i3", 3, "auth-rework Phase 2: cleanup", "Ready", ""),
	}

	got := c.Restrict(items)
	if len(got) != 1 || got[0].IssueNumber != 3 {
		t.Fatalf("Restrict = %+v, want phase 2 work", got)
	}
}

func TestRestrictMasterOnlyPhase(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1 MASTER", "Ready", ""),
	}

	got := c.Restrict(items)
	if len(got) != 1 || !c.IsMaster(got[0]) {
		t.Fatalf("Restrict = %+v, want the master of a work-less phase", got)
	}
}

func TestRestrictAllPhasesComplete(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER", "Done", ""),
	}

	if got := c.Restrict(items); len(got) != 0 {
		t.Fatalf("Restrict = %+v, want nothing when everything is complete", got)
	}
}

func TestRestrictDuplicateMastersKeepsFirst(t *testing.T) {
	c := newCoordinator(nil)
	items := []board.Item{
		item("i1", 1, "auth-rework Phase 1: schema", "Done", ""),
		item("i2", 2, "auth-rework Phase 1 MASTER one", "Ready", ""),
		item("i3", 3, "auth-rework Phase 1 MASTER two", "Ready", ""),
	}

	got := c.Restrict(items)
	if len(got) != 1 || got[0].IssueNumber != 2 {
		t.Fatalf("Restrict = %+v, want only the first master", got)
	}
}
