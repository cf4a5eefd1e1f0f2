// Package assignment defines the core record of one attempt to implement
// one issue, along with its status state machine. The types here are shared
// by the registry, the board adapter, and the per-item supervisors; keeping
// them in a leaf package avoids import cycles between those layers.
package assignment

import (
	"fmt"
	"time"
)

// Provider identifies which worker CLI implements an assignment.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderGemini Provider = "gemini"
	ProviderCodex  Provider = "codex"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderClaude, ProviderGemini, ProviderCodex:
		return true
	}
	return false
}

// Providers returns all known providers in a stable order.
func Providers() []Provider {
	return []Provider{ProviderClaude, ProviderGemini, ProviderCodex}
}

// Status is the local lifecycle state of an assignment.
//
// The flow is assigned → in-progress → {dev-complete | blocked | failed}
// → merged. Only dev-complete and merged count as successful; blocked and
// failed are terminal-but-unsuccessful.
type Status string

const (
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in-progress"
	StatusDevComplete Status = "dev-complete"
	StatusBlocked     Status = "blocked"
	StatusFailed      Status = "failed"
	StatusMerged      Status = "merged"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusDevComplete,
		StatusBlocked, StatusFailed, StatusMerged:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state (no further transitions
// except dev-complete → merged).
func (s Status) Terminal() bool {
	switch s {
	case StatusDevComplete, StatusBlocked, StatusFailed, StatusMerged:
		return true
	}
	return false
}

// Done reports whether s represents successful completion.
func (s Status) Done() bool {
	return s == StatusDevComplete || s == StatusMerged
}

// Live reports whether an assignment in this status should have a running
// worker process (or a just-created one about to start).
func (s Status) Live() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// CanTransition reports whether the state machine allows moving from one
// status to another. Self-transitions are allowed so that board-driven
// refreshes are idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusAssigned:
		return to == StatusInProgress || to == StatusDevComplete ||
			to == StatusBlocked || to == StatusFailed
	case StatusInProgress:
		return to == StatusDevComplete || to == StatusBlocked || to == StatusFailed
	case StatusDevComplete:
		return to == StatusMerged
	case StatusBlocked, StatusFailed, StatusMerged:
		return false
	}
	return false
}

// WorkSession records one launch of the worker CLI for an assignment.
// A session with a nil EndedAt is still running.
type WorkSession struct {
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	PromptUsed string     `json:"prompt_used"`
	Summary    string     `json:"summary,omitempty"`
}

// Metadata carries per-item flags derived from the board item.
type Metadata struct {
	RequiresTests bool `json:"requires_tests"`
	RequiresCI    bool `json:"requires_ci"`
	IsPhaseMaster bool `json:"is_phase_master"`
}

// Assignment is one attempt to implement one issue. Assignments live only
// in memory; the board is the durable state of record and the registry is
// rebuilt from it on every start.
type Assignment struct {
	// ID is an opaque identifier, fresh per creation.
	ID string
	// IssueNumber is the external issue the assignment implements.
	IssueNumber int
	// InstanceID is the slot ticket, e.g. "claude-0".
	InstanceID string
	// BoardItemID is the opaque remote handle for the board item.
	// Empty until resolved against the board.
	BoardItemID string

	Provider     Provider
	WorktreePath string
	BranchName   string
	Status       Status

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	MergedAt    *time.Time

	WorkSessions []WorkSession
	Metadata     Metadata

	PRNumber int
	PRURL    string
	CIStatus string

	// LastActivity is bumped whenever the worker produces output or a
	// board sync touches the assignment. Diagnostic only; nothing is
	// killed on inactivity.
	LastActivity time.Time
}

// Clone returns a deep copy of the assignment. The registry hands out
// clones so callers never share mutable state with it.
func (a *Assignment) Clone() *Assignment {
	if a == nil {
		return nil
	}
	cp := *a
	cp.StartedAt = copyTime(a.StartedAt)
	cp.CompletedAt = copyTime(a.CompletedAt)
	cp.MergedAt = copyTime(a.MergedAt)
	cp.WorkSessions = make([]WorkSession, len(a.WorkSessions))
	for i, ws := range a.WorkSessions {
		cp.WorkSessions[i] = ws
		cp.WorkSessions[i].EndedAt = copyTime(ws.EndedAt)
	}
	return &cp
}

// CurrentSession returns a pointer to the most recent work session, or nil
// if none exist. Only the registry may call this on its owned copy.
func (a *Assignment) CurrentSession() *WorkSession {
	if len(a.WorkSessions) == 0 {
		return nil
	}
	return &a.WorkSessions[len(a.WorkSessions)-1]
}

// String implements fmt.Stringer for log output.
func (a *Assignment) String() string {
	return fmt.Sprintf("assignment %s (issue #%d, %s, %s)", a.ID, a.IssueNumber, a.InstanceID, a.Status)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
