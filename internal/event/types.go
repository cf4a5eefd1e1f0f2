// Package event defines the orchestrator's internal event types and a
// synchronous pub-sub bus for delivering them. Events decouple the scheduler,
// the per-item supervisors, and any observers (status command, log sinks)
// without direct dependencies between them.
package event

import (
	"time"

	"github.com/autodevhq/autodev/internal/assignment"
)

// Event is the interface all events implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "assignment.created").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// AssignmentCreatedEvent is emitted when the registry records a new
// assignment for an issue.
type AssignmentCreatedEvent struct {
	baseEvent
	AssignmentID string
	IssueNumber  int
	InstanceID   string
	Provider     assignment.Provider
}

// NewAssignmentCreatedEvent creates an AssignmentCreatedEvent.
func NewAssignmentCreatedEvent(assignmentID string, issueNumber int, instanceID string, provider assignment.Provider) AssignmentCreatedEvent {
	return AssignmentCreatedEvent{
		baseEvent:    newBaseEvent("assignment.created"),
		AssignmentID: assignmentID,
		IssueNumber:  issueNumber,
		InstanceID:   instanceID,
		Provider:     provider,
	}
}

// StatusChangedEvent is emitted on every accepted assignment status
// transition, whether driven locally or by a board sync.
type StatusChangedEvent struct {
	baseEvent
	AssignmentID string
	IssueNumber  int
	From         assignment.Status
	To           assignment.Status
	// BoardDriven is true when the transition came from reconciliation
	// rather than from a local supervisor.
	BoardDriven bool
}

// NewStatusChangedEvent creates a StatusChangedEvent.
func NewStatusChangedEvent(assignmentID string, issueNumber int, from, to assignment.Status, boardDriven bool) StatusChangedEvent {
	return StatusChangedEvent{
		baseEvent:    newBaseEvent("assignment.status_changed"),
		AssignmentID: assignmentID,
		IssueNumber:  issueNumber,
		From:         from,
		To:           to,
		BoardDriven:  boardDriven,
	}
}

// ProcessStartedEvent is emitted when a worker CLI process starts in its
// worktree.
type ProcessStartedEvent struct {
	baseEvent
	InstanceID   string
	PID          int
	WorktreePath string
}

// NewProcessStartedEvent creates a ProcessStartedEvent.
func NewProcessStartedEvent(instanceID string, pid int, worktreePath string) ProcessStartedEvent {
	return ProcessStartedEvent{
		baseEvent:    newBaseEvent("process.started"),
		InstanceID:   instanceID,
		PID:          pid,
		WorktreePath: worktreePath,
	}
}

// ProcessExitedEvent is emitted when a worker CLI process exits, before the
// supervisor classifies the outcome.
type ProcessExitedEvent struct {
	baseEvent
	InstanceID string
	PID        int
	ExitCode   int
}

// NewProcessExitedEvent creates a ProcessExitedEvent.
func NewProcessExitedEvent(instanceID string, pid, exitCode int) ProcessExitedEvent {
	return ProcessExitedEvent{
		baseEvent:  newBaseEvent("process.exited"),
		InstanceID: instanceID,
		PID:        pid,
		ExitCode:   exitCode,
	}
}

// SignalDetectedEvent is emitted when the supervisor finds a completion
// marker in a worker's output log.
type SignalDetectedEvent struct {
	baseEvent
	InstanceID string
	Verdict    string
	Reason     string
	PRNumber   int
}

// NewSignalDetectedEvent creates a SignalDetectedEvent.
func NewSignalDetectedEvent(instanceID, verdict, reason string, prNumber int) SignalDetectedEvent {
	return SignalDetectedEvent{
		baseEvent:  newBaseEvent("signal.detected"),
		InstanceID: instanceID,
		Verdict:    verdict,
		Reason:     reason,
		PRNumber:   prNumber,
	}
}

// ReconcileCompletedEvent is emitted after each full board reconciliation
// pass with the pass counters.
type ReconcileCompletedEvent struct {
	baseEvent
	Synced       int
	Conflicts    int
	Removed      int
	ClearedStale int
	Errors       int
	Duration     time.Duration
}

// NewReconcileCompletedEvent creates a ReconcileCompletedEvent.
func NewReconcileCompletedEvent(synced, conflicts, removed, clearedStale, errors int, duration time.Duration) ReconcileCompletedEvent {
	return ReconcileCompletedEvent{
		baseEvent:    newBaseEvent("reconcile.completed"),
		Synced:       synced,
		Conflicts:    conflicts,
		Removed:      removed,
		ClearedStale: clearedStale,
		Errors:       errors,
		Duration:     duration,
	}
}
