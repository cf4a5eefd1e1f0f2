package board

import "github.com/autodevhq/autodev/internal/assignment"

// StatusMapping is the single translation table between local assignment
// statuses and board status names. The orchestrator only writes statuses
// that have a ToBoard mapping, and only interprets board statuses that have
// a ToLocal mapping; anything else is opaque and never overwritten.
type StatusMapping struct {
	toBoard  map[assignment.Status]string
	toLocal  map[string]assignment.Status
	ready    map[string]bool
	complete map[string]bool
}

// DefaultMapping returns the mapping for the conventional board column
// names.
func DefaultMapping() *StatusMapping {
	return &StatusMapping{
		// blocked and failed have no write mapping: those items keep their
		// last written board status and only lose the instance field, so
		// boards without the columns never see failing writes.
		toBoard: map[assignment.Status]string{
			assignment.StatusAssigned:    "In Progress",
			assignment.StatusInProgress:  "In Progress",
			assignment.StatusDevComplete: "Dev Complete",
			assignment.StatusMerged:      "Done",
		},
		toLocal: map[string]assignment.Status{
			"In Progress":  assignment.StatusInProgress,
			"Dev Complete": assignment.StatusDevComplete,
			"Blocked":      assignment.StatusBlocked,
			"Failed":       assignment.StatusFailed,
			"Done":         assignment.StatusMerged,
			"Completed":    assignment.StatusMerged,
		},
		ready: map[string]bool{
			"Ready": true,
			"Todo":  true,
		},
		complete: map[string]bool{
			"Done":         true,
			"Completed":    true,
			"Dev Complete": true,
		},
	}
}

// ToBoard returns the board status name for a local status. The second
// return is false when the status has no board representation.
func (m *StatusMapping) ToBoard(s assignment.Status) (string, bool) {
	name, ok := m.toBoard[s]
	return name, ok
}

// ToLocal returns the local status for a board status name. The second
// return is false when the name is unmapped (opaque: leave alone).
func (m *StatusMapping) ToLocal(name string) (assignment.Status, bool) {
	s, ok := m.toLocal[name]
	return s, ok
}

// IsReady reports whether a board status name marks an item as assignable.
func (m *StatusMapping) IsReady(name string) bool {
	return m.ready[name]
}

// IsComplete reports whether a board status name marks an item as done.
func (m *StatusMapping) IsComplete(name string) bool {
	return m.complete[name]
}

// ReadyStatuses returns the board status names considered assignable.
func (m *StatusMapping) ReadyStatuses() []string {
	names := make([]string, 0, len(m.ready))
	for name := range m.ready {
		names = append(names, name)
	}
	return names
}
