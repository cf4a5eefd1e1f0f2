// Package board adapts the remote project board (GitHub Projects v2) for
// the orchestrator. All access goes through the gh CLI so authentication
// follows the operator's existing gh session; commands are injectable for
// tests.
//
// The board is the durable state of record: the registry is rebuilt from it
// on every start and reconciled against it periodically.
package board

import (
	"context"
	"os/exec"
)

// Item is one board item as the orchestrator sees it. Only the fields the
// scheduler consumes are carried; everything else on the board is opaque.
type Item struct {
	// ID is the opaque ProjectV2Item node id.
	ID string
	// IssueNumber is the linked issue's number; 0 for draft items.
	IssueNumber int
	Title       string
	// Status is the raw board status name, unmapped.
	Status string
	// AssignedInstance is the worker instance holding the item, or empty.
	AssignedInstance string
	// Epic is the raw epic field value, or empty.
	Epic string
	// Priority is the raw priority field value, or empty.
	Priority string
}

// ListFilter narrows a ListItems call.
type ListFilter struct {
	// Statuses keeps only items whose raw status is in the set. Empty
	// means all.
	Statuses []string
	// Cursor resumes a prior page; empty starts from the beginning.
	Cursor string
}

// ListResult is one page of board items.
type ListResult struct {
	Items []Item
	// NextCursor is non-empty when more pages remain.
	NextCursor string
}

// Client is the board adapter consumed by the registry, the evaluator, and
// the epic coordinator.
type Client interface {
	// ListItems returns one page (up to 100 items) matching the filter.
	ListItems(ctx context.Context, filter ListFilter) (ListResult, error)

	// ListAllItems pages through the whole board.
	ListAllItems(ctx context.Context) ([]Item, error)

	// GetStatus returns the raw status name for an item, or "" when the
	// field is unset.
	GetStatus(ctx context.Context, itemID string) (string, error)

	// SetStatus writes a raw status name. The name must be an existing
	// option of the board's status field.
	SetStatus(ctx context.Context, itemID, status string) error

	// GetAssignedInstance returns the assigned-instance field, or "".
	GetAssignedInstance(ctx context.Context, itemID string) (string, error)

	// SetAssignedInstance writes the assigned-instance field. An empty
	// value clears it.
	SetAssignedInstance(ctx context.Context, itemID, instance string) error

	// ItemForIssue resolves the board item id for an issue number.
	// Returns errors.ErrItemNotFound when the issue is not on the board.
	ItemForIssue(ctx context.Context, issueNumber int) (string, error)
}

// CommandExecutor runs an external command and returns its combined
// output. Injectable for tests.
type CommandExecutor func(ctx context.Context, name string, args ...string) ([]byte, error)

// defaultExecutor runs commands using os/exec.
var defaultExecutor CommandExecutor = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
