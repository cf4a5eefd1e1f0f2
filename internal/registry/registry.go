// Package registry holds the in-memory index of active assignments. The
// registry is deliberately ephemeral: the board is the durable state of
// record and the registry is rebuilt from it on every start, then kept
// aligned by periodic reconciliation.
//
// All assignment mutations go through the registry so the status state
// machine and the one-live-assignment-per-issue invariant are enforced in
// one place.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/logging"
)

// CreateInput is the caller-supplied part of a new assignment.
type CreateInput struct {
	IssueNumber  int
	InstanceID   string
	Provider     assignment.Provider
	WorktreePath string
	BranchName   string
	BoardItemID  string
	Metadata     assignment.Metadata
}

// Registry is the thread-safe assignment index with board write-through.
type Registry struct {
	boardClient board.Client
	mapping     *board.StatusMapping
	logger      *logging.Logger
	bus         *event.Bus

	mu         sync.RWMutex
	byID       map[string]*assignment.Assignment
	byIssue    map[int]string    // issue number -> assignment id
	byInstance map[string]string // instance id -> assignment id
	// unsynced marks assignments whose last write-through never reached the
	// board. Reconciliation pushes these instead of letting the stale board
	// value win.
	unsynced map[string]bool
}

// New creates a Registry. boardClient may be nil for purely local
// operation (tests); then every *WithSync degrades to local-only.
func New(boardClient board.Client, mapping *board.StatusMapping, logger *logging.Logger, bus *event.Bus) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	if mapping == nil {
		mapping = board.DefaultMapping()
	}
	return &Registry{
		boardClient: boardClient,
		mapping:     mapping,
		logger:      logger.WithComponent("registry"),
		bus:         bus,
		byID:        make(map[string]*assignment.Assignment),
		byIssue:     make(map[int]string),
		byInstance:  make(map[string]string),
		unsynced:    make(map[string]bool),
	}
}

// Create registers a fresh assignment in status assigned. Fails with
// errors.ErrAlreadyAssigned when the issue already has a live assignment.
func (r *Registry) Create(input CreateInput) (*assignment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existingID, ok := r.byIssue[input.IssueNumber]; ok {
		if existing := r.byID[existingID]; existing != nil {
			return nil, fmt.Errorf("%w: issue #%d held by %s",
				errors.ErrAlreadyAssigned, input.IssueNumber, existing.InstanceID)
		}
	}
	if _, ok := r.byInstance[input.InstanceID]; ok {
		return nil, fmt.Errorf("%w: instance %s already holds an assignment",
			errors.ErrAlreadyAssigned, input.InstanceID)
	}

	now := time.Now()
	a := &assignment.Assignment{
		ID:           uuid.NewString(),
		IssueNumber:  input.IssueNumber,
		InstanceID:   input.InstanceID,
		BoardItemID:  input.BoardItemID,
		Provider:     input.Provider,
		WorktreePath: input.WorktreePath,
		BranchName:   input.BranchName,
		Status:       assignment.StatusAssigned,
		CreatedAt:    now,
		Metadata:     input.Metadata,
		LastActivity: now,
	}

	r.byID[a.ID] = a
	r.byIssue[a.IssueNumber] = a.ID
	r.byInstance[a.InstanceID] = a.ID

	r.logger.Info("assignment created",
		"assignment_id", a.ID, "issue", a.IssueNumber, "instance_id", a.InstanceID)
	if r.bus != nil {
		r.bus.Publish(event.NewAssignmentCreatedEvent(a.ID, a.IssueNumber, a.InstanceID, a.Provider))
	}
	return a.Clone(), nil
}

// Get returns a clone of an assignment by id.
func (r *Registry) Get(id string) (*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	return a.Clone(), nil
}

// GetByIssue returns a clone of the live assignment for an issue.
func (r *Registry) GetByIssue(issueNumber int) (*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIssue[issueNumber]
	if !ok {
		return nil, fmt.Errorf("%w: issue #%d", errors.ErrAssignmentNotFound, issueNumber)
	}
	return r.byID[id].Clone(), nil
}

// GetByInstance returns a clone of the assignment held by an instance.
func (r *Registry) GetByInstance(instanceID string) (*assignment.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byInstance[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", errors.ErrAssignmentNotFound, instanceID)
	}
	return r.byID[id].Clone(), nil
}

// List returns clones of all assignments, ordered by issue number.
func (r *Registry) List() []*assignment.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*assignment.Assignment, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueNumber < out[j].IssueNumber })
	return out
}

// UpdateStatus applies a local status transition. Timestamps are set on
// first entry into the corresponding state.
func (r *Registry) UpdateStatus(id string, newStatus assignment.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateStatusLocked(id, newStatus, false)
}

// updateStatusLocked performs the transition under the caller's lock.
func (r *Registry) updateStatusLocked(id string, newStatus assignment.Status, boardDriven bool) error {
	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	if !assignment.CanTransition(a.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s (assignment %s)",
			errors.ErrInvalidTransition, a.Status, newStatus, id)
	}
	if a.Status == newStatus {
		return nil
	}

	from := a.Status
	a.Status = newStatus
	now := time.Now()
	a.LastActivity = now

	switch newStatus {
	case assignment.StatusInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case assignment.StatusDevComplete, assignment.StatusBlocked, assignment.StatusFailed:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	case assignment.StatusMerged:
		if a.MergedAt == nil {
			a.MergedAt = &now
		}
	}

	r.logger.Info("assignment status changed",
		"assignment_id", id, "issue", a.IssueNumber, "from", string(from), "to", string(newStatus),
		"board_driven", boardDriven)
	if r.bus != nil {
		r.bus.Publish(event.NewStatusChangedEvent(id, a.IssueNumber, from, newStatus, boardDriven))
	}
	return nil
}

// UpdateStatusWithSync applies the transition locally first, then writes
// through to the board best-effort. A board failure degrades to local-only
// with a warning; it never fails the local transition, and the assignment
// is flagged unsynced so the next reconciliation retries the write. On any
// terminal status the board's assigned-instance field is also cleared so
// the slot name does not linger on finished items.
func (r *Registry) UpdateStatusWithSync(ctx context.Context, id string, newStatus assignment.Status) error {
	r.mu.Lock()
	err := r.updateStatusLocked(id, newStatus, false)
	var itemID string
	if a, ok := r.byID[id]; ok {
		itemID = a.BoardItemID
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if r.boardClient == nil || itemID == "" {
		return nil
	}

	pending := false
	if boardStatus, mapped := r.mapping.ToBoard(newStatus); mapped {
		if berr := r.boardClient.SetStatus(ctx, itemID, boardStatus); berr != nil {
			r.logger.Warn("board status write failed, continuing locally",
				"assignment_id", id, "status", boardStatus, "error", berr)
			pending = true
		}
	}

	if clearsInstance(newStatus) {
		if berr := r.boardClient.SetAssignedInstance(ctx, itemID, ""); berr != nil {
			r.logger.Warn("board assigned-instance clear failed",
				"assignment_id", id, "error", berr)
			pending = true
		}
	}

	r.mu.Lock()
	if _, ok := r.byID[id]; ok {
		if pending {
			r.unsynced[id] = true
		} else {
			delete(r.unsynced, id)
		}
	}
	r.mu.Unlock()
	return nil
}

// clearsInstance reports whether a status ends the worker's claim on the
// board item. All terminal statuses do, including blocked and failed.
func clearsInstance(s assignment.Status) bool {
	switch s {
	case assignment.StatusDevComplete, assignment.StatusMerged,
		assignment.StatusBlocked, assignment.StatusFailed:
		return true
	}
	return false
}

// AppendWorkSession appends a session record and bumps lastActivity.
func (r *Registry) AppendWorkSession(id string, session assignment.WorkSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	a.WorkSessions = append(a.WorkSessions, session)
	a.LastActivity = time.Now()
	return nil
}

// EndCurrentSession closes the most recent open work session.
func (r *Registry) EndCurrentSession(id string, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	cur := a.CurrentSession()
	if cur == nil || cur.EndedAt != nil {
		return nil
	}
	now := time.Now()
	cur.EndedAt = &now
	if summary != "" {
		cur.Summary = summary
	}
	a.LastActivity = now
	return nil
}

// SetPR records the pull request produced by the worker.
func (r *Registry) SetPR(id string, prNumber int, prURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	a.PRNumber = prNumber
	if prURL != "" {
		a.PRURL = prURL
	}
	a.LastActivity = time.Now()
	return nil
}

// TouchActivity bumps lastActivity, e.g. when the worker produced output.
func (r *Registry) TouchActivity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		a.LastActivity = time.Now()
	}
}

// Remove deletes an assignment and all its index entries.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id string) {
	a, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.unsynced, id)
	if r.byIssue[a.IssueNumber] == id {
		delete(r.byIssue, a.IssueNumber)
	}
	if r.byInstance[a.InstanceID] == id {
		delete(r.byInstance, a.InstanceID)
	}
	r.logger.Info("assignment removed", "assignment_id", id, "issue", a.IssueNumber)
}

// EnsureBoardItemID resolves and caches the board item id for an
// assignment that was created without one. A not-found item is logged as a
// warning and left empty; the next reconciliation retries.
func (r *Registry) EnsureBoardItemID(ctx context.Context, id string) (string, error) {
	r.mu.RLock()
	a, ok := r.byID[id]
	if !ok {
		r.mu.RUnlock()
		return "", fmt.Errorf("%w: %s", errors.ErrAssignmentNotFound, id)
	}
	if a.BoardItemID != "" {
		itemID := a.BoardItemID
		r.mu.RUnlock()
		return itemID, nil
	}
	issue := a.IssueNumber
	r.mu.RUnlock()

	if r.boardClient == nil {
		return "", nil
	}
	itemID, err := r.boardClient.ItemForIssue(ctx, issue)
	if err != nil {
		if errors.Is(err, errors.ErrItemNotFound) {
			r.logger.Warn("issue has no board item", "issue", issue)
			return "", nil
		}
		return "", err
	}

	r.mu.Lock()
	if a, ok := r.byID[id]; ok {
		a.BoardItemID = itemID
	}
	r.mu.Unlock()
	return itemID, nil
}

// LoadWithConflictDetection fetches the board status for an issue's
// assignment and, when the board status maps and differs, updates local to
// match (board wins) before returning the refreshed clone.
func (r *Registry) LoadWithConflictDetection(ctx context.Context, issueNumber int) (*assignment.Assignment, error) {
	a, err := r.GetByIssue(issueNumber)
	if err != nil {
		return nil, err
	}
	if r.boardClient == nil || a.BoardItemID == "" {
		return a, nil
	}

	boardStatus, err := r.boardClient.GetStatus(ctx, a.BoardItemID)
	if err != nil {
		r.logger.Warn("conflict detection skipped, board unavailable",
			"issue", issueNumber, "error", err)
		return a, nil
	}

	local, mapped := r.mapping.ToLocal(boardStatus)
	if mapped && local != a.Status {
		r.logger.Warn("board status differs, board wins",
			"issue", issueNumber, "local", string(a.Status), "board", string(local))
		r.mu.Lock()
		r.forceStatusLocked(a.ID, local)
		r.mu.Unlock()
		return r.Get(a.ID)
	}
	return a, nil
}
