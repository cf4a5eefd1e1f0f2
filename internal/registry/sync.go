package registry

import (
	"context"
	"time"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/slots"
)

// SyncStats summarizes one reconciliation pass.
type SyncStats struct {
	Synced       int
	Conflicts    int
	Removed      int
	ClearedStale int
	Errors       int
}

// boardEntry is the per-item projection built during pagination.
type boardEntry struct {
	status           string
	assignedInstance string
	issueNumber      int
}

// SyncAllFieldsFromBoard reconciles the registry against the board. The
// board is the state of record: mapped status conflicts resolve in the
// board's favor, assignments whose item vanished or whose instance field
// the operator cleared are removed, and stale slot names on ready or
// complete items are wiped from the board. The one exception is an
// assignment whose last write-through failed: its local state is newer
// than the board's, and is pushed out instead.
//
// Pagination runs without the registry lock; only the merge step takes it.
// Reconciliation never creates assignments, it only resolves.
func (r *Registry) SyncAllFieldsFromBoard(ctx context.Context) SyncStats {
	start := time.Now()
	var stats SyncStats

	if r.boardClient == nil {
		return stats
	}

	boardState := make(map[string]boardEntry)
	var cursor string
	for {
		result, err := r.boardClient.ListItems(ctx, board.ListFilter{Cursor: cursor})
		if err != nil {
			r.logger.Warn("reconciliation aborted, board unavailable", "error", err)
			stats.Errors++
			return stats
		}
		for _, item := range result.Items {
			boardState[item.ID] = boardEntry{
				status:           item.Status,
				assignedInstance: item.AssignedInstance,
				issueNumber:      item.IssueNumber,
			}
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	var pushes []pendingPush
	r.mu.Lock()
	for id, a := range r.byID {
		if a.BoardItemID == "" {
			continue
		}
		entry, onBoard := boardState[a.BoardItemID]
		if !onBoard {
			r.logger.Warn("assignment orphaned, board item gone",
				"assignment_id", id, "issue", a.IssueNumber)
			r.removeLocked(id)
			stats.Removed++
			continue
		}

		// A write-through failed while the board was degraded: the local
		// status is newer than the board's, so push it out instead of
		// letting the stale board value win.
		if r.unsynced[id] {
			pushes = append(pushes, pendingPush{
				id: id, itemID: a.BoardItemID, status: a.Status, issueNumber: a.IssueNumber,
			})
			continue
		}

		if local, mapped := r.mapping.ToLocal(entry.status); mapped && local != a.Status {
			r.logger.Warn("status conflict, board wins",
				"assignment_id", id, "issue", a.IssueNumber,
				"local", string(a.Status), "board", string(local))
			r.forceStatusLocked(id, local)
			stats.Conflicts++
			continue
		}

		if a.Status.Live() && entry.assignedInstance == "" {
			r.logger.Warn("assignment revoked, instance field cleared on board",
				"assignment_id", id, "issue", a.IssueNumber, "instance_id", a.InstanceID)
			r.removeLocked(id)
			stats.Removed++
			continue
		}

		stats.Synced++
	}
	r.mu.Unlock()

	for _, p := range pushes {
		if err := r.pushPending(ctx, p); err != nil {
			r.logger.Warn("pending board write still failing",
				"assignment_id", p.id, "issue", p.issueNumber, "error", err)
			stats.Errors++
			continue
		}
		r.mu.Lock()
		delete(r.unsynced, p.id)
		r.mu.Unlock()
		r.logger.Info("pushed pending local status to board",
			"assignment_id", p.id, "issue", p.issueNumber, "status", string(p.status))
		stats.Synced++
	}

	// Stale slot clearing runs after the merge so the removals above are
	// already reflected in what counts as "unowned".
	for itemID, entry := range boardState {
		if entry.assignedInstance == "" {
			continue
		}
		if !r.mapping.IsReady(entry.status) && !r.mapping.IsComplete(entry.status) {
			continue
		}
		if err := r.boardClient.SetAssignedInstance(ctx, itemID, ""); err != nil {
			r.logger.Warn("failed to clear stale instance field",
				"issue", entry.issueNumber, "instance_id", entry.assignedInstance, "error", err)
			stats.Errors++
			continue
		}
		r.logger.Info("cleared stale instance field",
			"issue", entry.issueNumber, "instance_id", entry.assignedInstance)
		stats.ClearedStale++
	}

	if r.bus != nil {
		r.bus.Publish(event.NewReconcileCompletedEvent(
			stats.Synced, stats.Conflicts, stats.Removed, stats.ClearedStale, stats.Errors,
			time.Since(start)))
	}
	return stats
}

// pendingPush is one unsynced assignment whose local state must reach the
// board.
type pendingPush struct {
	id          string
	itemID      string
	status      assignment.Status
	issueNumber int
}

func (r *Registry) pushPending(ctx context.Context, p pendingPush) error {
	if name, ok := r.mapping.ToBoard(p.status); ok {
		if err := r.boardClient.SetStatus(ctx, p.itemID, name); err != nil {
			return err
		}
	}
	if clearsInstance(p.status) {
		if err := r.boardClient.SetAssignedInstance(ctx, p.itemID, ""); err != nil {
			return err
		}
	}
	return nil
}

// forceStatusLocked overwrites the status bypassing the state machine.
// Only reconciliation uses it: the board is authoritative even when the
// resulting transition would be illegal locally.
func (r *Registry) forceStatusLocked(id string, newStatus assignment.Status) {
	a, ok := r.byID[id]
	if !ok {
		return
	}
	from := a.Status
	if from == newStatus {
		return
	}
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
	if r.bus != nil {
		r.bus.Publish(event.NewStatusChangedEvent(id, a.IssueNumber, from, newStatus, true))
	}
}

// RebuildFromBoard recreates registry entries for commitments a previous
// run left on the board: items whose mapped status is live and whose
// instance field holds a well-formed slot id. A restarted orchestrator
// calls this once before the first reconciliation so the slot pool can be
// re-derived from the registry.
func (r *Registry) RebuildFromBoard(ctx context.Context) (int, error) {
	if r.boardClient == nil {
		return 0, nil
	}

	restored := 0
	var cursor string
	for {
		result, err := r.boardClient.ListItems(ctx, board.ListFilter{Cursor: cursor})
		if err != nil {
			return restored, err
		}
		for _, item := range result.Items {
			if item.AssignedInstance == "" {
				continue
			}
			local, mapped := r.mapping.ToLocal(item.Status)
			if !mapped || !local.Live() {
				continue
			}
			provider, _, err := slots.ParseSlotID(item.AssignedInstance)
			if err != nil {
				r.logger.Warn("board carries unparseable instance id, skipping",
					"issue", item.IssueNumber, "instance_id", item.AssignedInstance)
				continue
			}

			a, err := r.Create(CreateInput{
				IssueNumber: item.IssueNumber,
				InstanceID:  item.AssignedInstance,
				Provider:    provider,
				BoardItemID: item.ID,
			})
			if err != nil {
				r.logger.Warn("failed to restore assignment from board",
					"issue", item.IssueNumber, "error", err)
				continue
			}
			if local != assignment.StatusAssigned {
				r.mu.Lock()
				r.forceStatusLocked(a.ID, local)
				r.mu.Unlock()
			}
			restored++
			r.logger.Info("restored assignment from board",
				"assignment_id", a.ID, "issue", item.IssueNumber, "instance_id", item.AssignedInstance)
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return restored, nil
}
