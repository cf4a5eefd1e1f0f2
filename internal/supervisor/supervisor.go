// Package supervisor drives one board item from slot acquisition to a
// terminal status. One Supervisor instance runs per live item, as its own
// goroutine, and owns every mutation of its assignment.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/config"
	"github.com/autodevhq/autodev/internal/epic"
	"github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
	"github.com/autodevhq/autodev/internal/proc"
	"github.com/autodevhq/autodev/internal/prompt"
	"github.com/autodevhq/autodev/internal/registry"
	"github.com/autodevhq/autodev/internal/signals"
	"github.com/autodevhq/autodev/internal/slots"
	"github.com/autodevhq/autodev/internal/worktree"
)

// WorktreeProvider is the slice of worktree.Provider the supervisor and
// orchestrator need.
type WorktreeProvider interface {
	Ensure(path, branch string) error
	Prune() error
	RepoRoot() string
}

var _ WorktreeProvider = (*worktree.Provider)(nil)

// Deps bundles the shared components every supervisor borrows. All fields
// are required except Epic.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Board     board.Client
	Worktrees WorktreeProvider
	Slots     *slots.Allocator
	Procs     *proc.Supervisor
	Layout    *paths.Layout
	Epic      *epic.Coordinator
	Logger    *logging.Logger
	Bus       *event.Bus
	// Merger, when set, enables auto-merge on completed PRs.
	Merger *board.PRMerger
}

// Item is the work the supervisor was given: the board item plus the
// sibling branches a phase master must merge.
type Item struct {
	Board           board.Item
	SiblingBranches []string
}

// Supervisor runs one item to a terminal state.
type Supervisor struct {
	deps   Deps
	item   Item
	logger *logging.Logger

	provider   assignment.Provider
	instanceID string
	assignID   string
}

// New creates a Supervisor for one item using the given provider.
func New(deps Deps, item Item, provider assignment.Provider) *Supervisor {
	return &Supervisor{
		deps:     deps,
		item:     item,
		provider: provider,
		logger: deps.Logger.WithComponent("supervisor").
			WithIssue(item.Board.IssueNumber),
	}
}

// Run owns the item end to end. It returns when the assignment reached a
// terminal status or the context was cancelled. The slot is always
// released on return.
func (s *Supervisor) Run(ctx context.Context) error {
	slotID, err := s.deps.Slots.Acquire(s.provider)
	if err != nil {
		return fmt.Errorf("issue #%d: %w", s.item.Board.IssueNumber, err)
	}
	s.instanceID = slotID
	defer s.deps.Slots.Release(slotID)
	s.logger = s.logger.WithInstance(slotID)

	a, err := s.prepare(ctx)
	if err != nil {
		return err
	}
	defer s.cleanupOnCancel(ctx)

	kind := s.promptKind()
	text, err := s.buildPrompt(a, kind)
	if err != nil {
		s.fail(ctx, fmt.Sprintf("prompt build failed: %v", err))
		return err
	}

	return s.workLoop(ctx, a, text)
}

// workLoop launches the worker and classifies exits, resurrecting once on
// a signal-less death.
func (s *Supervisor) workLoop(ctx context.Context, a *assignment.Assignment, promptText string) error {
	for attempt := 0; ; attempt++ {
		handle, err := s.launch(ctx, a, promptText)
		if err != nil {
			s.fail(ctx, fmt.Sprintf("launch failed: %v", err))
			return err
		}

		exited, err := s.monitor(ctx, handle)
		if err != nil {
			return err
		}
		if !exited {
			// Cancelled; cleanupOnCancel handles the process.
			return ctx.Err()
		}

		result := s.classify()
		_ = s.deps.Registry.EndCurrentSession(s.assignID, result.Reason)

		switch result.Verdict {
		case signals.VerdictFailed:
			s.logger.Warn("worker signalled failure", "reason", result.Reason)
			s.finish(ctx, assignment.StatusFailed)
			return nil
		case signals.VerdictBlocked:
			s.logger.Warn("worker signalled blocked", "reason", result.Reason)
			s.finish(ctx, assignment.StatusBlocked)
			return nil
		case signals.VerdictComplete:
			s.complete(ctx, result.PRNumber)
			return nil
		case signals.VerdictLikelyComplete:
			// The heuristic is only trusted for phase masters; their job
			// is literally to open the PR.
			if a.Metadata.IsPhaseMaster {
				s.logger.Info("accepting heuristic completion for phase master",
					"pr", result.PRNumber)
				s.complete(ctx, result.PRNumber)
				return nil
			}
			fallthrough
		default:
			if attempt > 0 {
				s.logger.Warn("second exit without completion signal")
				s.fail(ctx, "process exited without completion")
				return nil
			}
			s.logger.Warn("worker exited without a signal, resurrecting once")
			cont, err := s.buildContinuation(a)
			if err != nil {
				s.fail(ctx, fmt.Sprintf("continuation prompt failed: %v", err))
				return err
			}
			promptText = cont
		}
	}
}

// prepare acquires everything the launch needs: assignment, board link,
// and worktree.
func (s *Supervisor) prepare(ctx context.Context) (*assignment.Assignment, error) {
	item := s.item.Board
	isMaster := s.deps.Epic != nil && s.deps.Epic.IsMaster(item)

	baseDir := s.deps.Config.Paths.ResolveWorktreeBaseDir(s.deps.Worktrees.RepoRoot())
	project := s.deps.Config.Paths.ResolveProjectName(s.deps.Worktrees.RepoRoot())
	var wtPath string
	if isMaster {
		wtPath = paths.ProjectWorktree(baseDir, project, item.IssueNumber)
	} else {
		wtPath = paths.IssueWorktree(baseDir, project, item.IssueNumber)
	}
	branch := paths.IssueBranch(item.IssueNumber)

	a, err := s.deps.Registry.Create(registry.CreateInput{
		IssueNumber:  item.IssueNumber,
		InstanceID:   s.instanceID,
		Provider:     s.provider,
		WorktreePath: wtPath,
		BranchName:   branch,
		BoardItemID:  item.ID,
		Metadata: assignment.Metadata{
			RequiresTests: true,
			RequiresCI:    true,
			IsPhaseMaster: isMaster,
		},
	})
	if err != nil {
		return nil, err
	}
	s.assignID = a.ID
	s.logger = s.logger.WithAssignment(a.ID)

	if _, err := s.deps.Registry.EnsureBoardItemID(ctx, a.ID); err != nil {
		s.logger.Warn("board item lookup failed, continuing without link", "error", err)
	}

	if err := s.deps.Worktrees.Ensure(wtPath, branch); err != nil {
		s.fail(ctx, fmt.Sprintf("worktree setup failed: %v", err))
		return nil, err
	}
	return a, nil
}

// launch starts the worker process and flips the assignment to
// in-progress.
func (s *Supervisor) launch(ctx context.Context, a *assignment.Assignment, promptText string) (*proc.Handle, error) {
	pc, ok := s.deps.Config.Provider(s.provider)
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("provider %s not configured", s.provider), nil)
	}

	handle, err := s.deps.Procs.Start(ctx, proc.Spec{
		Command:      pc.Binary,
		Args:         pc.Args,
		Prompt:       promptText,
		Dir:          a.WorktreePath,
		LogPath:      s.deps.Layout.OutputLog(s.instanceID),
		InstanceID:   s.instanceID,
		AssignmentID: a.ID,
		Provider:     s.provider,
		PromptDelay:  s.deps.Config.Intervals.PromptDelay(),
		EchoTimeout:  s.deps.Config.Intervals.EchoTimeout(),
	})
	if err != nil {
		return nil, err
	}

	if err := s.deps.Registry.UpdateStatusWithSync(ctx, a.ID, assignment.StatusInProgress); err != nil {
		s.logger.Warn("in-progress transition rejected", "error", err)
	}
	if a.BoardItemID != "" {
		if err := s.deps.Board.SetAssignedInstance(ctx, a.BoardItemID, s.instanceID); err != nil {
			s.logger.Warn("failed to claim item on board", "error", err)
		}
	}
	_ = s.deps.Registry.AppendWorkSession(a.ID, assignment.WorkSession{
		StartedAt:  time.Now(),
		PromptUsed: promptText,
	})
	return handle, nil
}

// monitor polls until the worker exits or the context is cancelled.
// Returns (true, nil) on exit, (false, nil) on cancellation.
func (s *Supervisor) monitor(ctx context.Context, handle *proc.Handle) (bool, error) {
	ticker := time.NewTicker(s.deps.Config.Intervals.MonitorPoll())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-handle.Done():
			return true, nil
		case <-ticker.C:
			if !s.deps.Procs.IsRunning(s.instanceID) {
				// The reaper may still be flushing; wait for it.
				<-handle.Done()
				return true, nil
			}
			s.deps.Registry.TouchActivity(s.assignID)
		}
	}
}

// classify re-reads the whole output log and parses the signals. The log
// is read from disk rather than streamed so a signal emitted any time
// during the session counts.
func (s *Supervisor) classify() signals.Result {
	data, err := os.ReadFile(s.deps.Layout.OutputLog(s.instanceID))
	if err != nil {
		s.logger.Warn("failed to read output log", "error", err)
		return signals.Result{}
	}
	result := signals.Parse(data)
	s.logger.Info("classified worker exit",
		"verdict", result.Verdict.String(), "pr", result.PRNumber)
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(event.NewSignalDetectedEvent(
			s.instanceID, result.Verdict.String(), result.Reason, result.PRNumber))
	}
	return result
}

// promptKind derives the prompt variant from the item's title.
func (s *Supervisor) promptKind() prompt.Kind {
	if s.deps.Epic == nil {
		return prompt.KindInitial
	}
	if s.deps.Epic.IsMaster(s.item.Board) {
		return prompt.KindPhaseMaster
	}
	if epic.PhaseOf(s.item.Board) > 0 {
		return prompt.KindWorkItem
	}
	return prompt.KindInitial
}

func (s *Supervisor) buildPrompt(a *assignment.Assignment, kind prompt.Kind) (string, error) {
	pctx := &prompt.Context{
		Kind:         kind,
		Assignment:   a,
		WorktreePath: a.WorktreePath,
		IssueTitle:   s.item.Board.Title,
		Phase:        epic.PhaseOf(s.item.Board),
	}
	if s.deps.Epic != nil {
		pctx.EpicName = s.deps.Epic.Name()
	}
	if kind == prompt.KindPhaseMaster {
		pctx.SiblingBranches = s.item.SiblingBranches
	}
	return prompt.Build(pctx)
}

func (s *Supervisor) buildContinuation(a *assignment.Assignment) (string, error) {
	fresh, err := s.deps.Registry.Get(a.ID)
	if err != nil {
		return "", err
	}
	var summary string
	if sess := fresh.CurrentSession(); sess != nil {
		summary = sess.Summary
	}
	return prompt.Build(&prompt.Context{
		Kind:            prompt.KindContinuation,
		Assignment:      fresh,
		WorktreePath:    fresh.WorktreePath,
		IssueTitle:      s.item.Board.Title,
		PreviousSummary: summary,
	})
}

// complete finalizes a successful run: dev-complete plus the PR number.
func (s *Supervisor) complete(ctx context.Context, prNumber int) {
	if prNumber > 0 {
		_ = s.deps.Registry.SetPR(s.assignID, prNumber, "")
		if s.deps.Merger != nil {
			if err := s.deps.Merger.EnableAutoMerge(ctx, prNumber); err != nil {
				s.logger.Warn("auto-merge not enabled", "pr", prNumber, "error", err)
			}
		}
	}
	s.finish(ctx, assignment.StatusDevComplete)
}

func (s *Supervisor) fail(ctx context.Context, reason string) {
	s.logger.Error("assignment failed", "reason", reason)
	_ = s.deps.Registry.EndCurrentSession(s.assignID, reason)
	s.finish(ctx, assignment.StatusFailed)
}

// finish applies the terminal transition with board write-through.
func (s *Supervisor) finish(ctx context.Context, status assignment.Status) {
	if s.assignID == "" {
		return
	}
	if err := s.deps.Registry.UpdateStatusWithSync(ctx, s.assignID, status); err != nil {
		s.logger.Warn("terminal transition rejected", "status", string(status), "error", err)
	}
}

// cleanupOnCancel stops a still-running worker when the supervisor exits
// due to cancellation. The assignment keeps its last-observed status;
// reconciliation re-aligns with the board on the next cycle.
func (s *Supervisor) cleanupOnCancel(ctx context.Context) {
	if ctx.Err() == nil {
		return
	}
	if s.deps.Procs.IsRunning(s.instanceID) {
		s.logger.Info("cancelled, stopping worker")
		_ = s.deps.Procs.Stop(s.instanceID)
	}
	if s.assignID != "" {
		_ = s.deps.Registry.EndCurrentSession(s.assignID, "cancelled")
	}
}
