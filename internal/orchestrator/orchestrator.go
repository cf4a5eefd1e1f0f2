// Package orchestrator runs the top-level scheduling loop: pick ready
// board items, spawn one lifecycle supervisor per item bounded by slot
// capacity, reconcile the registry against the board periodically, and
// shut everything down cleanly on cancellation.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/config"
	"github.com/autodevhq/autodev/internal/epic"
	"github.com/autodevhq/autodev/internal/evaluator"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
	"github.com/autodevhq/autodev/internal/proc"
	"github.com/autodevhq/autodev/internal/registry"
	"github.com/autodevhq/autodev/internal/slots"
	"github.com/autodevhq/autodev/internal/supervisor"
)

// Deps bundles the components the orchestrator coordinates. Epic is nil
// outside epic mode.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Board     board.Client
	Evaluator evaluator.Evaluator
	Worktrees supervisor.WorktreeProvider
	Slots     *slots.Allocator
	Procs     *proc.Supervisor
	Layout    *paths.Layout
	Epic      *epic.Coordinator
	Logger    *logging.Logger
	Bus       *event.Bus
	// Merger is set when --auto-merge is on.
	Merger *board.PRMerger
}

// Orchestrator owns the scheduling loop.
type Orchestrator struct {
	deps   Deps
	logger *logging.Logger

	mu       sync.Mutex
	inFlight map[int]bool // issue number -> supervisor running
	wg       sync.WaitGroup
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:     deps,
		logger:   deps.Logger.WithComponent("orchestrator"),
		inFlight: make(map[int]bool),
	}
}

// Run executes the loop until ctx is cancelled, then stops every worker
// and waits for all supervisors.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.startup(ctx); err != nil {
		return err
	}

	watcher, err := newActivityWatcher(o.deps.Layout, o.deps.Registry, o.logger)
	if err != nil {
		o.logger.Warn("activity watcher unavailable", "error", err)
	} else {
		go watcher.run(ctx)
		defer watcher.close()
	}

	tick := time.NewTicker(o.deps.Config.Intervals.Tick())
	defer tick.Stop()
	reconcile := time.NewTicker(o.deps.Config.Intervals.Reconcile())
	defer reconcile.Stop()

	o.logger.Info("orchestrator running",
		"tick", o.deps.Config.Intervals.Tick().String(),
		"capacity", o.deps.Config.TotalCapacity())

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case <-tick.C:
			o.dispatch(ctx)
		case <-reconcile.C:
			stats := o.deps.Registry.SyncAllFieldsFromBoard(ctx)
			o.logger.Info("reconciliation complete",
				"synced", stats.Synced, "conflicts", stats.Conflicts,
				"removed", stats.Removed, "cleared_stale", stats.ClearedStale,
				"errors", stats.Errors)
		}
	}
}

// startup restores board commitments into the registry, re-derives the
// slot pool, and runs the first reconciliation.
func (o *Orchestrator) startup(ctx context.Context) error {
	restored, err := o.deps.Registry.RebuildFromBoard(ctx)
	if err != nil {
		return err
	}
	if restored > 0 {
		o.logger.Info("restored commitments from board", "count", restored)
	}

	for _, a := range o.deps.Registry.List() {
		if !a.Status.Live() {
			continue
		}
		if err := o.deps.Slots.MarkInUse(a.InstanceID); err != nil {
			o.logger.Warn("could not reserve restored slot",
				"instance_id", a.InstanceID, "error", err)
		}
	}

	stats := o.deps.Registry.SyncAllFieldsFromBoard(ctx)
	o.logger.Info("initial reconciliation",
		"synced", stats.Synced, "conflicts", stats.Conflicts,
		"removed", stats.Removed, "cleared_stale", stats.ClearedStale)
	return nil
}

// dispatch picks ready items up to the free slot count and spawns a
// supervisor for each.
func (o *Orchestrator) dispatch(ctx context.Context) {
	free := o.deps.Slots.FreeTotal()
	if free <= 0 {
		return
	}

	candidates, err := o.pickCandidates(ctx, free)
	if err != nil {
		o.logger.Warn("candidate selection failed", "error", err)
		return
	}

	for _, item := range candidates {
		if o.deps.Slots.FreeTotal() <= 0 {
			return
		}
		o.spawn(ctx, item)
	}
}

// pickCandidates asks the evaluator for ready items, narrowed by the epic
// coordinator when epic mode is on.
func (o *Orchestrator) pickCandidates(ctx context.Context, limit int) ([]supervisor.Item, error) {
	if o.deps.Epic == nil {
		picked, err := o.deps.Evaluator.PickReadyItems(ctx, limit)
		if err != nil {
			return nil, err
		}
		items := make([]supervisor.Item, 0, len(picked))
		for _, it := range picked {
			items = append(items, supervisor.Item{Board: it})
		}
		return items, nil
	}

	// Epic sequencing needs the whole board, not just the ready page: the
	// current phase is defined by what is not yet complete.
	all, err := o.deps.Board.ListAllItems(ctx)
	if err != nil {
		return nil, err
	}
	allowed := o.deps.Epic.Restrict(all)
	if len(allowed) > limit {
		allowed = allowed[:limit]
	}

	items := make([]supervisor.Item, 0, len(allowed))
	for _, it := range allowed {
		si := supervisor.Item{Board: it}
		if o.deps.Epic.IsMaster(it) {
			si.SiblingBranches = o.deps.Epic.SiblingBranches(all, it)
		}
		items = append(items, si)
	}
	return items, nil
}

// spawn runs one lifecycle supervisor in its own goroutine. Items already
// in flight or already registered are skipped.
func (o *Orchestrator) spawn(ctx context.Context, item supervisor.Item) {
	issue := item.Board.IssueNumber

	o.mu.Lock()
	if o.inFlight[issue] {
		o.mu.Unlock()
		return
	}
	if _, err := o.deps.Registry.GetByIssue(issue); err == nil {
		o.mu.Unlock()
		return
	}
	o.inFlight[issue] = true
	o.mu.Unlock()

	provider, ok := o.chooseProvider()
	if !ok {
		o.mu.Lock()
		delete(o.inFlight, issue)
		o.mu.Unlock()
		return
	}

	o.logger.Info("dispatching item",
		"issue", issue, "title", item.Board.Title, "provider", string(provider))

	sup := supervisor.New(supervisor.Deps{
		Config:    o.deps.Config,
		Registry:  o.deps.Registry,
		Board:     o.deps.Board,
		Worktrees: o.deps.Worktrees,
		Slots:     o.deps.Slots,
		Procs:     o.deps.Procs,
		Layout:    o.deps.Layout,
		Epic:      o.deps.Epic,
		Logger:    o.deps.Logger,
		Bus:       o.deps.Bus,
		Merger:    o.deps.Merger,
	}, item, provider)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.inFlight, issue)
			o.mu.Unlock()
		}()
		if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
			o.logger.Warn("supervisor ended with error", "issue", issue, "error", err)
		}
	}()
}

// chooseProvider returns the configured provider with the most free
// slots.
func (o *Orchestrator) chooseProvider() (assignment.Provider, bool) {
	var best assignment.Provider
	bestFree := 0
	for name := range o.deps.Config.Providers {
		p := assignment.Provider(name)
		if !p.Valid() {
			continue
		}
		if free := o.deps.Slots.Free(p); free > bestFree {
			best, bestFree = p, free
		}
	}
	return best, bestFree > 0
}

// shutdown waits for every supervisor, then force-stops any worker a
// supervisor did not reap.
func (o *Orchestrator) shutdown() {
	o.logger.Info("shutting down, waiting for supervisors")
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.deps.Config.Intervals.StopGrace() + 5*time.Second):
		o.logger.Warn("supervisors did not stop in time")
	}
	o.deps.Procs.StopAll()
	// Clean shutdown is the only point worktree registrations are pruned.
	if err := o.deps.Worktrees.Prune(); err != nil {
		o.logger.Warn("worktree prune failed", "error", err)
	}
	o.logger.Info("shutdown complete")
}
