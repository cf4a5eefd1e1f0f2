package orchestrator

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/config"
	"github.com/autodevhq/autodev/internal/epic"
	"github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/evaluator"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
	"github.com/autodevhq/autodev/internal/proc"
	"github.com/autodevhq/autodev/internal/registry"
	"github.com/autodevhq/autodev/internal/slots"
)

type fakeBoard struct {
	mu    sync.Mutex
	items map[string]*board.Item
}

func newFakeBoard(items ...board.Item) *fakeBoard {
	fb := &fakeBoard{items: make(map[string]*board.Item)}
	for i := range items {
		item := items[i]
		fb.items[item.ID] = &item
	}
	return fb
}

func (f *fakeBoard) ListItems(context.Context, board.ListFilter) (board.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []board.Item
	for _, item := range f.items {
		out = append(out, *item)
	}
	return board.ListResult{Items: out}, nil
}

func (f *fakeBoard) ListAllItems(ctx context.Context) ([]board.Item, error) {
	res, err := f.ListItems(ctx, board.ListFilter{})
	return res.Items, err
}

func (f *fakeBoard) GetStatus(_ context.Context, itemID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		return item.Status, nil
	}
	return "", errors.ErrItemNotFound
}

func (f *fakeBoard) SetStatus(_ context.Context, itemID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.Status = status
		return nil
	}
	return errors.ErrItemNotFound
}

func (f *fakeBoard) GetAssignedInstance(_ context.Context, itemID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		return item.AssignedInstance, nil
	}
	return "", errors.ErrItemNotFound
}

func (f *fakeBoard) SetAssignedInstance(_ context.Context, itemID, instance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.AssignedInstance = instance
		return nil
	}
	return errors.ErrItemNotFound
}

func (f *fakeBoard) ItemForIssue(_ context.Context, issueNumber int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.items {
		if item.IssueNumber == issueNumber {
			return id, nil
		}
	}
	return "", errors.ErrItemNotFound
}

func (f *fakeBoard) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Status
}

type fakeWorktrees struct {
	root   string
	pruned atomic.Int32
}

func (f *fakeWorktrees) Ensure(path, _ string) error { return os.MkdirAll(path, 0o755) }
func (f *fakeWorktrees) Prune() error                { f.pruned.Add(1); return nil }
func (f *fakeWorktrees) RepoRoot() string            { return f.root }

func newTestDeps(t *testing.T, fb *fakeBoard, script string, capacity int) Deps {
	t.Helper()
	layout := paths.NewLayout(t.TempDir())
	if err := layout.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Providers = map[string]config.ProviderConfig{
		"claude": {Binary: "sh", Args: []string{"-c", script}, Capacity: capacity},
	}
	cfg.Intervals.TickSeconds = 1
	cfg.Intervals.PromptDelayMs = 10
	cfg.Intervals.MonitorPollSeconds = 1
	cfg.Intervals.StopGraceSeconds = 2

	reg := registry.New(fb, board.DefaultMapping(), logging.Nop(), nil)
	return Deps{
		Config:    cfg,
		Registry:  reg,
		Board:     fb,
		Evaluator: evaluator.New(fb, board.DefaultMapping(), logging.Nop()),
		Worktrees: &fakeWorktrees{root: t.TempDir()},
		Slots:     slots.New(map[assignment.Provider]int{assignment.ProviderClaude: capacity}),
		Procs:     proc.NewSupervisor(layout, logging.Nop(), nil, 2*time.Second),
		Layout:    layout,
		Logger:    logging.Nop(),
	}
}

func TestStartupRestoresSlotsFromBoard(t *testing.T) {
	fb := newFakeBoard(
		board.Item{ID: "item-1", IssueNumber: 1, Status: "In Progress", AssignedInstance: "claude-0"},
		board.Item{ID: "item-2", IssueNumber: 2, Status: "Ready"},
	)
	deps := newTestDeps(t, fb, "true", 2)
	o := New(deps)

	if err := o.startup(context.Background()); err != nil {
		t.Fatalf("startup: %v", err)
	}

	if free := deps.Slots.FreeTotal(); free != 1 {
		t.Errorf("free slots = %d, want 1 after restoring claude-0", free)
	}
	a, err := deps.Registry.GetByIssue(1)
	if err != nil {
		t.Fatalf("restored assignment missing: %v", err)
	}
	if a.InstanceID != "claude-0" || a.Status != assignment.StatusInProgress {
		t.Errorf("restored assignment = %s/%s", a.InstanceID, a.Status)
	}
}

func TestChooseProviderPrefersMostFree(t *testing.T) {
	deps := newTestDeps(t, newFakeBoard(), "true", 2)
	deps.Config.Providers["gemini"] = config.ProviderConfig{Binary: "sh", Capacity: 1}
	deps.Slots = slots.New(map[assignment.Provider]int{
		assignment.ProviderClaude: 2,
		assignment.ProviderGemini: 1,
	})
	o := New(deps)

	p, ok := o.chooseProvider()
	if !ok || p != assignment.ProviderClaude {
		t.Errorf("chooseProvider = %s/%v, want claude", p, ok)
	}

	// Exhaust claude; gemini takes over.
	_, _ = deps.Slots.Acquire(assignment.ProviderClaude)
	_, _ = deps.Slots.Acquire(assignment.ProviderClaude)
	p, ok = o.chooseProvider()
	if !ok || p != assignment.ProviderGemini {
		t.Errorf("chooseProvider = %s/%v, want gemini", p, ok)
	}

	_, _ = deps.Slots.Acquire(assignment.ProviderGemini)
	if _, ok = o.chooseProvider(); ok {
		t.Error("chooseProvider should report exhaustion")
	}
}

func TestPickCandidatesEpicMode(t *testing.T) {
	fb := newFakeBoard(
		board.Item{ID: "i1", IssueNumber: 1, Title: "pay Phase 1: schema", Status: "Done"},
		board.Item{ID: "i2", IssueNumber: 2, Title: "pay Phase 1 MASTER", Status: "Ready"},
		board.Item{ID: "i3", IssueNumber: 3, Title: "pay Phase 2: later", Status: "Ready"},
	)
	deps := newTestDeps(t, fb, "true", 2)
	deps.Epic = epic.New("pay", "MASTER", board.DefaultMapping(), nil, logging.Nop())
	o := New(deps)

	items, err := o.pickCandidates(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Board.IssueNumber != 2 {
		t.Fatalf("candidates = %+v, want just the phase 1 master", items)
	}
	if len(items[0].SiblingBranches) != 1 || items[0].SiblingBranches[0] != "issue-1" {
		t.Errorf("siblings = %v, want [issue-1]", items[0].SiblingBranches)
	}
}

func TestRunDispatchesReadyItemToCompletion(t *testing.T) {
	fb := newFakeBoard(
		board.Item{ID: "item-5", IssueNumber: 5, Title: "Fix the flux capacitor", Status: "Ready"},
	)
	deps := newTestDeps(t, fb, `echo "AUTONOMOUS_SIGNAL: COMPLETE"`, 1)
	o := New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(15 * time.Second)
	for fb.status("item-5") != "Dev Complete" {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("item never reached Dev Complete, status %q", fb.status("item-5"))
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if free := deps.Slots.FreeTotal(); free != 1 {
		t.Errorf("free slots = %d, want 1 after completion", free)
	}
}

func TestRunStopsWorkersOnShutdown(t *testing.T) {
	fb := newFakeBoard(
		board.Item{ID: "item-6", IssueNumber: 6, Title: "Long running task", Status: "Ready"},
	)
	deps := newTestDeps(t, fb, "sleep 60", 1)
	o := New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(15 * time.Second)
	for !deps.Procs.IsRunning("claude-0") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("worker never started")
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if deps.Procs.IsRunning("claude-0") {
		t.Error("worker survived shutdown")
	}
	if deps.Worktrees.(*fakeWorktrees).pruned.Load() == 0 {
		t.Error("worktrees not pruned on clean shutdown")
	}
}

func TestInstanceFromLogName(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"output-claude-0.log", "claude-0", true},
		{"output-.log", "", false},
		{"debug.log", "", false},
		{"output-claude-0.txt", "", false},
	}
	for _, tt := range tests {
		got, ok := instanceFromLogName(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("instanceFromLogName(%q) = %q/%v, want %q/%v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}
