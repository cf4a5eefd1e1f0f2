package evaluator

import (
	"context"
	"testing"

	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/logging"
)

// pagedBoard serves canned pages and records the filter it saw.
type pagedBoard struct {
	pages      []board.ListResult
	seenFilter board.ListFilter
	calls      int
}

func (p *pagedBoard) ListItems(_ context.Context, filter board.ListFilter) (board.ListResult, error) {
	p.seenFilter = filter
	res := p.pages[p.calls]
	p.calls++
	return res, nil
}

func (p *pagedBoard) ListAllItems(context.Context) ([]board.Item, error) { return nil, nil }
func (p *pagedBoard) GetStatus(context.Context, string) (string, error)  { return "", nil }
func (p *pagedBoard) SetStatus(context.Context, string, string) error    { return nil }
func (p *pagedBoard) GetAssignedInstance(context.Context, string) (string, error) {
	return "", nil
}
func (p *pagedBoard) SetAssignedInstance(context.Context, string, string) error { return nil }
func (p *pagedBoard) ItemForIssue(context.Context, int) (string, error)         { return "", nil }

func TestPriorityRank(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"P0", 0},
		{"P1 - Critical", 1},
		{"p2", 2},
		{"3", 3},
		{"", int(^uint(0) >> 1)},
		{"High", int(^uint(0) >> 1)},
	}
	for _, tt := range tests {
		if got := PriorityRank(tt.in); got != tt.want {
			t.Errorf("PriorityRank(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPickReadyItemsOrdersByPriorityThenIssue(t *testing.T) {
	fb := &pagedBoard{pages: []board.ListResult{{Items: []board.Item{
		{ID: "a", IssueNumber: 10, Status: "Ready", Priority: "P2"},
		{ID: "b", IssueNumber: 5, Status: "Ready", Priority: "P0"},
		{ID: "c", IssueNumber: 3, Status: "Ready"},
		{ID: "d", IssueNumber: 7, Status: "Ready", Priority: "P0"},
	}}}}
	e := New(fb, board.DefaultMapping(), logging.Nop())

	got, err := e.PickReadyItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []int{5, 7, 10, 3}
	if len(got) != len(wantOrder) {
		t.Fatalf("got %d items, want %d", len(got), len(wantOrder))
	}
	for i, issue := range wantOrder {
		if got[i].IssueNumber != issue {
			t.Errorf("position %d: issue %d, want %d", i, got[i].IssueNumber, issue)
		}
	}
}

func TestPickReadyItemsSkipsDraftsAndClaimed(t *testing.T) {
	fb := &pagedBoard{pages: []board.ListResult{{Items: []board.Item{
		{ID: "a", IssueNumber: 0, Status: "Ready"},
		{ID: "b", IssueNumber: 5, Status: "Ready", AssignedInstance: "claude-0"},
		{ID: "c", IssueNumber: 6, Status: "Ready"},
	}}}}
	e := New(fb, board.DefaultMapping(), logging.Nop())

	got, err := e.PickReadyItems(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].IssueNumber != 6 {
		t.Fatalf("got %+v, want only issue 6", got)
	}
}

func TestPickReadyItemsHonorsLimitAndPages(t *testing.T) {
	fb := &pagedBoard{pages: []board.ListResult{
		{Items: []board.Item{{ID: "a", IssueNumber: 1, Status: "Ready"}}, NextCursor: "page2"},
		{Items: []board.Item{
			{ID: "b", IssueNumber: 2, Status: "Ready", Priority: "P0"},
			{ID: "c", IssueNumber: 3, Status: "Ready", Priority: "P1"},
		}},
	}}
	e := New(fb, board.DefaultMapping(), logging.Nop())

	got, err := e.PickReadyItems(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if fb.calls != 2 {
		t.Errorf("expected both pages fetched, got %d calls", fb.calls)
	}
	if len(got) != 2 || got[0].IssueNumber != 2 || got[1].IssueNumber != 3 {
		t.Fatalf("got %+v, want issues [2 3]", got)
	}
}

func TestPickReadyItemsZeroLimit(t *testing.T) {
	fb := &pagedBoard{}
	e := New(fb, board.DefaultMapping(), logging.Nop())

	got, err := e.PickReadyItems(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil without board calls", got)
	}
	if fb.calls != 0 {
		t.Errorf("board was queried despite zero limit")
	}
}
