package prompt

import (
	"strings"
	"testing"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/signals"
)

func baseContext(kind Kind) *Context {
	return &Context{
		Kind: kind,
		Assignment: &assignment.Assignment{
			ID:          "a1",
			IssueNumber: 42,
			InstanceID:  "claude-0",
			BranchName:  "autodev/issue-42",
			Metadata:    assignment.Metadata{RequiresTests: true},
		},
		WorktreePath: "/work/proj-issue-42",
		IssueTitle:   "Add retry logic to uploader",
		IssueBody:    "Uploads fail on transient network errors.",
	}
}

func TestEveryKindAppendsSignalContract(t *testing.T) {
	for _, kind := range []Kind{KindInitial, KindWorkItem, KindPhaseMaster, KindContinuation} {
		t.Run(string(kind), func(t *testing.T) {
			got, err := Build(baseContext(kind))
			if err != nil {
				t.Fatalf("Build(%s): %v", kind, err)
			}
			if !strings.Contains(got, signals.Prefix+"COMPLETE") {
				t.Error("missing COMPLETE marker in contract")
			}
			if !strings.Contains(got, signals.Prefix+"BLOCKED:") {
				t.Error("missing BLOCKED marker in contract")
			}
			if !strings.Contains(got, signals.Prefix+"FAILED:") {
				t.Error("missing FAILED marker in contract")
			}
			if !strings.Contains(got, signals.Prefix+"PR:") {
				t.Error("missing PR marker in contract")
			}
		})
	}
}

func TestInitialPromptRequestsPR(t *testing.T) {
	got, err := Build(baseContext(KindInitial))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "create a pull request") {
		t.Error("initial prompt must request a PR")
	}
	if !strings.Contains(got, "Issue #42") || !strings.Contains(got, "Add retry logic") {
		t.Error("initial prompt must carry issue number and title")
	}
	if !strings.Contains(got, "autodev/issue-42") {
		t.Error("initial prompt must name the branch")
	}
}

func TestWorkItemPromptForbidsPR(t *testing.T) {
	ctx := baseContext(KindWorkItem)
	ctx.EpicName = "billing-rework"
	ctx.Phase = 2

	got, err := Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Do NOT create a pull request") {
		t.Error("work item prompt must forbid PR creation")
	}
	if !strings.Contains(got, "phase 2") || !strings.Contains(got, "billing-rework") {
		t.Error("work item prompt must mention its phase and epic")
	}
}

func TestPhaseMasterPromptListsSiblings(t *testing.T) {
	ctx := baseContext(KindPhaseMaster)
	ctx.SiblingBranches = []string{"autodev/issue-40", "autodev/issue-41"}

	got, err := Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, branch := range ctx.SiblingBranches {
		if !strings.Contains(got, branch) {
			t.Errorf("master prompt missing sibling branch %s", branch)
		}
	}
	if !strings.Contains(got, "create a pull request") {
		t.Error("master prompt must request the phase PR")
	}
}

func TestContinuationPromptMentionsPreviousSummary(t *testing.T) {
	ctx := baseContext(KindContinuation)
	ctx.PreviousSummary = "Implemented retry wrapper, tests not yet run."

	got, err := Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, ctx.PreviousSummary) {
		t.Error("continuation prompt must carry the previous session summary")
	}
	if !strings.Contains(got, "git status") {
		t.Error("continuation prompt must direct state inspection")
	}
}

func TestQualityGatesFollowMetadata(t *testing.T) {
	ctx := baseContext(KindInitial)
	ctx.Assignment.Metadata = assignment.Metadata{RequiresTests: false, RequiresCI: true}

	got, err := Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got, "Write or update tests") {
		t.Error("tests not required; prompt should only ask to keep the suite passing")
	}
	if !strings.Contains(got, "CI is green") {
		t.Error("CI required; prompt must gate on CI")
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		ctx     *Context
		wantErr error
	}{
		{"nil context", nil, ErrNilContext},
		{"missing assignment", &Context{Kind: KindInitial}, ErrMissingAssignment},
		{"unknown kind", func() *Context { c := baseContext("bogus"); return c }(), ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.ctx)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Errorf("Build = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
