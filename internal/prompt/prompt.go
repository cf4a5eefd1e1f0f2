// Package prompt builds the prompts handed to worker CLIs. Building is a
// pure function of the assignment and its context; nothing here performs
// I/O. Every prompt ends with the completion-signal contract from the
// signals package, which is the sole protocol between worker and
// orchestrator.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/signals"
)

// Kind selects the prompt variant.
type Kind string

const (
	// KindInitial is for a stand-alone issue: implement, test, PR.
	KindInitial Kind = "initial"
	// KindWorkItem is for an item inside a phase: implement and push, but
	// no PR; the phase master merges the branch.
	KindWorkItem Kind = "workItem"
	// KindPhaseMaster is for the integration item of a phase: merge all
	// sibling branches, resolve conflicts, test, open the PR.
	KindPhaseMaster Kind = "phaseMaster"
	// KindContinuation is sent on the single resurrection after an
	// unexpected exit.
	KindContinuation Kind = "continuation"
)

// Validation errors returned by Build.
var (
	ErrNilContext        = errors.New("prompt context is nil")
	ErrMissingAssignment = errors.New("prompt context missing assignment")
	ErrUnknownKind       = errors.New("unknown prompt kind")
)

// Context carries everything a prompt variant can mention.
type Context struct {
	Kind         Kind
	Assignment   *assignment.Assignment
	WorktreePath string

	// IssueTitle and IssueBody describe the work item.
	IssueTitle string
	IssueBody  string

	// EpicName and Phase are set for items inside an epic.
	EpicName string
	Phase    int

	// SiblingBranches lists the work-item branches a phase master must
	// merge.
	SiblingBranches []string

	// PreviousSummary carries the last session's summary for
	// continuation prompts; may be empty.
	PreviousSummary string
}

// Build returns the prompt for the context.
func Build(ctx *Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	if ctx.Assignment == nil {
		return "", ErrMissingAssignment
	}

	var body string
	var err error
	switch ctx.Kind {
	case KindInitial:
		body, err = buildInitial(ctx)
	case KindWorkItem:
		body, err = buildWorkItem(ctx)
	case KindPhaseMaster:
		body, err = buildPhaseMaster(ctx)
	case KindContinuation:
		body, err = buildContinuation(ctx)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, ctx.Kind)
	}
	if err != nil {
		return "", err
	}

	return body + "\n" + signals.Contract(), nil
}

func writeHeader(sb *strings.Builder, ctx *Context) {
	fmt.Fprintf(sb, "# Issue #%d: %s\n\n", ctx.Assignment.IssueNumber, ctx.IssueTitle)
	fmt.Fprintf(sb, "You are working in the git worktree at `%s` on branch `%s`.\n",
		ctx.WorktreePath, ctx.Assignment.BranchName)
	sb.WriteString("The branch already exists and is checked out; do not create or switch branches.\n\n")

	if ctx.IssueBody != "" {
		sb.WriteString("## Issue Description\n\n")
		sb.WriteString(strings.TrimSpace(ctx.IssueBody))
		sb.WriteString("\n\n")
	}
}

func writeQualityGates(sb *strings.Builder, meta assignment.Metadata) {
	sb.WriteString("## Requirements\n\n")
	if meta.RequiresTests {
		sb.WriteString("- Write or update tests covering your changes and make the full test suite pass.\n")
	} else {
		sb.WriteString("- Run the existing test suite and keep it passing.\n")
	}
	if meta.RequiresCI {
		sb.WriteString("- Push the branch so CI runs; check that CI is green before signalling completion.\n")
	}
	sb.WriteString("- Commit all of your work before signalling completion.\n\n")
}

func buildInitial(ctx *Context) (string, error) {
	var sb strings.Builder
	writeHeader(&sb, ctx)

	sb.WriteString("## Your Task\n\n")
	sb.WriteString("Implement this issue end to end:\n\n")
	sb.WriteString("1. Read the relevant code and understand the existing conventions.\n")
	sb.WriteString("2. Implement the change on the current branch.\n")
	sb.WriteString("3. Commit with clear messages.\n")
	sb.WriteString("4. Push the branch and create a pull request referencing the issue.\n\n")

	writeQualityGates(&sb, ctx.Assignment.Metadata)
	return sb.String(), nil
}

func buildWorkItem(ctx *Context) (string, error) {
	var sb strings.Builder
	writeHeader(&sb, ctx)

	if ctx.EpicName != "" {
		fmt.Fprintf(&sb, "This item is part of phase %d of the %q epic.\n\n", ctx.Phase, ctx.EpicName)
	}

	sb.WriteString("## Your Task\n\n")
	sb.WriteString("Implement this work item on the current branch:\n\n")
	sb.WriteString("1. Read the relevant code and understand the existing conventions.\n")
	sb.WriteString("2. Implement the change.\n")
	sb.WriteString("3. Commit with clear messages and push the branch.\n\n")
	sb.WriteString("Do NOT create a pull request. The phase master will merge your branch ")
	sb.WriteString("together with the other work items of this phase.\n\n")

	writeQualityGates(&sb, ctx.Assignment.Metadata)
	return sb.String(), nil
}

func buildPhaseMaster(ctx *Context) (string, error) {
	var sb strings.Builder
	writeHeader(&sb, ctx)

	if ctx.EpicName != "" {
		fmt.Fprintf(&sb, "You are the integration master for phase %d of the %q epic.\n\n", ctx.Phase, ctx.EpicName)
	}

	sb.WriteString("## Your Task\n\n")
	sb.WriteString("All work items of this phase are complete. Integrate them:\n\n")
	if len(ctx.SiblingBranches) > 0 {
		sb.WriteString("Merge each of these branches into the current branch, in order:\n\n")
		for _, branch := range ctx.SiblingBranches {
			fmt.Fprintf(&sb, "- `%s`\n", branch)
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Merge every sibling work-item branch of this phase into the current branch.\n\n")
	}
	sb.WriteString("Resolve any merge conflicts, keeping the intent of every work item.\n")
	sb.WriteString("Run the full test suite and fix integration breakage.\n")
	sb.WriteString("Push the branch and create a pull request for the whole phase.\n\n")

	writeQualityGates(&sb, ctx.Assignment.Metadata)
	return sb.String(), nil
}

func buildContinuation(ctx *Context) (string, error) {
	var sb strings.Builder
	writeHeader(&sb, ctx)

	sb.WriteString("## Session Restarted\n\n")
	sb.WriteString("A previous session on this assignment exited unexpectedly without a completion signal.\n")
	if ctx.PreviousSummary != "" {
		sb.WriteString("Summary of the previous session:\n\n")
		sb.WriteString(strings.TrimSpace(ctx.PreviousSummary))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Inspect the current state of the worktree first: `git status`, `git log`, ")
	sb.WriteString("and any uncommitted changes. Continue the work from where it stopped ")
	sb.WriteString("rather than starting over.\n\n")

	writeQualityGates(&sb, ctx.Assignment.Metadata)
	return sb.String(), nil
}
