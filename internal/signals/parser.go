// Package signals parses the in-band completion markers workers emit.
//
// The marker protocol is the sole contract between a worker CLI and the
// orchestrator: somewhere in its output stream the worker writes, on its
// own line, one of
//
//	AUTONOMOUS_SIGNAL:COMPLETE
//	AUTONOMOUS_SIGNAL:PR:<number>
//	AUTONOMOUS_SIGNAL:BLOCKED:<reason>
//	AUTONOMOUS_SIGNAL:FAILED:<reason>
//
// Parsing is a pure function over log bytes; nothing here touches the
// process or the board.
package signals

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// Prefix is the marker prefix workers must use.
const Prefix = "AUTONOMOUS_SIGNAL:"

// Verdict classifies the outcome of a worker session.
type Verdict int

const (
	// VerdictNone means no explicit signal was found.
	VerdictNone Verdict = iota
	// VerdictLikelyComplete is the weak heuristic verdict: no explicit
	// COMPLETE marker, but the output mentions creating a pull request.
	// Consumed only for phase-master items.
	VerdictLikelyComplete
	// VerdictComplete means the worker signalled successful completion.
	VerdictComplete
	// VerdictBlocked means the worker signalled it cannot proceed.
	VerdictBlocked
	// VerdictFailed means the worker signalled an unrecoverable error.
	VerdictFailed
)

// String returns the verdict name for log output.
func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictLikelyComplete:
		return "likely-complete"
	case VerdictComplete:
		return "complete"
	case VerdictBlocked:
		return "blocked"
	case VerdictFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the classification of one log's worth of worker output.
type Result struct {
	Verdict Verdict
	// Reason carries the text after BLOCKED: or FAILED:.
	Reason string
	// PRNumber is the pull request number from PR:<n>, or from the
	// heuristic scan. Zero when absent.
	PRNumber int
}

// prLineRe matches the heuristic "Pull request created ... #123" phrasing
// some CLIs print when they open a PR without emitting an explicit marker.
var prLineRe = regexp.MustCompile(`(?i)pull request (?:created|opened|updated)`)

// prNumberRe extracts a #<digits> token.
var prNumberRe = regexp.MustCompile(`#(\d+)`)

// Parse scans the full content of a worker output log and classifies it.
//
// Precedence when multiple markers appear is FAILED > BLOCKED > COMPLETE.
// PR:<n> is independent and augments whichever verdict wins. When no
// explicit marker is present, a secondary heuristic looks for a
// "pull request created" phrase plus a #<n> token and yields
// VerdictLikelyComplete.
func Parse(content []byte) Result {
	var res Result
	var sawComplete, sawBlocked, sawFailed bool
	var blockedReason, failedReason string
	var heuristicPR int

	scanner := bufio.NewScanner(bytes.NewReader(content))
	// Worker logs can contain very long lines of raw terminal output.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if rest, ok := strings.CutPrefix(line, Prefix); ok {
			// Some CLIs pad the marker with a space after the colon.
			rest = strings.TrimSpace(rest)
			switch {
			case rest == "COMPLETE":
				sawComplete = true
			case strings.HasPrefix(rest, "PR:"):
				if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(rest, "PR:"))); err == nil && n > 0 {
					res.PRNumber = n
				}
			case strings.HasPrefix(rest, "BLOCKED:"):
				sawBlocked = true
				blockedReason = strings.TrimSpace(strings.TrimPrefix(rest, "BLOCKED:"))
			case strings.HasPrefix(rest, "FAILED:"):
				sawFailed = true
				failedReason = strings.TrimSpace(strings.TrimPrefix(rest, "FAILED:"))
			}
			continue
		}

		// Heuristic PR detection for workers that report a PR in prose.
		if heuristicPR == 0 && prLineRe.MatchString(line) {
			if m := prNumberRe.FindStringSubmatch(line); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					heuristicPR = n
				}
			}
		}
	}

	switch {
	case sawFailed:
		res.Verdict = VerdictFailed
		res.Reason = failedReason
	case sawBlocked:
		res.Verdict = VerdictBlocked
		res.Reason = blockedReason
	case sawComplete:
		res.Verdict = VerdictComplete
	case heuristicPR > 0:
		res.Verdict = VerdictLikelyComplete
		if res.PRNumber == 0 {
			res.PRNumber = heuristicPR
		}
	default:
		res.Verdict = VerdictNone
	}

	return res
}

// Contract returns the completion-signal contract text appended to every
// prompt. It is defined here, next to the parser, so the emitting and
// consuming sides cannot drift apart.
func Contract() string {
	var sb strings.Builder
	sb.WriteString("## Completion Signals - MANDATORY\n\n")
	sb.WriteString("When you finish, you MUST print exactly one of the following markers on its own line:\n\n")
	sb.WriteString("- `" + Prefix + "COMPLETE` - work finished successfully\n")
	sb.WriteString("- `" + Prefix + "BLOCKED:<reason>` - you cannot proceed; explain why\n")
	sb.WriteString("- `" + Prefix + "FAILED:<reason>` - unrecoverable error; explain why\n\n")
	sb.WriteString("If you created or updated a pull request, additionally print:\n\n")
	sb.WriteString("- `" + Prefix + "PR:<number>` - the pull request number\n\n")
	sb.WriteString("The orchestrator treats an exit without a marker as a crash and will restart you once.\n")
	return sb.String()
}
