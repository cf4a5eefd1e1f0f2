// Package paths centralizes the on-disk layout of orchestrator state.
//
// Everything durable lives under <repo-root>/.autonomous/:
//
//	logs/output-<instanceId>.log       append-only worker output
//	sessions/instance-<instanceId>.json  transient session metadata
//	prompts/prompt-<instanceId>.txt    exact prompt passed to the worker
//	debug.log                          orchestrator's own structured log
//
// Working trees live outside the repository, at a configured base
// directory (default the repo's parent), named <project>-issue-<N> or
// <project>-project-<N>.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName is the directory under the repository root holding all
// orchestrator state.
const StateDirName = ".autonomous"

// Layout resolves paths for one repository root.
type Layout struct {
	repoRoot string
}

// NewLayout creates a Layout rooted at repoRoot.
func NewLayout(repoRoot string) *Layout {
	return &Layout{repoRoot: repoRoot}
}

// StateDir returns <repo-root>/.autonomous.
func (l *Layout) StateDir() string {
	return filepath.Join(l.repoRoot, StateDirName)
}

// LogsDir returns the worker output log directory.
func (l *Layout) LogsDir() string {
	return filepath.Join(l.StateDir(), "logs")
}

// SessionsDir returns the transient session metadata directory.
func (l *Layout) SessionsDir() string {
	return filepath.Join(l.StateDir(), "sessions")
}

// PromptsDir returns the prompt archive directory.
func (l *Layout) PromptsDir() string {
	return filepath.Join(l.StateDir(), "prompts")
}

// OutputLog returns the append-only output log path for an instance.
func (l *Layout) OutputLog(instanceID string) string {
	return filepath.Join(l.LogsDir(), fmt.Sprintf("output-%s.log", instanceID))
}

// SessionFile returns the session metadata path for an instance.
func (l *Layout) SessionFile(instanceID string) string {
	return filepath.Join(l.SessionsDir(), fmt.Sprintf("instance-%s.json", instanceID))
}

// PromptFile returns the archived prompt path for an instance.
func (l *Layout) PromptFile(instanceID string) string {
	return filepath.Join(l.PromptsDir(), fmt.Sprintf("prompt-%s.txt", instanceID))
}

// EnsureDirs creates the state directory tree.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.LogsDir(), l.SessionsDir(), l.PromptsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory %s: %w", dir, err)
		}
	}
	return nil
}

// IssueWorktree returns the working tree path for a stand-alone issue or
// phase work item: <baseDir>/<project>-issue-<N>.
func IssueWorktree(baseDir, project string, issueNumber int) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-issue-%d", project, issueNumber))
}

// ProjectWorktree returns the shared working tree path for a phase master:
// <baseDir>/<project>-project-<N>. Project worktrees are shared across
// issues in the same epic and persist across supervisors.
func ProjectWorktree(baseDir, project string, issueNumber int) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s-project-%d", project, issueNumber))
}

// IssueBranch returns the branch name a worker commits to for an issue.
func IssueBranch(issueNumber int) string {
	return fmt.Sprintf("issue-%d", issueNumber)
}
