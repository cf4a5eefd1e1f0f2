// Package worktree provides the git working-tree operations the
// orchestrator needs: ensure a tree exists for a branch, remove it, prune
// stale registrations, and answer branch questions. Everything shells out
// to git; command execution is injectable so tests never touch a real
// repository.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/logging"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command in dir and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command in dir and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (a directory for a
// normal repo, a file for a linked worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no .git found above %s", errors.ErrNotGitRepository, startDir)
		}
		dir = parent
	}
}

// Provider manages working trees for one repository.
type Provider struct {
	repoRoot string
	executor CommandExecutor
	logger   *logging.Logger
}

// New creates a Provider rooted at the repository containing repoDir.
func New(repoDir string, logger *logging.Logger) (*Provider, error) {
	root, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	return NewWithExecutor(root, logger, NewCLICommandExecutor()), nil
}

// NewWithExecutor creates a Provider with a custom executor for testing.
// repoRoot is trusted to be a repository root.
func NewWithExecutor(repoRoot string, logger *logging.Logger, executor CommandExecutor) *Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Provider{
		repoRoot: repoRoot,
		executor: executor,
		logger:   logger.WithComponent("worktree"),
	}
}

// RepoRoot returns the repository root the provider operates on.
func (p *Provider) RepoRoot() string {
	return p.repoRoot
}

// Ensure makes a working tree exist at path tracking branch, creating the
// branch from the default branch when it does not exist yet.
//
// Ensure is idempotent: calling it twice with identical arguments on a
// consistent filesystem never fails. Orphans heal in both directions: a
// registration whose directory is gone is pruned, and a directory that git
// no longer knows about is deleted and recreated.
func (p *Provider) Ensure(path, branch string) error {
	dirExists := false
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		dirExists = true
		current, err := p.currentBranch(path)
		if err == nil && current == branch {
			return nil
		}
		if err == nil {
			return errors.NewWorktreeError("path holds a different branch", nil).
				WithPath(path).WithBranch(current)
		}
		// Directory exists but git cannot answer for it; reclaim below.
	}

	registered, err := p.List()
	if err != nil {
		return err
	}
	isRegistered := false
	for _, wt := range registered {
		if wt == path {
			isRegistered = true
			break
		}
	}

	switch {
	case dirExists:
		// A directory that is not a usable worktree, registered or not:
		// delete it and prune so the add starts clean.
		p.logger.Warn("reclaiming orphaned worktree directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return errors.NewWorktreeError("failed to remove orphaned directory", err).
				WithPath(path)
		}
		if err := p.Prune(); err != nil {
			return err
		}
	case isRegistered:
		// Registered but the directory is gone.
		p.logger.Warn("pruning orphaned worktree registration", "path", path)
		if err := p.Prune(); err != nil {
			return err
		}
	}

	exists, err := p.BranchExists(branch)
	if err != nil {
		return err
	}

	var output []byte
	if exists {
		output, err = p.executor.Run(p.repoRoot, "git", "worktree", "add", path, branch)
	} else {
		base, baseErr := p.DefaultBranch()
		if baseErr != nil {
			return baseErr
		}
		output, err = p.executor.Run(p.repoRoot, "git", "worktree", "add", "-b", branch, path, base)
	}
	if err != nil {
		return errors.NewWorktreeError("failed to create worktree", err).
			WithPath(path).WithBranch(branch).WithGitOutput(string(output))
	}

	p.logger.Info("worktree ready", "path", path, "branch", branch)
	return nil
}

// Remove removes the working tree at path. When the git-side removal fails
// (common with untracked files), it falls back to deleting the directory
// and pruning the registration.
func (p *Provider) Remove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	output, err := p.executor.Run(p.repoRoot, "git", args...)
	if err == nil {
		return nil
	}

	p.logger.Warn("git worktree remove failed, falling back to manual cleanup",
		"path", path, "output", strings.TrimSpace(string(output)))

	if rmErr := os.RemoveAll(path); rmErr != nil {
		return errors.NewWorktreeError("failed to remove worktree directory", rmErr).
			WithPath(path).WithGitOutput(string(output))
	}
	return p.Prune()
}

// Prune removes stale worktree registrations.
func (p *Provider) Prune() error {
	output, err := p.executor.Run(p.repoRoot, "git", "worktree", "prune")
	if err != nil {
		return errors.NewWorktreeError("failed to prune worktrees", err).
			WithGitOutput(string(output))
	}
	return nil
}

// List returns the paths of all registered working trees.
func (p *Provider) List() ([]string, error) {
	output, err := p.executor.Run(p.repoRoot, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewWorktreeError("failed to list worktrees", err).
			WithGitOutput(string(output))
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		if rest, ok := strings.CutPrefix(line, "worktree "); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}

// DefaultBranch returns the repository's default branch. It prefers the
// remote HEAD, then falls back to main or master.
func (p *Provider) DefaultBranch() (string, error) {
	output, err := p.executor.Run(p.repoRoot, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(output))
		if name, ok := strings.CutPrefix(ref, "refs/remotes/origin/"); ok && name != "" {
			return name, nil
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if err := p.executor.RunQuiet(p.repoRoot, "git", "rev-parse", "--verify", candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.ErrNoDefaultBranch
}

// BranchExists reports whether a local branch exists.
func (p *Provider) BranchExists(name string) (bool, error) {
	err := p.executor.RunQuiet(p.repoRoot, "git", "rev-parse", "--verify", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	// exec.Error or similar: git itself could not run.
	if _, ok := err.(*exec.Error); ok {
		return false, errors.NewWorktreeError("git not available", err)
	}
	return false, nil
}

// BranchMergedIntoDefault reports whether branch is fully merged into the
// remote default branch. Used by phase gating to decide a phase is
// complete.
func (p *Provider) BranchMergedIntoDefault(branch string) (bool, error) {
	base, err := p.DefaultBranch()
	if err != nil {
		return false, err
	}
	// Zero commits in base..branch means everything on branch is reachable
	// from base.
	output, err := p.executor.Run(p.repoRoot, "git", "rev-list", "--count", base+".."+branch)
	if err != nil {
		return false, errors.NewWorktreeError("failed to count unmerged commits", err).
			WithBranch(branch).WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)) == "0", nil
}

// HasUncommittedChanges reports whether a working tree has uncommitted
// changes.
func (p *Provider) HasUncommittedChanges(path string) (bool, error) {
	output, err := p.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewWorktreeError("failed to check status", err).
			WithPath(path).WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Push pushes the working tree's current branch to origin.
func (p *Provider) Push(path string, force bool) error {
	args := []string{"push", "-u", "origin", "HEAD"}
	if force {
		args = append(args, "--force-with-lease")
	}
	output, err := p.executor.Run(path, "git", args...)
	if err != nil {
		return errors.NewWorktreeError("failed to push", err).
			WithPath(path).WithGitOutput(string(output))
	}
	return nil
}

// currentBranch returns the checked-out branch of a working tree.
func (p *Provider) currentBranch(path string) (string, error) {
	output, err := p.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewWorktreeError("failed to resolve branch", err).
			WithPath(path).WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}
