package board

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/autodevhq/autodev/internal/logging"
)

// PRMerger flips GitHub's auto-merge switch on worker-created pull
// requests, so they land as soon as CI passes. Used only when the
// operator opted in with --auto-merge.
type PRMerger struct {
	executor CommandExecutor
	logger   *logging.Logger
}

// NewPRMerger creates a PRMerger using the gh CLI.
func NewPRMerger(logger *logging.Logger) *PRMerger {
	return NewPRMergerWithExecutor(logger, defaultExecutor)
}

// NewPRMergerWithExecutor creates a PRMerger with an injected executor.
func NewPRMergerWithExecutor(logger *logging.Logger, executor CommandExecutor) *PRMerger {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PRMerger{executor: executor, logger: logger.WithComponent("merge")}
}

// EnableAutoMerge requests squash auto-merge for a pull request. A PR
// that is already mergeable merges immediately; otherwise GitHub merges
// it when checks pass. Repositories without auto-merge enabled return an
// error the caller should treat as non-fatal.
func (m *PRMerger) EnableAutoMerge(ctx context.Context, prNumber int) error {
	out, err := m.executor(ctx, "gh", "pr", "merge", strconv.Itoa(prNumber), "--squash", "--auto")
	if err != nil {
		return fmt.Errorf("failed to enable auto-merge for PR #%d: %w: %s",
			prNumber, err, strings.TrimSpace(string(out)))
	}
	m.logger.Info("auto-merge enabled", "pr", prNumber)
	return nil
}
