// Package errors provides centralized error definitions for the autodev
// codebase. It defines the closed error taxonomy used by the core:
// configuration errors, board availability errors, worker exit/blocked
// errors, worktree errors, and invariant violations. Nothing else in the
// core is an error kind.
//
// Creating errors:
//
//	err := errors.NewBoardError("update item status", baseErr).WithItemID(id)
//	err := errors.NewWorkerExitError("claude-0", "process exited without completion")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrAlreadyAssigned) { ... }
//	var be *errors.BoardError
//	if errors.As(err, &be) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityFatal
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Registry and slot sentinel errors
var (
	// ErrAlreadyAssigned indicates an issue already has a live assignment.
	ErrAlreadyAssigned = New("issue already has a live assignment")
	// ErrAssignmentNotFound indicates the assignment id is not in the registry.
	ErrAssignmentNotFound = New("assignment not found")
	// ErrInvalidTransition indicates a status change the state machine forbids.
	ErrInvalidTransition = New("invalid status transition")
	// ErrNoSlotAvailable indicates the provider's slot pool is exhausted.
	ErrNoSlotAvailable = New("no instance slot available")
	// ErrSlotInUse indicates a slot was acquired twice without release.
	ErrSlotInUse = New("instance slot already in use")
)

// Board sentinel errors
var (
	// ErrBoardUnavailable indicates a transient remote board failure.
	ErrBoardUnavailable = New("board unavailable")
	// ErrItemNotFound indicates no board item exists for the issue.
	ErrItemNotFound = New("board item not found")
	// ErrAuthRequired indicates the gh CLI is not authenticated.
	ErrAuthRequired = New("board authentication required")
)

// Git sentinel errors
var (
	// ErrNotGitRepository indicates the directory is not inside a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchNotFound indicates a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrNoDefaultBranch indicates the default branch could not be resolved.
	ErrNoDefaultBranch = New("default branch not found")
)

// Process sentinel errors
var (
	// ErrProcessNotFound indicates no supervised process exists for the instance.
	ErrProcessNotFound = New("process not found")
	// ErrProcessRunning indicates an instance already has a live process.
	ErrProcessRunning = New("process already running")
)

// -----------------------------------------------------------------------------
// Base error
// -----------------------------------------------------------------------------

// baseError provides common functionality for all typed errors.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// ConfigError
// -----------------------------------------------------------------------------

// ConfigError represents a fatal startup problem: missing credentials,
// unreadable configuration, or an unresolvable repository. The process
// exits with code 1 after logging one of these.
type ConfigError struct {
	baseError
	Key string
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{baseError: baseError{
		message:  message,
		cause:    cause,
		severity: SeverityFatal,
	}}
}

// WithKey adds the offending configuration key to the error context.
func (e *ConfigError) WithKey(key string) *ConfigError {
	e.Key = key
	return e
}

func (e *ConfigError) Error() string {
	prefix := "config error"
	if e.Key != "" {
		prefix = fmt.Sprintf("config error [key=%s]", e.Key)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a ConfigError.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// BoardError
// -----------------------------------------------------------------------------

// BoardError represents a failure talking to the remote board. Board
// errors are recoverable: *WithSync operations degrade to local-only and
// the next reconciliation cycle retries.
type BoardError struct {
	baseError
	ItemID      string
	IssueNumber int
}

// NewBoardError creates a new BoardError. Board errors are retryable by
// construction.
func NewBoardError(message string, cause error) *BoardError {
	return &BoardError{baseError: baseError{
		message:   message,
		cause:     cause,
		severity:  SeverityWarning,
		retryable: true,
	}}
}

// WithItemID adds the board item id to the error context.
func (e *BoardError) WithItemID(id string) *BoardError {
	e.ItemID = id
	return e
}

// WithIssue adds the issue number to the error context.
func (e *BoardError) WithIssue(n int) *BoardError {
	e.IssueNumber = n
	return e
}

func (e *BoardError) Error() string {
	var parts []string
	if e.ItemID != "" {
		parts = append(parts, fmt.Sprintf("item=%s", e.ItemID))
	}
	if e.IssueNumber > 0 {
		parts = append(parts, fmt.Sprintf("issue=#%d", e.IssueNumber))
	}
	prefix := "board error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("board error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is reports whether target is a BoardError or ErrBoardUnavailable.
func (e *BoardError) Is(target error) bool {
	if _, ok := target.(*BoardError); ok {
		return true
	}
	if errors.Is(target, ErrBoardUnavailable) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// WorkerExitError / WorkerBlockedError
// -----------------------------------------------------------------------------

// WorkerExitError represents a worker subprocess that failed: either it
// emitted FAILED:<reason> or it died twice without a completion signal.
// Terminal for the assignment.
type WorkerExitError struct {
	baseError
	InstanceID string
	Reason     string
}

// NewWorkerExitError creates a new WorkerExitError.
func NewWorkerExitError(instanceID, reason string) *WorkerExitError {
	return &WorkerExitError{
		baseError:  baseError{message: "worker failed", severity: SeverityError},
		InstanceID: instanceID,
		Reason:     reason,
	}
}

func (e *WorkerExitError) Error() string {
	return fmt.Sprintf("worker error [instance=%s]: %s: %s", e.InstanceID, e.message, e.Reason)
}

// Is reports whether target is a WorkerExitError.
func (e *WorkerExitError) Is(target error) bool {
	if _, ok := target.(*WorkerExitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerBlockedError represents a worker that exited with BLOCKED:<reason>.
// Terminal for the assignment, surfaced with the blocked reason.
type WorkerBlockedError struct {
	baseError
	InstanceID string
	Reason     string
}

// NewWorkerBlockedError creates a new WorkerBlockedError.
func NewWorkerBlockedError(instanceID, reason string) *WorkerBlockedError {
	return &WorkerBlockedError{
		baseError:  baseError{message: "worker blocked", severity: SeverityWarning},
		InstanceID: instanceID,
		Reason:     reason,
	}
}

func (e *WorkerBlockedError) Error() string {
	return fmt.Sprintf("worker blocked [instance=%s]: %s", e.InstanceID, e.Reason)
}

// Is reports whether target is a WorkerBlockedError.
func (e *WorkerBlockedError) Is(target error) bool {
	if _, ok := target.(*WorkerBlockedError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// WorktreeError
// -----------------------------------------------------------------------------

// WorktreeError represents a filesystem or git failure preparing or
// removing a working tree. The supervisor marks the assignment failed
// with the reason.
type WorktreeError struct {
	baseError
	Branch    string
	Path      string
	GitOutput string
}

// NewWorktreeError creates a new WorktreeError.
func NewWorktreeError(message string, cause error) *WorktreeError {
	return &WorktreeError{baseError: baseError{
		message:  message,
		cause:    cause,
		severity: SeverityError,
	}}
}

// WithBranch adds a branch name to the error context.
func (e *WorktreeError) WithBranch(branch string) *WorktreeError {
	e.Branch = branch
	return e
}

// WithPath adds a worktree path to the error context.
func (e *WorktreeError) WithPath(path string) *WorktreeError {
	e.Path = path
	return e
}

// WithGitOutput adds captured git command output to the error context.
func (e *WorktreeError) WithGitOutput(output string) *WorktreeError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

func (e *WorktreeError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	prefix := "worktree error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("worktree error [%s]", strings.Join(parts, ", "))
	}
	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is reports whether target is a WorktreeError.
func (e *WorktreeError) Is(target error) bool {
	if _, ok := target.(*WorktreeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// InvariantError
// -----------------------------------------------------------------------------

// InvariantError represents a violated core invariant, e.g. a duplicate
// live assignment for an issue or a double-issued slot. Logged loudly;
// the offending operation fails but the orchestrator keeps running.
type InvariantError struct {
	baseError
	Invariant string
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(invariant, message string) *InvariantError {
	return &InvariantError{
		baseError: baseError{message: message, severity: SeverityError},
		Invariant: invariant,
	}
}

// WithCause adds a cause to the error.
func (e *InvariantError) WithCause(cause error) *InvariantError {
	e.cause = cause
	return e
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant violation [%s]: %s", e.Invariant, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is reports whether target is an InvariantError.
func (e *InvariantError) Is(target error) bool {
	if _, ok := target.(*InvariantError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification helpers
// -----------------------------------------------------------------------------

// classified is implemented by all typed errors in this package.
type classified interface {
	error
	severityLevel() Severity
	isRetryable() bool
}

func (e *baseError) severityLevel() Severity { return e.severity }
func (e *baseError) isRetryable() bool       { return e.retryable }

// IsRetryable returns true if the error represents a transient condition
// that the next cycle may resolve, i.e. board availability problems.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if As(err, &c) {
		return c.isRetryable()
	}
	return Is(err, ErrBoardUnavailable)
}

// IsFatal returns true if the error should abort startup (exit code 1).
func IsFatal(err error) bool {
	return GetSeverity(err) == SeverityFatal
}

// GetSeverity returns the severity level of the error. Unknown errors
// default to SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityWarning
	}
	var c classified
	if As(err, &c) {
		return c.severityLevel()
	}
	return SeverityError
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
