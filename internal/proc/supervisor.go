// Package proc supervises worker CLI subprocesses. Each worker runs
// attached to a fresh pseudo-terminal (the target CLIs refuse to operate
// on pipes), receives its prompt through the PTY after a short delay, and
// streams all output into an append-only log file.
//
// The supervisor owns only the process: starting, stopping, and liveness.
// Classifying the outcome from the log is the lifecycle supervisor's job.
package proc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/errors"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/paths"
)

// sessionEndBanner is appended to the output log when the child exits, so
// a log read after the fact can tell a finished session from a truncated
// one.
const sessionEndBanner = "\n=== Session Ended ===\n"

// Spec describes one worker launch.
type Spec struct {
	Command      string
	Args         []string
	Prompt       string
	Dir          string
	LogPath      string
	InstanceID   string
	AssignmentID string
	Provider     assignment.Provider
	// Env is appended to the inherited environment.
	Env []string

	// PromptDelay is how long to wait after spawn before injecting the
	// prompt. Zero means the default of 1.5s.
	PromptDelay time.Duration
	// EchoTimeout bounds echo suppression. Zero means the default of 3s.
	EchoTimeout time.Duration

	// Observer, when set, receives every output chunk for live display.
	Observer func([]byte)
}

// Defaults for Spec timing fields.
const (
	DefaultPromptDelay = 1500 * time.Millisecond
	DefaultEchoTimeout = 3 * time.Second
	DefaultStopGrace   = 10 * time.Second
)

// sessionMeta is the transient metadata persisted per running instance.
// It exists for operator inspection and crash forensics; nothing reads it
// back programmatically.
type sessionMeta struct {
	InstanceID   string    `json:"instance_id"`
	AssignmentID string    `json:"assignment_id"`
	PID          int       `json:"pid"`
	Command      string    `json:"command"`
	WorktreePath string    `json:"worktree_path"`
	StartedAt    time.Time `json:"started_at"`
}

// Handle represents one started process.
type Handle struct {
	instanceID string
	pid        int
	done       chan struct{}

	mu       sync.Mutex
	exitCode int
}

// PID returns the child's process id.
func (h *Handle) PID() int { return h.pid }

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports -1.
func (h *Handle) Wait() int {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Done returns a channel closed when the child exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the exit code after exit; undefined before.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

type process struct {
	handle *Handle
	cmd    *exec.Cmd
	ptmx   *os.File
}

// Supervisor starts, stops, and tracks worker processes by instance id.
type Supervisor struct {
	layout    *paths.Layout
	logger    *logging.Logger
	bus       *event.Bus
	stopGrace time.Duration

	mu    sync.Mutex
	procs map[string]*process
}

// NewSupervisor creates a Supervisor. bus may be nil when no observers
// exist (tests).
func NewSupervisor(layout *paths.Layout, logger *logging.Logger, bus *event.Bus, stopGrace time.Duration) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Supervisor{
		layout:    layout,
		logger:    logger.WithComponent("proc"),
		bus:       bus,
		stopGrace: stopGrace,
		procs:     make(map[string]*process),
	}
}

// Start launches the worker described by spec. The returned Handle
// resolves with the exit code; a mid-run death is not retried here,
// resurrection is the lifecycle supervisor's concern.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if spec.PromptDelay <= 0 {
		spec.PromptDelay = DefaultPromptDelay
	}
	if spec.EchoTimeout <= 0 {
		spec.EchoTimeout = DefaultEchoTimeout
	}

	s.mu.Lock()
	if _, exists := s.procs[spec.InstanceID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrProcessRunning, spec.InstanceID)
	}
	s.mu.Unlock()

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output log: %w", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s_INSTANCE_ID=%s", strings.ToUpper(string(spec.Provider)), spec.InstanceID),
		fmt.Sprintf("AUTONOMOUS_PARENT_PID=%d", os.Getpid()),
	)
	cmd.Env = append(cmd.Env, spec.Env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start %s on a pty: %w", spec.Command, err)
	}

	handle := &Handle{
		instanceID: spec.InstanceID,
		pid:        cmd.Process.Pid,
		done:       make(chan struct{}),
	}
	p := &process{handle: handle, cmd: cmd, ptmx: ptmx}

	s.mu.Lock()
	s.procs[spec.InstanceID] = p
	s.mu.Unlock()

	s.persistSessionFiles(spec, handle.pid)

	logger := s.logger.WithInstance(spec.InstanceID)
	logger.Info("worker started", "pid", handle.pid, "command", spec.Command, "dir", spec.Dir)
	if s.bus != nil {
		s.bus.Publish(event.NewProcessStartedEvent(spec.InstanceID, handle.pid, spec.Dir))
	}

	// Prompt injection after the startup delay. The trailing carriage
	// return submits the prompt in the CLI's line editor.
	go func() {
		select {
		case <-time.After(spec.PromptDelay):
		case <-handle.done:
			return
		}
		if _, err := ptmx.WriteString(spec.Prompt + "\r"); err != nil {
			logger.Warn("failed to write prompt to pty", "error", err)
		}
	}()

	// Output pump: PTY -> echo stripper -> log (+ observer).
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		stripper := newEchoStripper(spec.Prompt, spec.PromptDelay+spec.EchoTimeout)
		buf := make([]byte, 32*1024)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				chunk := stripper.process(buf[:n])
				if len(chunk) > 0 {
					if _, werr := logFile.Write(chunk); werr != nil {
						logger.Warn("failed to append worker output", "error", werr)
					}
					if spec.Observer != nil {
						spec.Observer(chunk)
					}
				}
			}
			if readErr != nil {
				// EIO is the normal end-of-stream for a PTY master.
				return
			}
		}
	}()

	// Reaper.
	go func() {
		waitErr := cmd.Wait()
		_ = ptmx.Close()
		<-pumpDone

		exitCode := 0
		if waitErr != nil {
			exitCode = -1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				exitCode = exitErr.ExitCode()
			}
		}

		if _, err := logFile.WriteString(sessionEndBanner); err != nil {
			logger.Warn("failed to append session banner", "error", err)
		}
		logFile.Close()

		handle.mu.Lock()
		handle.exitCode = exitCode
		handle.mu.Unlock()

		s.mu.Lock()
		delete(s.procs, spec.InstanceID)
		s.mu.Unlock()
		s.removeSessionFile(spec.InstanceID)

		logger.Info("worker exited", "pid", handle.pid, "exit_code", exitCode)
		close(handle.done)
		if s.bus != nil {
			s.bus.Publish(event.NewProcessExitedEvent(spec.InstanceID, handle.pid, exitCode))
		}
	}()

	return handle, nil
}

// Stop terminates the instance's process group: TERM first, KILL after the
// grace period. Returns once the process has been reaped. Stopping an
// unknown instance returns errors.ErrProcessNotFound.
func (s *Supervisor) Stop(instanceID string) error {
	s.mu.Lock()
	p, ok := s.procs[instanceID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrProcessNotFound, instanceID)
	}

	pid := p.handle.pid
	// pty.Start puts the child in its own session, so the negative pid
	// addresses the whole worker process group.
	_ = syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-p.handle.done:
		return nil
	case <-time.After(s.stopGrace):
	}

	s.logger.WithInstance(instanceID).Warn("worker ignored TERM, escalating to KILL", "pid", pid)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-p.handle.done
	return nil
}

// IsRunning reports whether the instance's child has not been reaped AND
// the OS still knows the pid. Both checks are needed: the reaper can lag
// the actual death, and a reused map entry must not mask a dead pid.
func (s *Supervisor) IsRunning(instanceID string) bool {
	s.mu.Lock()
	p, ok := s.procs[instanceID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-p.handle.done:
		return false
	default:
	}
	return syscall.Kill(p.handle.pid, 0) == nil
}

// StopAll stops every tracked process. Used on orchestrator shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Stop(id)
		}(id)
	}
	wg.Wait()
}

// persistSessionFiles writes the session metadata JSON and archives the
// prompt. Failures are logged, not fatal: the files are diagnostics.
func (s *Supervisor) persistSessionFiles(spec Spec, pid int) {
	if s.layout == nil {
		return
	}
	meta := sessionMeta{
		InstanceID:   spec.InstanceID,
		AssignmentID: spec.AssignmentID,
		PID:          pid,
		Command:      spec.Command,
		WorktreePath: spec.Dir,
		StartedAt:    time.Now(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		if werr := os.WriteFile(s.layout.SessionFile(spec.InstanceID), data, 0o644); werr != nil {
			s.logger.Warn("failed to write session metadata", "error", werr)
		}
	}
	if werr := os.WriteFile(s.layout.PromptFile(spec.InstanceID), []byte(spec.Prompt), 0o644); werr != nil {
		s.logger.Warn("failed to archive prompt", "error", werr)
	}
}

func (s *Supervisor) removeSessionFile(instanceID string) {
	if s.layout == nil {
		return
	}
	_ = os.Remove(s.layout.SessionFile(instanceID))
}
