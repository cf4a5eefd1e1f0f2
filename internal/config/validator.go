package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/autodevhq/autodev/internal/assignment"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // the config field path, e.g. "board.project_number"
	Value   any    // the invalid value
	Message string // human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBoard()...)
	errors = append(errors, c.validateProviders()...)
	errors = append(errors, c.validateIntervals()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateBoard() []ValidationError {
	var errors []ValidationError

	if c.Board.Owner == "" {
		errors = append(errors, ValidationError{
			Field:   "board.owner",
			Value:   c.Board.Owner,
			Message: "must be set to the board's owning user or organization",
		})
	}
	if c.Board.ProjectNumber <= 0 {
		errors = append(errors, ValidationError{
			Field:   "board.project_number",
			Value:   c.Board.ProjectNumber,
			Message: "must be a positive project number",
		})
	}
	if c.Board.StatusField == "" {
		errors = append(errors, ValidationError{
			Field:   "board.status_field",
			Value:   c.Board.StatusField,
			Message: "must name the board's status field",
		})
	}
	if c.Board.AssignedInstanceField == "" {
		errors = append(errors, ValidationError{
			Field:   "board.assigned_instance_field",
			Value:   c.Board.AssignedInstanceField,
			Message: "must name the board's assigned-instance field",
		})
	}
	if c.Board.RequestTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "board.request_timeout_seconds",
			Value:   c.Board.RequestTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateProviders() []ValidationError {
	var errors []ValidationError

	total := 0
	for name, pc := range c.Providers {
		if !assignment.Provider(name).Valid() {
			errors = append(errors, ValidationError{
				Field:   "providers." + name,
				Value:   name,
				Message: "unknown provider; expected one of: claude, gemini, codex",
			})
			continue
		}
		if pc.Capacity < 0 {
			errors = append(errors, ValidationError{
				Field:   "providers." + name + ".capacity",
				Value:   pc.Capacity,
				Message: "must be non-negative",
			})
		}
		if pc.Capacity > 0 && pc.Binary == "" {
			errors = append(errors, ValidationError{
				Field:   "providers." + name + ".binary",
				Value:   pc.Binary,
				Message: "must be set when capacity is positive",
			})
		}
		total += pc.Capacity
	}
	if total == 0 {
		errors = append(errors, ValidationError{
			Field:   "providers",
			Value:   total,
			Message: "at least one provider must have positive capacity",
		})
	}

	return errors
}

func (c *Config) validateIntervals() []ValidationError {
	var errors []ValidationError

	positive := []struct {
		field string
		value int
	}{
		{"intervals.tick_seconds", c.Intervals.TickSeconds},
		{"intervals.reconcile_seconds", c.Intervals.ReconcileSeconds},
		{"intervals.monitor_poll_seconds", c.Intervals.MonitorPollSeconds},
		{"intervals.stop_grace_seconds", c.Intervals.StopGraceSeconds},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be positive",
			})
		}
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"intervals.prompt_delay_ms", c.Intervals.PromptDelayMs},
		{"intervals.echo_timeout_ms", c.Intervals.EchoTimeoutMs},
	}
	for _, p := range nonNegative {
		if p.value < 0 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
