// Package config loads and validates orchestrator configuration via viper.
// Defaults are defined once in Default(); SetDefaults registers the same
// values with viper so config files and environment variables can override
// any subset of them.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/autodevhq/autodev/internal/assignment"
)

// Config represents the complete autodev configuration.
type Config struct {
	Board     BoardConfig              `mapstructure:"board"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Intervals IntervalConfig           `mapstructure:"intervals"`
	Paths     PathsConfig              `mapstructure:"paths"`
	Epic      EpicConfig               `mapstructure:"epic"`
	Merge     MergeConfig              `mapstructure:"merge"`
	Logging   LoggingConfig            `mapstructure:"logging"`
}

// BoardConfig identifies the remote project board and its field names.
// Field names are never hardcoded elsewhere; renaming a field on the board
// only requires a config change.
type BoardConfig struct {
	// Owner is the GitHub user or organization owning the project board.
	Owner string `mapstructure:"owner"`
	// ProjectNumber is the Projects v2 number as shown in the board URL.
	ProjectNumber int `mapstructure:"project_number"`
	// StatusField is the name of the single-select status field.
	StatusField string `mapstructure:"status_field"`
	// AssignedInstanceField is the name of the text field recording which
	// worker instance holds an item.
	AssignedInstanceField string `mapstructure:"assigned_instance_field"`
	// EpicField is the name of the field grouping items into epics.
	EpicField string `mapstructure:"epic_field"`
	// PriorityField is the name of the field the evaluator orders by.
	PriorityField string `mapstructure:"priority_field"`
	// ReadyStatus is the board status the evaluator treats as assignable.
	ReadyStatus string `mapstructure:"ready_status"`
	// RequestTimeoutSeconds is the per-call deadline for board operations.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// RequestTimeout returns the per-call board deadline as a duration.
func (b *BoardConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// ProviderConfig describes one worker CLI.
type ProviderConfig struct {
	// Binary is the executable name or path, e.g. "claude".
	Binary string `mapstructure:"binary"`
	// Args are extra arguments passed before the prompt is injected.
	Args []string `mapstructure:"args"`
	// Capacity is the number of concurrent instances; 0 disables the
	// provider.
	Capacity int `mapstructure:"capacity"`
}

// IntervalConfig holds the orchestrator's timing knobs.
type IntervalConfig struct {
	// TickSeconds is the scheduler loop interval.
	TickSeconds int `mapstructure:"tick_seconds"`
	// ReconcileSeconds is the board reconciliation interval.
	ReconcileSeconds int `mapstructure:"reconcile_seconds"`
	// MonitorPollSeconds is how often a supervisor re-reads a worker's log.
	MonitorPollSeconds int `mapstructure:"monitor_poll_seconds"`
	// PromptDelayMs is how long to wait after spawn before writing the
	// prompt into the PTY.
	PromptDelayMs int `mapstructure:"prompt_delay_ms"`
	// EchoTimeoutMs is how long to attempt echo suppression before giving
	// up and logging raw output.
	EchoTimeoutMs int `mapstructure:"echo_timeout_ms"`
	// StopGraceSeconds is how long Stop waits after TERM before KILL.
	StopGraceSeconds int `mapstructure:"stop_grace_seconds"`
}

// Tick returns the scheduler loop interval as a duration.
func (i *IntervalConfig) Tick() time.Duration {
	return time.Duration(i.TickSeconds) * time.Second
}

// Reconcile returns the reconciliation interval as a duration.
func (i *IntervalConfig) Reconcile() time.Duration {
	return time.Duration(i.ReconcileSeconds) * time.Second
}

// MonitorPoll returns the log poll interval as a duration.
func (i *IntervalConfig) MonitorPoll() time.Duration {
	return time.Duration(i.MonitorPollSeconds) * time.Second
}

// PromptDelay returns the prompt injection delay as a duration.
func (i *IntervalConfig) PromptDelay() time.Duration {
	return time.Duration(i.PromptDelayMs) * time.Millisecond
}

// EchoTimeout returns the echo suppression abandon timeout as a duration.
func (i *IntervalConfig) EchoTimeout() time.Duration {
	return time.Duration(i.EchoTimeoutMs) * time.Millisecond
}

// StopGrace returns the TERM-to-KILL grace period as a duration.
func (i *IntervalConfig) StopGrace() time.Duration {
	return time.Duration(i.StopGraceSeconds) * time.Second
}

// PathsConfig controls where autodev stores data.
type PathsConfig struct {
	// WorktreeBaseDir is the directory working trees are created under.
	// If empty, defaults to the repository root's parent. Supports ~ for
	// home directory expansion; relative paths resolve against the
	// repository root.
	WorktreeBaseDir string `mapstructure:"worktree_base_dir"`
	// ProjectName overrides the worktree name prefix. If empty, the
	// repository directory name is used.
	ProjectName string `mapstructure:"project_name"`
}

// ResolveWorktreeBaseDir returns the resolved worktree base directory for
// a repository root.
func (p *PathsConfig) ResolveWorktreeBaseDir(repoRoot string) string {
	if p.WorktreeBaseDir == "" {
		return filepath.Dir(repoRoot)
	}

	path := p.WorktreeBaseDir
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(repoRoot, path)
	}
	return path
}

// ResolveProjectName returns the worktree name prefix for a repository
// root.
func (p *PathsConfig) ResolveProjectName(repoRoot string) string {
	if p.ProjectName != "" {
		return p.ProjectName
	}
	return filepath.Base(repoRoot)
}

// EpicConfig controls phased-epic coordination.
type EpicConfig struct {
	// Name restricts scheduling to one epic; empty disables epic mode.
	Name string `mapstructure:"name"`
	// MasterMarker is the title substring identifying a phase master.
	MasterMarker string `mapstructure:"master_marker"`
}

// MergeConfig controls post-completion merge behavior.
type MergeConfig struct {
	// Auto merges an item's PR automatically once CI passes.
	Auto bool `mapstructure:"auto"`
}

// LoggingConfig controls the orchestrator's own structured log.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Stderr mirrors log output to stderr in addition to debug.log.
	Stderr bool `mapstructure:"stderr"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Board: BoardConfig{
			Owner:                 "",
			ProjectNumber:         0,
			StatusField:           "Status",
			AssignedInstanceField: "Assigned Instance",
			EpicField:             "Epic",
			PriorityField:         "Priority",
			ReadyStatus:           "Ready",
			RequestTimeoutSeconds: 30,
		},
		Providers: map[string]ProviderConfig{
			string(assignment.ProviderClaude): {Binary: "claude", Capacity: 2},
			string(assignment.ProviderGemini): {Binary: "gemini", Capacity: 0},
			string(assignment.ProviderCodex):  {Binary: "codex", Capacity: 0},
		},
		Intervals: IntervalConfig{
			TickSeconds:        5,
			ReconcileSeconds:   60,
			MonitorPollSeconds: 5,
			PromptDelayMs:      1500,
			EchoTimeoutMs:      3000,
			StopGraceSeconds:   10,
		},
		Paths: PathsConfig{
			WorktreeBaseDir: "",
			ProjectName:     "",
		},
		Epic: EpicConfig{
			Name:         "",
			MasterMarker: "MASTER",
		},
		Merge: MergeConfig{
			Auto: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Stderr: false,
		},
	}
}

// TotalCapacity returns the sum of all provider capacities.
func (c *Config) TotalCapacity() int {
	total := 0
	for _, p := range c.Providers {
		total += p.Capacity
	}
	return total
}

// Provider returns the configuration for a provider, or false if it is
// not configured.
func (c *Config) Provider(p assignment.Provider) (ProviderConfig, bool) {
	pc, ok := c.Providers[string(p)]
	return pc, ok
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("board.owner", defaults.Board.Owner)
	viper.SetDefault("board.project_number", defaults.Board.ProjectNumber)
	viper.SetDefault("board.status_field", defaults.Board.StatusField)
	viper.SetDefault("board.assigned_instance_field", defaults.Board.AssignedInstanceField)
	viper.SetDefault("board.epic_field", defaults.Board.EpicField)
	viper.SetDefault("board.priority_field", defaults.Board.PriorityField)
	viper.SetDefault("board.ready_status", defaults.Board.ReadyStatus)
	viper.SetDefault("board.request_timeout_seconds", defaults.Board.RequestTimeoutSeconds)

	for name, pc := range defaults.Providers {
		viper.SetDefault("providers."+name+".binary", pc.Binary)
		viper.SetDefault("providers."+name+".args", pc.Args)
		viper.SetDefault("providers."+name+".capacity", pc.Capacity)
	}

	viper.SetDefault("intervals.tick_seconds", defaults.Intervals.TickSeconds)
	viper.SetDefault("intervals.reconcile_seconds", defaults.Intervals.ReconcileSeconds)
	viper.SetDefault("intervals.monitor_poll_seconds", defaults.Intervals.MonitorPollSeconds)
	viper.SetDefault("intervals.prompt_delay_ms", defaults.Intervals.PromptDelayMs)
	viper.SetDefault("intervals.echo_timeout_ms", defaults.Intervals.EchoTimeoutMs)
	viper.SetDefault("intervals.stop_grace_seconds", defaults.Intervals.StopGraceSeconds)

	viper.SetDefault("paths.worktree_base_dir", defaults.Paths.WorktreeBaseDir)
	viper.SetDefault("paths.project_name", defaults.Paths.ProjectName)

	viper.SetDefault("epic.name", defaults.Epic.Name)
	viper.SetDefault("epic.master_marker", defaults.Epic.MasterMarker)

	viper.SetDefault("merge.auto", defaults.Merge.Auto)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.stderr", defaults.Logging.Stderr)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autodev")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autodev"
	}
	return filepath.Join(home, ".config", "autodev")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
