package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Board.Owner = "autodevhq"
	cfg.Board.ProjectNumber = 7
	return cfg
}

func TestDefaultIsInternallyConsistent(t *testing.T) {
	cfg := Default()
	// Owner and project number are required from the user; everything
	// else must validate out of the box.
	cfg.Board.Owner = "someone"
	cfg.Board.ProjectNumber = 1

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config failed validation: %v", ValidationErrors(errs))
	}
}

func TestValidateRequiredBoardFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing owner",
			mutate:  func(c *Config) { c.Board.Owner = "" },
			wantErr: "board.owner",
		},
		{
			name:    "zero project number",
			mutate:  func(c *Config) { c.Board.ProjectNumber = 0 },
			wantErr: "board.project_number",
		},
		{
			name:    "negative project number",
			mutate:  func(c *Config) { c.Board.ProjectNumber = -3 },
			wantErr: "board.project_number",
		},
		{
			name:    "empty status field",
			mutate:  func(c *Config) { c.Board.StatusField = "" },
			wantErr: "board.status_field",
		},
		{
			name:    "empty assigned instance field",
			mutate:  func(c *Config) { c.Board.AssignedInstanceField = "" },
			wantErr: "board.assigned_instance_field",
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Board.RequestTimeoutSeconds = 0 },
			wantErr: "board.request_timeout_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation error, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantErr {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got: %v", tt.wantErr, ValidationErrors(errs))
			}
		})
	}
}

func TestValidateProviders(t *testing.T) {
	t.Run("unknown provider rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["copilot"] = ProviderConfig{Binary: "copilot", Capacity: 1}
		errs := cfg.Validate()
		if len(errs) == 0 {
			t.Fatal("expected validation error for unknown provider")
		}
	})

	t.Run("negative capacity rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["claude"] = ProviderConfig{Binary: "claude", Capacity: -1}
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Fatal("expected validation error for negative capacity")
		}
	})

	t.Run("positive capacity requires binary", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers["gemini"] = ProviderConfig{Binary: "", Capacity: 1}
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Fatal("expected validation error for missing binary")
		}
	})

	t.Run("all zero capacity rejected", func(t *testing.T) {
		cfg := validConfig()
		for name := range cfg.Providers {
			cfg.Providers[name] = ProviderConfig{Binary: "x", Capacity: 0}
		}
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Fatal("expected validation error when no provider has capacity")
		}
	})
}

func TestValidateIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.Intervals.TickSeconds = 0
	cfg.Intervals.PromptDelayMs = -1
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %d: %v", len(errs), ValidationErrors(errs))
	}
}

func TestValidateLoggingLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	errs := cfg.Validate()
	if len(errs) != 1 || errs[0].Field != "logging.level" {
		t.Errorf("expected single logging.level error, got: %v", ValidationErrors(errs))
	}

	for _, level := range ValidLogLevels() {
		cfg.Logging.Level = level
		if errs := cfg.Validate(); len(errs) != 0 {
			t.Errorf("level %q rejected: %v", level, ValidationErrors(errs))
		}
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: 1, Message: "bad"},
		{Field: "c.d", Value: "x", Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("expected count header, got: %q", msg)
	}
	if !strings.Contains(msg, "a.b") || !strings.Contains(msg, "c.d") {
		t.Errorf("expected both fields, got: %q", msg)
	}
}

func TestResolveWorktreeBaseDir(t *testing.T) {
	repoRoot := filepath.Join("/home", "dev", "myproj")

	tests := []struct {
		name string
		dir  string
		want string
	}{
		{"empty defaults to parent", "", filepath.Join("/home", "dev")},
		{"absolute path kept", "/mnt/fast", "/mnt/fast"},
		{"relative resolves against repo", "wt", filepath.Join(repoRoot, "wt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PathsConfig{WorktreeBaseDir: tt.dir}
			got := p.ResolveWorktreeBaseDir(repoRoot)
			if got != tt.want {
				t.Errorf("ResolveWorktreeBaseDir(%q) = %q, want %q", tt.dir, got, tt.want)
			}
		})
	}
}

func TestResolveProjectName(t *testing.T) {
	p := PathsConfig{}
	if got := p.ResolveProjectName("/home/dev/myproj"); got != "myproj" {
		t.Errorf("expected repo dir name, got %q", got)
	}
	p.ProjectName = "custom"
	if got := p.ResolveProjectName("/home/dev/myproj"); got != "custom" {
		t.Errorf("expected override, got %q", got)
	}
}

func TestIntervalDurations(t *testing.T) {
	i := IntervalConfig{
		TickSeconds:        5,
		ReconcileSeconds:   60,
		MonitorPollSeconds: 5,
		PromptDelayMs:      1500,
		EchoTimeoutMs:      3000,
		StopGraceSeconds:   10,
	}
	if i.Tick().Seconds() != 5 {
		t.Errorf("Tick = %v", i.Tick())
	}
	if i.Reconcile().Seconds() != 60 {
		t.Errorf("Reconcile = %v", i.Reconcile())
	}
	if i.PromptDelay().Milliseconds() != 1500 {
		t.Errorf("PromptDelay = %v", i.PromptDelay())
	}
	if i.EchoTimeout().Milliseconds() != 3000 {
		t.Errorf("EchoTimeout = %v", i.EchoTimeout())
	}
}

func TestTotalCapacity(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = map[string]ProviderConfig{
		"claude": {Binary: "claude", Capacity: 2},
		"gemini": {Binary: "gemini", Capacity: 1},
		"codex":  {Binary: "codex", Capacity: 0},
	}
	if got := cfg.TotalCapacity(); got != 3 {
		t.Errorf("TotalCapacity = %d, want 3", got)
	}
}
