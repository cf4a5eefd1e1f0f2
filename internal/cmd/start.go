package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autodevhq/autodev/internal/assignment"
	"github.com/autodevhq/autodev/internal/board"
	"github.com/autodevhq/autodev/internal/config"
	"github.com/autodevhq/autodev/internal/epic"
	"github.com/autodevhq/autodev/internal/evaluator"
	"github.com/autodevhq/autodev/internal/event"
	"github.com/autodevhq/autodev/internal/logging"
	"github.com/autodevhq/autodev/internal/orchestrator"
	"github.com/autodevhq/autodev/internal/paths"
	"github.com/autodevhq/autodev/internal/proc"
	"github.com/autodevhq/autodev/internal/registry"
	"github.com/autodevhq/autodev/internal/slots"
	"github.com/autodevhq/autodev/internal/worktree"
)

// exitInterrupt is the conventional exit code for SIGINT termination.
const exitInterrupt = 130

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator loop",
	Long: `Start watches the project board and dispatches ready items to worker
CLIs until interrupted. Ctrl-C stops accepting new items, terminates every
worker, and exits once all supervisors have wound down.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("epic", "", "restrict scheduling to one epic, with phase sequencing")
	startCmd.Flags().Bool("auto-merge", false, "merge item PRs automatically once CI passes")
	_ = viper.BindPFlag("epic.name", startCmd.Flags().Lookup("epic"))
	_ = viper.BindPFlag("merge.auto", startCmd.Flags().Lookup("auto-merge"))
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoRoot, err := resolveRepoRoot()
	if err != nil {
		return err
	}
	layout := paths.NewLayout(repoRoot)
	if err := layout.EnsureDirs(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, layout)
	if err != nil {
		return err
	}
	defer logger.Close()

	wt, err := worktree.New(repoRoot, logger)
	if err != nil {
		return err
	}
	// No default branch means nothing to branch worktrees from; refuse to
	// start rather than fail on the first item.
	if _, err := wt.DefaultBranch(); err != nil {
		return err
	}

	bus := event.NewBus()
	boardClient := board.NewGitHubClient(board.Options{
		Owner:                 cfg.Board.Owner,
		ProjectNumber:         cfg.Board.ProjectNumber,
		StatusField:           cfg.Board.StatusField,
		AssignedInstanceField: cfg.Board.AssignedInstanceField,
		EpicField:             cfg.Board.EpicField,
		PriorityField:         cfg.Board.PriorityField,
		RequestTimeout:        cfg.Board.RequestTimeout(),
	}, logger)

	mapping := board.DefaultMapping()
	reg := registry.New(boardClient, mapping, logger, bus)

	capacities := make(map[assignment.Provider]int)
	for name, pc := range cfg.Providers {
		capacities[assignment.Provider(name)] = pc.Capacity
	}

	var coordinator *epic.Coordinator
	if cfg.Epic.Name != "" {
		coordinator = epic.New(cfg.Epic.Name, cfg.Epic.MasterMarker, mapping, wt, logger)
		logger.Info("epic mode", "epic", cfg.Epic.Name)
	}

	var merger *board.PRMerger
	if cfg.Merge.Auto {
		merger = board.NewPRMerger(logger)
		logger.Info("auto-merge enabled for completed PRs")
	}

	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Registry:  reg,
		Board:     boardClient,
		Evaluator: evaluator.New(boardClient, mapping, logger),
		Worktrees: wt,
		Slots:     slots.New(capacities),
		Procs:     proc.NewSupervisor(layout, logger, bus, cfg.Intervals.StopGrace()),
		Layout:    layout,
		Epic:      coordinator,
		Logger:    logger,
		Bus:       bus,
		Merger:    merger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		logger.Info("interrupted")
		logger.Close()
		os.Exit(exitInterrupt)
	}
	return nil
}

// resolveRepoRoot honors --repo and otherwise walks up from the working
// directory to the enclosing git repository.
func resolveRepoRoot() (string, error) {
	if repo := viper.GetString("repo"); repo != "" {
		return repo, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return worktree.FindGitRoot(wd)
}

func newLogger(cfg *config.Config, layout *paths.Layout) (*logging.Logger, error) {
	if cfg.Logging.Stderr {
		return logging.New("", cfg.Logging.Level)
	}
	return logging.New(layout.StateDir(), cfg.Logging.Level)
}
