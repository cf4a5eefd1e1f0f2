// Package cmd wires the CLI surface: start (the orchestrator loop),
// status (a one-shot board snapshot), and version.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autodevhq/autodev/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "autodev",
	Short: "Autonomous development orchestrator",
	Long: `Autodev watches a GitHub Projects board, assigns ready items to AI
worker CLIs running in isolated git worktrees, and drives each item to a
terminal state. The board stays the single source of truth: autodev keeps
its in-memory view reconciled against it and operators can intervene by
editing the board directly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/autodev/config.yaml)")
	rootCmd.PersistentFlags().StringP("repo", "r", "", "repository root (default is the enclosing git repository)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging, mirrored to stderr")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUTODEV")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.ReadInConfig()
}

// loadConfig applies verbose-mode overrides on top of the resolved file
// and environment configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
		cfg.Logging.Stderr = true
	}
	return cfg, nil
}
