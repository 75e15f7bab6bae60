// Package commands implements the plural-orchestrator command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/config"
	"github.com/zhubert/plural-orchestrator/logger"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	debugLogs  bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "plural-orchestrator",
	Short: "Run Claude Code sessions with rule-based permission arbitration",
	Long: `plural-orchestrator drives the Claude Code CLI one query at a time,
normalizes its output into session events, and answers the agent's
permission prompts from a rules file or from you.

Run 'plural-orchestrator run "your message"' to start a query, or
'plural-orchestrator doctor' to check your setup.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugLogs {
			logger.SetDebug(true)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "Enable debug logging and raw stream logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default <config dir>/orchestrator.json)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("plural-orchestrator %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(rulesCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logger.Close()
	return rootCmd.Execute()
}

// loadConfig loads the config from --config or the default location and
// applies its debug setting.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.IsDebug() {
		logger.SetDebug(true)
	}
	if err := logger.SetFormat(logger.Format(cfg.GetLogFormat())); err != nil {
		return nil, err
	}
	return cfg, nil
}

// workDir returns dir, or the current directory when dir is empty.
func workDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
