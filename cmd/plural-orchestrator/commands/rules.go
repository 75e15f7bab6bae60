package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/rules"
)

var (
	rulesForce bool
	rulesMode  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage permission rules",
}

var rulesInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default rules file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := cfg.GetRulesFile()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !rulesForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := rules.WriteFile(path, rules.DefaultRuleset()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check <tool> [key=value...]",
	Short: "Show how the rules classify a tool invocation",
	Example: `  plural-orchestrator rules check Bash command="git status"
  plural-orchestrator rules check --mode plan Write file_path=main.go`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path, err := cfg.GetRulesFile()
		if err != nil {
			return err
		}
		engine, err := rules.LoadFile(path)
		if err != nil {
			return err
		}
		mode, err := rules.ParseMode(rulesMode)
		if err != nil {
			return err
		}

		input, err := parseToolInput(args[1:])
		if err != nil {
			return err
		}
		verdict := engine.Evaluate(args[0], input, mode)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n", verdict.Action)
		if verdict.Message != "" {
			fmt.Fprintf(out, "  %s\n", verdict.Message)
		}
		return nil
	},
}

func parseToolInput(pairs []string) (map[string]any, error) {
	input := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.New("tool input must be key=value, got " + pair)
		}
		input[key] = value
	}
	return input, nil
}

func init() {
	rulesInitCmd.Flags().BoolVar(&rulesForce, "force", false, "Overwrite an existing rules file")
	rulesCheckCmd.Flags().StringVar(&rulesMode, "mode", "", "Permission mode to evaluate under")
	rulesCmd.AddCommand(rulesInitCmd, rulesCheckCmd)
}
