package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/cli"
	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/paths"
	"github.com/zhubert/plural-orchestrator/process"
	"github.com/zhubert/plural-orchestrator/rules"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check prerequisites, config, rules and running agent processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		results := cli.CheckAll(cmd.Context(), cli.DefaultPrerequisites(cfg.GetClaudeBinary()))
		fmt.Fprint(out, cli.FormatCheckResults(results))

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(out, "\nConfig %s: %v\n", cfg.FilePath(), err)
		} else {
			fmt.Fprintf(out, "\nConfig: %s\n", cfg.FilePath())
		}

		rulesFile, err := cfg.GetRulesFile()
		if err != nil {
			return err
		}
		if _, err := rules.LoadFile(rulesFile); err != nil {
			fmt.Fprintf(out, "Rules %s: %v\n", rulesFile, err)
		} else {
			fmt.Fprintf(out, "Rules: %s\n", rulesFile)
		}

		procs, err := process.FindAgentProcesses(cmd.Context(), cfg.GetClaudeBinary())
		switch {
		case err != nil:
			fmt.Fprintf(out, "Agent processes: unknown (%v)\n", err)
		case len(procs) == 0:
			fmt.Fprintln(out, "Agent processes: none running")
		default:
			fmt.Fprintf(out, "Agent processes: %d running\n", len(procs))
			for _, p := range procs {
				fmt.Fprintf(out, "  pid %d  session %s\n", p.PID, p.ResumeHandle)
			}
		}

		layout := "XDG"
		if paths.IsFlatLayout() {
			layout = "flat"
		}
		fmt.Fprintf(out, "Layout: %s\n", layout)
		if logPath, err := logger.DefaultLogPath(); err == nil {
			fmt.Fprintf(out, "Logs: %s\n", logPath)
		}
		if dir, err := paths.HistoryDir(); err == nil {
			fmt.Fprintf(out, "History: %s\n", dir)
		}

		return cli.MissingRequired(results)
	},
}
