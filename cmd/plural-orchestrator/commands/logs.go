package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/logger"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Manage log files",
}

var logsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the main log file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
		return nil
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the main log and all stream logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Close()
		n, err := logger.ClearLogs()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", n)
		return nil
	},
}

func init() {
	logsCmd.AddCommand(logsPathCmd, logsClearCmd)
}
