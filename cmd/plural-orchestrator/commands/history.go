package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/history"
)

var historyJSON bool

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear recorded session history",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Print a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return err
		}
		entries, err := store.Load(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		}
		if len(entries) == 0 {
			fmt.Fprintf(out, "No history for session %s\n", args[0])
			return nil
		}
		fmt.Fprintln(out, history.FormatTranscript(entries))
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear [session]",
	Short: "Delete one session's history, or all history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.DefaultStore()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted history for session %s\n", args[0])
			return nil
		}
		n, err := store.ClearAll()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d history file(s)\n", n)
		return nil
	},
}

func init() {
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print raw entries as JSON lines")
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
}
