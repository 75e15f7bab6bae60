package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode [session] <mode>",
	Short: "Set the default permission mode, or one session's mode",
	Long: `Set the permission mode used when the agent asks to use a tool.

Modes: default, acceptEdits, bypassPermissions, plan.

With one argument the default mode is set. With two, the first names the
session to override. Use 'mode --clear <session>' to drop an override.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if clearMode {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.RangeArgs(1, 2)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch {
		case clearMode:
			if !cfg.ClearSessionMode(args[0]) {
				fmt.Fprintf(out, "Session %s has no mode override\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "Cleared mode override for session %s\n", args[0])
		case len(args) == 1:
			if err := cfg.SetDefaultMode(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Default mode set to %s\n", cfg.ModeFor(""))
		default:
			if err := cfg.SetSessionMode(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s mode set to %s\n", args[0], cfg.ModeFor(args[0]))
		}
		return cfg.Save()
	},
}

var clearMode bool

func init() {
	modeCmd.Flags().BoolVar(&clearMode, "clear", false, "Remove a session's mode override")
}
