package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-orchestrator/claude"
	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/history"
	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/manager"
	"github.com/zhubert/plural-orchestrator/rules"
)

var (
	runDir     string
	runSession string
	runResume  string
	runModel   string
	runMode    string
	runRules   string
	runHistory bool
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Send one message to the agent and stream the session",
	Long: `Send one message to the agent in a working directory and stream its
events. Permission prompts that the rules file does not settle are asked
on the terminal.

Examples:
  plural-orchestrator run "Fix the failing test in parser_test.go"
  plural-orchestrator run --dir ~/src/app --mode acceptEdits "Add a README"
  plural-orchestrator run --resume 0b6f... "Now add tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "", "Working directory (default current directory)")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Orchestrator session id (default a new UUID)")
	runCmd.Flags().StringVarP(&runResume, "resume", "r", "", "Agent resume handle from a previous run")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model override")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Permission mode (default|acceptEdits|bypassPermissions|plan)")
	runCmd.Flags().StringVar(&runRules, "rules", "", "Permission rules file (default from config)")
	runCmd.Flags().BoolVar(&runHistory, "history", false, "Record the session to the history store")
}

func runQuery(cmd *cobra.Command, args []string) error {
	dir, err := workDir(runDir)
	if err != nil {
		return err
	}
	message := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sessionID := runSession
	if sessionID == "" {
		sessionID = manager.UUIDSource.NewID()
	}
	if runMode != "" {
		if err := cfg.SetSessionMode(sessionID, runMode); err != nil {
			return err
		}
	}

	rulesFile := runRules
	if rulesFile == "" {
		if rulesFile, err = cfg.GetRulesFile(); err != nil {
			return err
		}
	}
	engine, err := rules.LoadFile(rulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	model := cfg.GetModel()
	if runModel != "" {
		model = runModel
	}
	adapter := claude.NewCLIAdapter(claude.CLIConfig{
		Binary:      cfg.GetClaudeBinary(),
		Model:       model,
		ExtraArgs:   cfg.GetExtraArgs(),
		StopTimeout: cfg.GetStopTimeout(),
	})

	bus := event.NewBus()
	orch := manager.New(manager.Options{
		Adapter:         adapter,
		Sink:            bus.Publish,
		Evaluator:       engine,
		Modes:           cfg.ModeFor,
		ToolServers:     cfg.LoadToolServers,
		ToolResultLimit: cfg.GetToolResultLimit(),
		RestartGrace:    cfg.GetRestartGrace(),
	})

	subCtx, cancelSubs := context.WithCancel(context.Background())
	defer cancelSubs()
	var wg sync.WaitGroup

	term := newTerminal(sessionID, os.Stdin, cmd.OutOrStdout(), orch)
	termEvents, err := bus.Subscribe(subCtx)
	if err != nil {
		return err
	}
	wg.Go(func() { term.consume(termEvents) })

	if runHistory || cfg.IsHistoryEnabled() {
		recorder, err := newHistoryRecorder()
		if err != nil {
			return err
		}
		historyEvents, err := bus.Subscribe(subCtx)
		if err != nil {
			return err
		}
		recorder.RecordPrompt(sessionID, message)
		wg.Go(func() { recorder.Consume(subCtx, historyEvents) })
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		if orch.HasActiveSession(sessionID) {
			orch.Stop(sessionID)
		}
	}()

	log := logger.WithSession(sessionID)
	log.Info("run started", "workDir", dir, "resume", runResume)

	orch.SendMessage(ctx, sessionID, message, manager.SendOptions{
		WorkingDir:   dir,
		ResumeHandle: runResume,
	})

	// Closing the bus flushes delivered events to subscribers and ends them.
	if err := bus.Close(); err != nil {
		log.Warn("failed to close event bus", "error", err)
	}
	wg.Wait()

	if term.resumeHandle != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "resume with: --resume %s\n", term.resumeHandle)
	}
	switch {
	case len(term.errors) > 0:
		return errors.New(term.errors[len(term.errors)-1])
	case term.result != nil && term.result.IsError:
		return fmt.Errorf("agent reported %s", term.result.Subtype)
	}
	return nil
}

func newHistoryRecorder() (*history.Recorder, error) {
	store, err := history.DefaultStore()
	if err != nil {
		return nil, err
	}
	return history.NewRecorder(store, 0), nil
}
