package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-orchestrator/config"
	"github.com/zhubert/plural-orchestrator/history"
	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/paths"
)

func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "commands-test-home-*")
	if err != nil {
		panic(err)
	}
	os.Setenv(paths.HomeEnv, home)
	paths.Reset()
	logger.Init(filepath.Join(home, "logs", "test.log"))

	code := m.Run()

	logger.Close()
	os.RemoveAll(home)
	os.Exit(code)
}

// execute runs the root command with args and returns its output. Flag
// variables are package globals, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	debugLogs, configPath = false, ""
	runDir, runSession, runResume, runModel, runMode, runRules, runHistory = "", "", "", "", "", "", false
	historyJSON, clearMode, rulesForce, rulesMode = false, false, false, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file and returns its path.
func writeConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "orchestrator.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func fakeAgent(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestRun_StreamsAndRecordsHistory(t *testing.T) {
	agent := fakeAgent(t, `if [ "$1" = "--version" ]; then echo "9.9.9"; exit 0; fi
read prompt
echo '{"type":"system","subtype":"init","session_id":"resume-xyz","model":"sonnet"}'
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"All tests pass."}]}}'
echo '{"type":"result","subtype":"success","result":"All tests pass.","num_turns":1,"total_cost_usd":0.02}'
cat > /dev/null`)
	cfgPath := writeConfig(t, map[string]any{"claude_binary": agent})
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")

	out, err := execute(t, "run", "--config", cfgPath, "--rules", rulesPath,
		"--dir", t.TempDir(), "--session", "cli-1", "--history", "run", "the", "tests")
	require.NoError(t, err)

	assert.Contains(t, out, "[model sonnet]")
	assert.Contains(t, out, "All tests pass.")
	assert.Contains(t, out, "resume with: --resume resume-xyz")

	store, err := history.DefaultStore()
	require.NoError(t, err)
	entries, err := store.Load("cli-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, history.Entry{Role: history.RoleUser, Content: "run the tests"}, history.Entry{Role: entries[0].Role, Content: entries[0].Content})
	assert.Equal(t, history.RoleAssistant, entries[1].Role)
	assert.Equal(t, history.RoleResult, entries[2].Role)

	out, err = execute(t, "history", "show", "cli-1")
	require.NoError(t, err)
	assert.Contains(t, out, "User:\nrun the tests")

	out, err = execute(t, "history", "clear", "cli-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted history for session cli-1")
}

func TestRun_AgentFailureIsReported(t *testing.T) {
	agent := fakeAgent(t, `read prompt
echo "boom" >&2
exit 3`)
	cfgPath := writeConfig(t, map[string]any{"claude_binary": agent})

	out, err := execute(t, "run", "--config", cfgPath, "--rules", filepath.Join(t.TempDir(), "r.yaml"),
		"--dir", t.TempDir(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, out, "error:")
}

func TestRun_InvalidMode(t *testing.T) {
	cfgPath := writeConfig(t, map[string]any{})
	_, err := execute(t, "run", "--config", cfgPath, "--mode", "yolo", "hi")
	require.Error(t, err)
}

func TestMode(t *testing.T) {
	cfgPath := writeConfig(t, map[string]any{})

	out, err := execute(t, "mode", "--config", cfgPath, "acceptEdits")
	require.NoError(t, err)
	assert.Contains(t, out, "Default mode set to acceptEdits")

	_, err = execute(t, "mode", "--config", cfgPath, "s1", "plan")
	require.NoError(t, err)

	cfg, err := config.LoadFrom(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "acceptEdits", string(cfg.ModeFor("other")))
	assert.Equal(t, "plan", string(cfg.ModeFor("s1")))

	out, err = execute(t, "mode", "--config", cfgPath, "--clear", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared mode override")

	_, err = execute(t, "mode", "--config", cfgPath, "nonsense")
	require.Error(t, err)
}

func TestRules(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	cfgPath := writeConfig(t, map[string]any{"rules_file": rulesPath})

	out, err := execute(t, "rules", "init", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, rulesPath)

	_, err = execute(t, "rules", "init", "--config", cfgPath)
	require.Error(t, err, "init refuses to overwrite without --force")
	_, err = execute(t, "rules", "init", "--config", cfgPath, "--force")
	require.NoError(t, err)

	out, err = execute(t, "rules", "check", "--config", cfgPath, "Bash", "command=git status")
	require.NoError(t, err)
	assert.Equal(t, "allow\n", out)

	out, err = execute(t, "rules", "check", "--config", cfgPath, "--mode", "plan", "Write", "file_path=main.go")
	require.NoError(t, err)
	assert.Contains(t, out, "deny")

	_, err = execute(t, "rules", "check", "--config", cfgPath, "Bash", "not-a-pair")
	require.Error(t, err)
}

func TestDoctor(t *testing.T) {
	agent := fakeAgent(t, `echo "2.0.0 (Claude Code)"`)
	cfgPath := writeConfig(t, map[string]any{"claude_binary": agent})

	out, err := execute(t, "doctor", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2.0.0 (Claude Code)")
	assert.Contains(t, out, "Config: "+cfgPath)
	assert.Contains(t, out, "Layout: flat", "the test home is set through "+paths.HomeEnv)

	cfgPath = writeConfig(t, map[string]any{"claude_binary": "definitely-missing-agent-xyz"})
	out, err = execute(t, "doctor", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, out, "[REQUIRED]")
}

func TestLogsPath(t *testing.T) {
	out, err := execute(t, "logs", "path")
	require.NoError(t, err)
	want, err := logger.DefaultLogPath()
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)
}
