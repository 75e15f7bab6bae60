package process

import (
	"context"
	"runtime"
	"testing"
)

const psOutput = `    1 /sbin/init
  412 /usr/local/bin/claude --print --output-format stream-json --input-format stream-json --verbose --include-partial-messages --permission-prompt-tool stdio --session-id 0b6f6f8e-1111-4c3b-9a57-2d0c2b1f7a10 --model sonnet
  413 claude --print --output-format stream-json --input-format stream-json --permission-prompt-tool=stdio --resume=abc-123
  500 claude
  501 /usr/bin/claude-helper --print --input-format stream-json --permission-prompt-tool stdio
  502 vim claude --print
  nope claude --print --input-format stream-json --permission-prompt-tool stdio
  600 /opt/agent/claude --print --input-format text --permission-prompt-tool stdio
`

func TestParsePS(t *testing.T) {
	procs := ParsePS(psOutput, "claude")

	if len(procs) != 2 {
		t.Fatalf("got %d processes, want 2: %+v", len(procs), procs)
	}

	tests := []struct {
		pid    int
		handle string
	}{
		{412, "0b6f6f8e-1111-4c3b-9a57-2d0c2b1f7a10"},
		{413, "abc-123"},
	}
	for i, tt := range tests {
		if procs[i].PID != tt.pid {
			t.Errorf("procs[%d].PID = %d, want %d", i, procs[i].PID, tt.pid)
		}
		if procs[i].ResumeHandle != tt.handle {
			t.Errorf("procs[%d].ResumeHandle = %q, want %q", i, procs[i].ResumeHandle, tt.handle)
		}
		if procs[i].Command == "" {
			t.Errorf("procs[%d].Command is empty", i)
		}
	}
}

func TestParsePS_MatchesConfiguredBinaryByBaseName(t *testing.T) {
	procs := ParsePS(psOutput, "/home/me/bin/claude")
	if len(procs) != 2 {
		t.Errorf("got %d processes, want 2", len(procs))
	}

	if procs := ParsePS(psOutput, "claude-helper"); len(procs) != 1 || procs[0].PID != 501 {
		t.Errorf("claude-helper: got %+v", procs)
	}
}

func TestParsePS_Empty(t *testing.T) {
	if procs := ParsePS("", "claude"); procs != nil {
		t.Errorf("got %+v, want nil", procs)
	}
}

func TestFlagValue(t *testing.T) {
	args := []string{"--a", "1", "--b=2", "--c"}
	tests := []struct {
		flag string
		want string
	}{
		{"--a", "1"},
		{"--b", "2"},
		{"--c", ""},
		{"--missing", ""},
	}
	for _, tt := range tests {
		if got := flagValue(args, tt.flag); got != tt.want {
			t.Errorf("flagValue(%q) = %q, want %q", tt.flag, got, tt.want)
		}
	}
}

func TestFindAgentProcesses(t *testing.T) {
	procs, err := FindAgentProcesses(context.Background(), "definitely-not-an-agent-xyz")
	if runtime.GOOS == "windows" {
		if err != ErrUnsupported {
			t.Errorf("err = %v, want ErrUnsupported", err)
		}
		return
	}
	if err != nil {
		t.Skipf("ps unavailable: %v", err)
	}
	if len(procs) != 0 {
		t.Errorf("got %+v, want none", procs)
	}
}
