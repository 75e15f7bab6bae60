package claude

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeCLI writes a shell script standing in for the claude binary.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake CLI: %v", err)
	}
	return path
}

func newTestAdapter(binary string) *CLIAdapter {
	return NewCLIAdapter(CLIConfig{Binary: binary, StopTimeout: 200 * time.Millisecond})
}

func collect(t *testing.T, ctx context.Context, a Adapter, req QueryRequest) ([]Message, error) {
	t.Helper()
	var msgs []Message
	for msg, err := range a.Query(ctx, req) {
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func TestCLIAdapter_StreamsUntilResult(t *testing.T) {
	promptFile := filepath.Join(t.TempDir(), "prompt.json")
	bin := fakeCLI(t, `read prompt
printf '%s\n' "$prompt" > "`+promptFile+`"
echo 'Loading...'
echo '{"type":"system","subtype":"init","session_id":"resume-1","model":"sonnet"}'
echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hi"}}}'
echo '{"type":"result","subtype":"success","result":"Hi","num_turns":1}'
cat > /dev/null`)

	msgs, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{
		SessionID:  "s1",
		Prompt:     "hello",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	if msgs[0].SessionID != "resume-1" || msgs[2].Type != TypeResult {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	data, err := os.ReadFile(promptFile)
	if err != nil {
		t.Fatalf("prompt not recorded: %v", err)
	}
	var in StreamInputMessage
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("prompt is not JSON: %v", err)
	}
	if in.Type != "user" || in.Message.Role != "user" || len(in.Message.Content) != 1 || in.Message.Content[0].Text != "hello" {
		t.Errorf("unexpected prompt message: %+v", in)
	}
}

func TestCLIAdapter_PermissionRoundTrip(t *testing.T) {
	respFile := filepath.Join(t.TempDir(), "response.json")
	bin := fakeCLI(t, `read prompt
echo '{"type":"control_request","request_id":"req-7","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}'
read response
printf '%s\n' "$response" > "`+respFile+`"
echo '{"type":"result","subtype":"success","result":"done"}'
cat > /dev/null`)

	var gotTool string
	var gotInput map[string]any
	_, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{
		SessionID:  "s1",
		Prompt:     "list files",
		WorkingDir: t.TempDir(),
		OnPermissionRequest: func(ctx context.Context, toolName string, input map[string]any) (PermissionResult, error) {
			gotTool, gotInput = toolName, input
			return Allow(nil), nil
		},
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if gotTool != "Bash" || gotInput["command"] != "ls" {
		t.Errorf("callback got %q %v", gotTool, gotInput)
	}

	data, err := os.ReadFile(respFile)
	if err != nil {
		t.Fatalf("response not recorded: %v", err)
	}
	var resp struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string           `json:"subtype"`
			RequestID string           `json:"request_id"`
			Response  PermissionResult `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Type != "control_response" || resp.Response.Subtype != "success" || resp.Response.RequestID != "req-7" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if !resp.Response.Response.Allowed() {
		t.Errorf("behavior = %q, want allow", resp.Response.Response.Behavior)
	}
	// Allow without an updated input echoes the original.
	if resp.Response.Response.UpdatedInput["command"] != "ls" {
		t.Errorf("updatedInput = %v", resp.Response.Response.UpdatedInput)
	}
}

func TestCLIAdapter_UnsupportedControlRequest(t *testing.T) {
	respFile := filepath.Join(t.TempDir(), "response.json")
	bin := fakeCLI(t, `read prompt
echo '{"type":"control_request","request_id":"req-9","request":{"subtype":"hook_callback"}}'
read response
printf '%s\n' "$response" > "`+respFile+`"
echo '{"type":"result","subtype":"success"}'
cat > /dev/null`)

	if _, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{SessionID: "s1", WorkingDir: t.TempDir()}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	data, err := os.ReadFile(respFile)
	if err != nil {
		t.Fatalf("response not recorded: %v", err)
	}
	if !strings.Contains(string(data), `"subtype":"error"`) || !strings.Contains(string(data), "req-9") {
		t.Errorf("unexpected response: %s", data)
	}
}

func TestCLIAdapter_NoPermissionHandlerDenies(t *testing.T) {
	respFile := filepath.Join(t.TempDir(), "response.json")
	bin := fakeCLI(t, `read prompt
echo '{"type":"control_request","request_id":"r","request":{"subtype":"can_use_tool","tool_name":"Write","input":{}}}'
read response
printf '%s\n' "$response" > "`+respFile+`"
echo '{"type":"result","subtype":"success"}'
cat > /dev/null`)

	if _, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{SessionID: "s1", WorkingDir: t.TempDir()}); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	data, _ := os.ReadFile(respFile)
	if !strings.Contains(string(data), `"behavior":"deny"`) {
		t.Errorf("expected deny, got %s", data)
	}
}

func TestCLIAdapter_AbnormalExit(t *testing.T) {
	bin := fakeCLI(t, `read prompt
echo 'authentication failed' >&2
exit 3`)

	_, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{SessionID: "s1", WorkingDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrAdapterExited) {
		t.Errorf("error should wrap ErrAdapterExited: %v", err)
	}
	if !strings.Contains(err.Error(), "authentication failed") {
		t.Errorf("error should include stderr: %v", err)
	}
}

func TestCLIAdapter_ExitWithoutResult(t *testing.T) {
	bin := fakeCLI(t, `read prompt
echo '{"type":"system","subtype":"init","session_id":"x"}'`)

	msgs, err := collect(t, context.Background(), newTestAdapter(bin), QueryRequest{SessionID: "s1", WorkingDir: t.TempDir()})
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
	if !errors.Is(err, ErrAdapterExited) {
		t.Errorf("error = %v, want ErrAdapterExited", err)
	}
}

func TestCLIAdapter_CancelEndsSilently(t *testing.T) {
	bin := fakeCLI(t, `read prompt
echo '{"type":"system","subtype":"init","session_id":"x"}'
exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var msgs []Message
	var queryErr error
	go func() {
		defer close(done)
		for msg, err := range newTestAdapter(bin).Query(ctx, QueryRequest{SessionID: "s1", WorkingDir: t.TempDir()}) {
			if err != nil {
				queryErr = err
				return
			}
			msgs = append(msgs, msg)
			cancel()
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("query did not stop after cancel")
	}
	if queryErr != nil {
		t.Errorf("cancelled query should not report an error, got %v", queryErr)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestCLIAdapter_CancelUnblocksPermissionCallback(t *testing.T) {
	bin := fakeCLI(t, `read prompt
echo '{"type":"control_request","request_id":"r","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}'
exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{})
	released := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range newTestAdapter(bin).Query(ctx, QueryRequest{
			SessionID:  "s1",
			WorkingDir: t.TempDir(),
			OnPermissionRequest: func(ctx context.Context, toolName string, input map[string]any) (PermissionResult, error) {
				close(called)
				<-ctx.Done()
				close(released)
				return Deny("Stopped"), nil
			},
		}) {
		}
	}()

	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("permission callback was not invoked")
	}
	cancel()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("callback context was not cancelled")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("query did not stop")
	}
}

func TestCLIAdapter_MissingWorkingDir(t *testing.T) {
	_, err := collect(t, context.Background(), newTestAdapter("claude"), QueryRequest{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error for empty working directory")
	}
}

func TestCLIAdapter_MissingBinary(t *testing.T) {
	_, err := collect(t, context.Background(), newTestAdapter(filepath.Join(t.TempDir(), "nope")), QueryRequest{
		SessionID:  "s1",
		WorkingDir: t.TempDir(),
	})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestNewCLIAdapter_Defaults(t *testing.T) {
	a := NewCLIAdapter(CLIConfig{})
	if a.cfg.Binary != "claude" {
		t.Errorf("Binary = %q, want claude", a.cfg.Binary)
	}
	if a.cfg.StopTimeout != DefaultStopTimeout {
		t.Errorf("StopTimeout = %v, want %v", a.cfg.StopTimeout, DefaultStopTimeout)
	}

	a = NewCLIAdapter(CLIConfig{StopTimeout: time.Second})
	if a.cfg.StopTimeout != time.Second {
		t.Errorf("StopTimeout = %v, want explicit value kept", a.cfg.StopTimeout)
	}
}
