package commands

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/manager"
)

type permissionAnswer struct {
	sessionID, requestID string
	decision             manager.Decision
}

type questionAnswer struct {
	sessionID, requestID string
	answers              map[string]string
}

type fakeResponder struct {
	mu          sync.Mutex
	permissions []permissionAnswer
	questions   []questionAnswer
}

func (f *fakeResponder) RespondPermission(sessionID, requestID string, decision manager.Decision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions = append(f.permissions, permissionAnswer{sessionID, requestID, decision})
}

func (f *fakeResponder) RespondQuestion(sessionID, requestID string, answers map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, questionAnswer{sessionID, requestID, answers})
}

func newTestTerminal(input string) (*terminal, *bytes.Buffer, *fakeResponder) {
	var out bytes.Buffer
	resp := &fakeResponder{}
	return newTerminal("s1", strings.NewReader(input), &out, resp), &out, resp
}

func TestTerminal_RendersStream(t *testing.T) {
	term, out, _ := newTestTerminal("")

	for _, ev := range []event.Event{
		event.State{Status: event.StatusWorking},
		event.Init{ResumeHandle: "h1", Model: "sonnet"},
		event.Text{Delta: "Hel"},
		event.Text{Delta: "lo"},
		event.TextComplete{Text: "Hello"},
		event.ToolInfo{ToolName: "Read", Summary: "main.go"},
		event.ToolComplete{ToolName: "Read", Success: true, Result: "package main"},
		event.ToolComplete{ToolName: "Bash", Success: false, Error: "exit 1\nmore"},
		event.TextComplete{Text: "Not streamed"},
		event.Result{Subtype: "success", DurationMS: 2500, Turns: 3, CostUSD: 0.05, Usage: event.Usage{InputTokens: 10, OutputTokens: 5}},
		event.State{Status: event.StatusIdle},
	} {
		event.Dispatch(term, ev)
	}

	assert.Equal(t, "[model sonnet]\n"+
		"Hello\n"+
		"→ Read(main.go)\n"+
		"  ✗ Bash: exit 1\n"+
		"Not streamed\n"+
		"\n[done in 2.5s, 3 turns, $0.0500, 15 tokens]\n", out.String())
	assert.Equal(t, "h1", term.resumeHandle)
	require.NotNil(t, term.result)
	assert.Empty(t, term.errors)
}

func TestTerminal_ErrorsAndAbort(t *testing.T) {
	term, out, _ := newTestTerminal("")

	event.Dispatch(term, event.Error{Message: "adapter not configured"})
	event.Dispatch(term, event.Aborted{Reason: event.AbortReasonUser})

	assert.Equal(t, []string{"adapter not configured"}, term.errors)
	assert.Contains(t, out.String(), "error: adapter not configured")
	assert.Contains(t, out.String(), "[stopped]")
}

func TestTerminal_PermissionPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  manager.Decision
	}{
		{"y\n", manager.DecisionAllow},
		{"YES\n", manager.DecisionAllow},
		{"a\n", manager.DecisionAllowAll},
		{"n\n", manager.DecisionDeny},
		{"whatever\n", manager.DecisionDeny},
		{"", manager.DecisionDeny},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			term, out, resp := newTestTerminal(tt.input)

			event.Dispatch(term, event.PermissionRequest{
				RequestID: "req-1",
				ToolName:  "Bash",
				Input:     map[string]any{"command": "make test"},
			})

			assert.Contains(t, out.String(), "Allow Bash(make test)?")
			require.Len(t, resp.permissions, 1)
			assert.Equal(t, permissionAnswer{"s1", "req-1", tt.want}, resp.permissions[0])
		})
	}
}

func TestTerminal_Questions(t *testing.T) {
	questions := []any{
		map[string]any{
			"question": "Which database?",
			"header":   "DB",
			"options": []any{
				map[string]any{"label": "Postgres", "description": "relational"},
				map[string]any{"label": "SQLite"},
			},
		},
		map[string]any{
			"question":    "Which extras?",
			"multiSelect": true,
			"options": []any{
				map[string]any{"label": "Auth"},
				map[string]any{"label": "Metrics"},
			},
		},
		map[string]any{
			"question": "Project name?",
		},
	}
	term, out, resp := newTestTerminal("2\n1, 2\nacme\n")

	event.Dispatch(term, event.AskQuestion{ToolUseID: "toolu_1", Questions: questions})
	assert.Empty(t, resp.questions, "tool-use copies are not answered")

	event.Dispatch(term, event.AskQuestion{RequestID: "req-9", Questions: questions})

	require.Len(t, resp.questions, 1)
	assert.Equal(t, "req-9", resp.questions[0].requestID)
	assert.Equal(t, map[string]string{
		"Which database?": "SQLite",
		"Which extras?":   "Auth, Metrics",
		"Project name?":   "acme",
	}, resp.questions[0].answers)
	assert.Contains(t, out.String(), "[DB] Which database?")
	assert.Contains(t, out.String(), "1. Postgres - relational")
}

func TestTerminal_UnreadableQuestion(t *testing.T) {
	term, _, resp := newTestTerminal("")

	event.Dispatch(term, event.AskQuestion{RequestID: "req-1", Questions: "not a list"})

	require.Len(t, resp.questions, 1)
	assert.Empty(t, resp.questions[0].answers)
}

func TestTerminal_ConsumeFiltersSession(t *testing.T) {
	term, out, _ := newTestTerminal("")

	ch := make(chan event.Envelope, 3)
	ch <- event.Envelope{SessionID: "other", Event: event.TextComplete{Text: "not mine"}}
	ch <- event.Envelope{SessionID: "s1", Event: event.TextComplete{Text: "mine"}}
	close(ch)
	term.consume(ch)

	assert.Equal(t, "mine\n", out.String())
}
