package commands

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zhubert/plural-orchestrator/claude"
	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/manager"
)

// Responder answers pending permission requests and questions.
// *manager.Orchestrator satisfies it.
type Responder interface {
	RespondPermission(sessionID, requestID string, decision manager.Decision)
	RespondQuestion(sessionID, requestID string, answers map[string]string)
}

// terminal renders one session's events and answers its prompts from in.
type terminal struct {
	sessionID string
	out       io.Writer
	in        *bufio.Reader
	responder Responder

	streamed     bool // text deltas printed since the last textComplete
	resumeHandle string
	result       *event.Result
	errors       []string
}

var _ event.Handler = (*terminal)(nil)

func newTerminal(sessionID string, in io.Reader, out io.Writer, responder Responder) *terminal {
	return &terminal{
		sessionID: sessionID,
		out:       out,
		in:        bufio.NewReader(in),
		responder: responder,
	}
}

// consume handles events for the terminal's session until the channel
// closes.
func (t *terminal) consume(events <-chan event.Envelope) {
	for env := range events {
		if env.SessionID != t.sessionID {
			continue
		}
		event.Dispatch(t, env.Event)
	}
}

func (t *terminal) OnInit(e event.Init) {
	t.resumeHandle = e.ResumeHandle
	if e.Model != "" {
		fmt.Fprintf(t.out, "[model %s]\n", e.Model)
	}
}

func (t *terminal) OnStateUpdate(event.StateUpdate) {}

func (t *terminal) OnText(e event.Text) {
	t.streamed = true
	fmt.Fprint(t.out, e.Delta)
}

func (t *terminal) OnTextComplete(e event.TextComplete) {
	if !t.streamed {
		fmt.Fprint(t.out, e.Text)
	}
	fmt.Fprintln(t.out)
	t.streamed = false
}

func (t *terminal) OnToolInfo(e event.ToolInfo) {
	if e.Summary != "" {
		fmt.Fprintf(t.out, "→ %s(%s)\n", e.ToolName, e.Summary)
	} else {
		fmt.Fprintf(t.out, "→ %s\n", e.ToolName)
	}
}

func (t *terminal) OnToolComplete(e event.ToolComplete) {
	if !e.Success {
		msg := e.Error
		if msg == "" {
			msg = e.Result
		}
		fmt.Fprintf(t.out, "  ✗ %s: %s\n", e.ToolName, firstLine(msg))
	}
}

func (t *terminal) OnAskQuestion(e event.AskQuestion) {
	if e.RequestID == "" {
		return // informational copy of the tool use; the arbiter's request follows
	}

	questions, err := claude.ParseQuestions(e.Questions)
	if err != nil || len(questions) == 0 {
		fmt.Fprintf(t.out, "Agent asked an unreadable question: %v\n", err)
		t.responder.RespondQuestion(t.sessionID, e.RequestID, map[string]string{})
		return
	}

	answers := make(map[string]string, len(questions))
	for _, q := range questions {
		answers[q.Question] = t.askOne(q)
	}
	t.responder.RespondQuestion(t.sessionID, e.RequestID, answers)
}

func (t *terminal) askOne(q claude.Question) string {
	fmt.Fprintln(t.out)
	if q.Header != "" {
		fmt.Fprintf(t.out, "[%s] ", q.Header)
	}
	fmt.Fprintln(t.out, q.Question)
	for i, opt := range q.Options {
		if opt.Description != "" {
			fmt.Fprintf(t.out, "  %d. %s - %s\n", i+1, opt.Label, opt.Description)
		} else {
			fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt.Label)
		}
	}
	fmt.Fprint(t.out, "> ")

	line, _ := t.readLine()
	var labels []string
	for _, field := range strings.Split(line, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || n < 1 || n > len(q.Options) {
			return line
		}
		labels = append(labels, q.Options[n-1].Label)
		if !q.MultiSelect {
			break
		}
	}
	return strings.Join(labels, ", ")
}

func (t *terminal) OnPermissionRequest(e event.PermissionRequest) {
	summary := claude.ToolInputSummary(e.ToolName, e.Input)
	if summary != "" {
		fmt.Fprintf(t.out, "\nAllow %s(%s)? [y]es / [n]o / [a]lways: ", e.ToolName, summary)
	} else {
		fmt.Fprintf(t.out, "\nAllow %s? [y]es / [n]o / [a]lways: ", e.ToolName)
	}

	line, err := t.readLine()
	decision := manager.DecisionDeny
	switch strings.ToLower(line) {
	case "y", "yes":
		decision = manager.DecisionAllow
	case "a", "always":
		decision = manager.DecisionAllowAll
	}
	if err != nil && line == "" {
		fmt.Fprintln(t.out, "(no input, denying)")
	}
	t.responder.RespondPermission(t.sessionID, e.RequestID, decision)
}

func (t *terminal) OnResult(e event.Result) {
	t.result = &e
	status := "done"
	if e.IsError {
		status = e.Subtype
	}
	fmt.Fprintf(t.out, "\n[%s in %.1fs, %d turns, $%.4f, %d tokens]\n",
		status, float64(e.DurationMS)/1000, e.Turns, e.CostUSD, e.Usage.Total())
}

func (t *terminal) OnError(e event.Error) {
	t.errors = append(t.errors, e.Message)
	fmt.Fprintf(t.out, "error: %s\n", e.Message)
}

func (t *terminal) OnState(event.State) {}

func (t *terminal) OnAborted(event.Aborted) {
	fmt.Fprintln(t.out, "\n[stopped]")
}

// readLine reads one trimmed line. At EOF it returns what was read along
// with io.EOF.
func (t *terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	return strings.TrimSpace(line), err
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
