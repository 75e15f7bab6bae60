package manager

import (
	"log/slog"
	"strings"
	"time"

	"github.com/zhubert/plural-orchestrator/claude"
	"github.com/zhubert/plural-orchestrator/config"
	"github.com/zhubert/plural-orchestrator/event"
)

// UnknownToolName names a tool result whose tool use was never seen.
const UnknownToolName = "Unknown"

// textSeparator joins the text blocks of one assistant message.
const textSeparator = "\n\n"

// Translator turns raw agent messages into normalized events, updating the
// owning session as a side effect. It holds no per-session state of its own.
type Translator struct {
	toolResultLimit int
	now             func() time.Time
	log             *slog.Logger
}

// NewTranslator creates a translator that caps tool results at
// toolResultLimit bytes. A limit <= 0 uses config.DefaultToolResultLimit.
func NewTranslator(toolResultLimit int, log *slog.Logger) *Translator {
	if toolResultLimit <= 0 {
		toolResultLimit = config.DefaultToolResultLimit
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Translator{toolResultLimit: toolResultLimit, now: time.Now, log: log}
}

// Translate processes one raw message. Unknown message types produce no
// events and leave the session untouched.
func (t *Translator) Translate(sess *Session, msg claude.Message) []event.Event {
	switch msg.Type {
	case claude.TypeSystem:
		return t.handleSystem(sess, msg)
	case claude.TypeAssistant:
		return t.handleAssistant(sess, msg)
	case claude.TypeUser:
		return t.handleUser(sess, msg)
	case claude.TypeStreamEvent:
		return t.handleStreamEvent(sess, msg)
	case claude.TypeToolProgress:
		return t.handleToolProgress(sess, msg)
	case claude.TypeResult:
		return t.handleResult(sess, msg)
	default:
		t.log.Debug("ignoring message", "type", msg.Type, "subtype", msg.Subtype)
		return nil
	}
}

func (t *Translator) handleSystem(sess *Session, msg claude.Message) []event.Event {
	if msg.Subtype != "init" {
		return nil
	}
	sess.withLock(func(s *Session) {
		s.resumeHandle = msg.SessionID
	})
	return []event.Event{event.Init{
		ResumeHandle: msg.SessionID,
		Model:        msg.Model,
		Tools:        msg.Tools,
	}}
}

// handleAssistant emits tool events in block order, followed by a single
// textComplete holding every non-empty text block of the message.
func (t *Translator) handleAssistant(sess *Session, msg claude.Message) []event.Event {
	if msg.Message == nil {
		return nil
	}

	var events []event.Event
	var texts []string

	sess.withLock(func(s *Session) {
		for _, block := range msg.Message.Content {
			switch block.Type {
			case claude.ContentTypeToolUse:
				s.pendingToolUses[block.ID] = block.Name
				input := block.InputMap()
				if block.Name == claude.QuestionTool {
					events = append(events, event.AskQuestion{
						ToolUseID: block.ID,
						Questions: input["questions"],
					})
					continue
				}
				events = append(events, event.ToolInfo{
					ToolUseID: block.ID,
					ToolName:  block.Name,
					Input:     input,
					Summary:   claude.ToolInputSummary(block.Name, input),
				})
			case claude.ContentTypeText:
				if block.Text != "" {
					texts = append(texts, block.Text)
				}
			}
		}
		if len(texts) > 0 {
			s.streamingText.Reset()
		}
	})

	if len(texts) > 0 {
		events = append(events, event.TextComplete{Text: strings.Join(texts, textSeparator)})
	}
	return events
}

func (t *Translator) handleUser(sess *Session, msg claude.Message) []event.Event {
	if msg.Message == nil {
		return nil
	}

	var events []event.Event
	sess.withLock(func(s *Session) {
		for _, block := range msg.Message.Content {
			if !block.IsToolResult() {
				continue
			}
			id := block.ResultToolUseID()
			name, ok := s.pendingToolUses[id]
			if !ok {
				name = UnknownToolName
				t.log.Debug("tool result without matching tool use", "toolUseID", id)
			}
			delete(s.pendingToolUses, id)

			result := claude.TruncateResult(block.ResultText(), t.toolResultLimit)
			complete := event.ToolComplete{
				ToolUseID: id,
				ToolName:  name,
				Success:   !block.IsError,
				Result:    result,
			}
			if block.IsError {
				complete.Error = result
			}
			events = append(events, complete)
		}
	})
	return events
}

func (t *Translator) handleStreamEvent(sess *Session, msg claude.Message) []event.Event {
	ev := msg.Event
	if ev == nil {
		return nil
	}

	var events []event.Event
	sess.withLock(func(s *Session) {
		switch ev.Type {
		case "message_start":
			s.startMessage()
			if ev.Message != nil && ev.Message.Usage != nil {
				u := ev.Message.Usage
				s.usage.InputTokens += u.InputTokens
				s.usage.CacheReadTokens += u.CacheReadInputTokens
				s.usage.CacheCreationTokens += u.CacheCreationInputTokens
				s.addOutputTokens(u.OutputTokens)
			}

		case "content_block_start":
			if ev.ContentBlock == nil {
				return
			}
			switch ev.ContentBlock.Type {
			case claude.ContentTypeText:
				s.phase = event.PhaseResponding
				s.streamingText.Reset()
				events = append(events, event.StateUpdate{Phase: s.phase})
			case claude.ContentTypeToolUse:
				s.phase = event.PhaseTool
				if ev.ContentBlock.ID != "" {
					s.pendingToolUses[ev.ContentBlock.ID] = ev.ContentBlock.Name
				}
				events = append(events, event.StateUpdate{Phase: s.phase, ToolName: ev.ContentBlock.Name})
			}

		case "content_block_delta":
			if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				return
			}
			s.streamingText.WriteString(ev.Delta.Text)
			events = append(events, event.Text{Delta: ev.Delta.Text})

		case "content_block_stop":
			s.phase = event.PhaseThinking
			events = append(events, event.StateUpdate{Phase: s.phase, Text: s.streamingText.String()})

		case "message_delta":
			if ev.Usage != nil {
				s.addOutputTokens(ev.Usage.OutputTokens)
			}
		}
	})
	return events
}

func (t *Translator) handleToolProgress(sess *Session, msg claude.Message) []event.Event {
	var ev event.StateUpdate
	sess.withLock(func(s *Session) {
		s.phase = event.PhaseTool
		ev = event.StateUpdate{Phase: s.phase, ToolName: msg.ToolName}
	})
	return []event.Event{ev}
}

// handleResult reconciles token usage with the agent's totals. The totals
// override the streamed estimate but never lower a running count.
func (t *Translator) handleResult(sess *Session, msg claude.Message) []event.Event {
	var usage event.Usage
	sess.withLock(func(s *Session) {
		if u := msg.Usage; u != nil {
			s.usage.InputTokens = max(s.usage.InputTokens, u.InputTokens)
			s.usage.OutputTokens = max(s.usage.OutputTokens, u.OutputTokens)
			s.usage.CacheReadTokens = max(s.usage.CacheReadTokens, u.CacheReadInputTokens)
			s.usage.CacheCreationTokens = max(s.usage.CacheCreationTokens, u.CacheCreationInputTokens)
		}
		usage = s.usage
	})

	return []event.Event{event.Result{
		Subtype:    msg.Subtype,
		DurationMS: t.now().Sub(sess.StartedAt).Milliseconds(),
		CostUSD:    msg.TotalCostUSD,
		Turns:      msg.NumTurns,
		Usage:      usage,
		IsError:    msg.IsError,
		Text:       msg.Result,
		Errors:     msg.Errors,
	}}
}
