package claude

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
)

// Step is one scripted action of a ScriptedAdapter query. Exactly one field
// should be set.
type Step struct {
	Message    *Message        // Yield this message
	Err        error           // Yield this error and end the query
	Permission *PermissionStep // Call OnPermissionRequest and record the result
	Wait       <-chan struct{} // Block until closed or ctx is cancelled
}

// PermissionStep asks the query's permission callback about a tool use.
type PermissionStep struct {
	ToolName string
	Input    map[string]any
}

// ScriptedAdapter is a test double for Adapter that doesn't spawn
// processes. Each Query consumes the next queued script; a query with no
// script queued ends immediately.
type ScriptedAdapter struct {
	mu        sync.Mutex
	scripts   [][]Step
	requests  []QueryRequest
	decisions []PermissionResult

	// OnQuery is called at the start of every query, for test assertions.
	OnQuery func(req QueryRequest)
}

var _ Adapter = (*ScriptedAdapter)(nil)

// NewScriptedAdapter creates an adapter with the given scripts queued.
func NewScriptedAdapter(scripts ...[]Step) *ScriptedAdapter {
	return &ScriptedAdapter{scripts: scripts}
}

// QueueScript queues the steps for a later query.
func (s *ScriptedAdapter) QueueScript(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, steps)
}

// Requests returns the requests received so far.
func (s *ScriptedAdapter) Requests() []QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := make([]QueryRequest, len(s.requests))
	copy(reqs, s.requests)
	return reqs
}

// Decisions returns the permission results returned by callbacks so far.
func (s *ScriptedAdapter) Decisions() []PermissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PermissionResult, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// Query implements Adapter.
func (s *ScriptedAdapter) Query(ctx context.Context, req QueryRequest) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		s.mu.Lock()
		s.requests = append(s.requests, req)
		var script []Step
		if len(s.scripts) > 0 {
			script = s.scripts[0]
			s.scripts = s.scripts[1:]
		}
		onQuery := s.OnQuery
		s.mu.Unlock()

		if onQuery != nil {
			onQuery(req)
		}

		for _, step := range script {
			if ctx.Err() != nil {
				return
			}
			switch {
			case step.Message != nil:
				if !yield(*step.Message, nil) {
					return
				}
			case step.Err != nil:
				yield(Message{}, step.Err)
				return
			case step.Permission != nil:
				result := Deny("no permission handler configured")
				if req.OnPermissionRequest != nil {
					res, err := req.OnPermissionRequest(ctx, step.Permission.ToolName, step.Permission.Input)
					if err != nil {
						yield(Message{}, err)
						return
					}
					result = res
				}
				s.mu.Lock()
				s.decisions = append(s.decisions, result)
				s.mu.Unlock()
			case step.Wait != nil:
				select {
				case <-step.Wait:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// MessageStep yields msg.
func MessageStep(msg Message) Step { return Step{Message: &msg} }

// ErrorStep yields err.
func ErrorStep(err error) Step { return Step{Err: err} }

// PermissionRequestStep consults the permission callback.
func PermissionRequestStep(toolName string, input map[string]any) Step {
	return Step{Permission: &PermissionStep{ToolName: toolName, Input: input}}
}

// WaitStep blocks until ch is closed or the query is cancelled.
func WaitStep(ch <-chan struct{}) Step { return Step{Wait: ch} }

// BlockStep blocks until the query is cancelled.
func BlockStep() Step { return Step{Wait: make(chan struct{})} }

// Message builders for scripts.

// InitMessage is the system/init message that starts a query.
func InitMessage(resumeHandle, model string, tools ...string) Message {
	return Message{Type: TypeSystem, Subtype: "init", SessionID: resumeHandle, Model: model, Tools: tools}
}

// TextDeltaMessage is a partial text stream event.
func TextDeltaMessage(text string) Message {
	ev := &StreamEvent{Type: "content_block_delta"}
	ev.Delta = &struct {
		Type        string `json:"type,omitempty"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	}{Type: "text_delta", Text: text}
	return Message{Type: TypeStreamEvent, Event: ev}
}

// MessageStartMessage is the stream event that opens an API message,
// carrying its initial usage.
func MessageStartMessage(usage StreamUsage) Message {
	ev := &StreamEvent{Type: "message_start"}
	ev.Message = &struct {
		ID    string       `json:"id,omitempty"`
		Usage *StreamUsage `json:"usage,omitempty"`
	}{Usage: &usage}
	return Message{Type: TypeStreamEvent, Event: ev}
}

// MessageDeltaMessage is the stream event carrying updated usage.
func MessageDeltaMessage(usage StreamUsage) Message {
	return Message{Type: TypeStreamEvent, Event: &StreamEvent{Type: "message_delta", Usage: &usage}}
}

// AssistantTextMessage is a complete assistant message with one text block.
func AssistantTextMessage(text string) Message {
	return Message{
		Type:    TypeAssistant,
		Message: &MessageBody{Role: "assistant", Content: TextContent(text)},
	}
}

// ToolUseMessage is an assistant message with one tool_use block.
func ToolUseMessage(toolUseID, toolName string, input map[string]any) Message {
	raw, _ := json.Marshal(input)
	return Message{
		Type: TypeAssistant,
		Message: &MessageBody{Role: "assistant", Content: []ContentBlock{{
			Type:  ContentTypeToolUse,
			ID:    toolUseID,
			Name:  toolName,
			Input: raw,
		}}},
	}
}

// ToolResultMessage is a user message with one tool_result block.
func ToolResultMessage(toolUseID, content string, isError bool) Message {
	raw, _ := json.Marshal(content)
	return Message{
		Type: TypeUser,
		Message: &MessageBody{Role: "user", Content: []ContentBlock{{
			Type:      ContentTypeToolResult,
			ToolUseID: toolUseID,
			Content:   raw,
			IsError:   isError,
		}}},
	}
}

// ResultMessage is the successful end-of-turn message.
func ResultMessage(text string, usage StreamUsage) Message {
	return Message{
		Type:         TypeResult,
		Subtype:      "success",
		Result:       text,
		DurationMs:   1200,
		NumTurns:     1,
		TotalCostUSD: 0.01,
		Usage:        &usage,
	}
}
