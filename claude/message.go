package claude

import (
	"encoding/json"
	"strings"
)

// Raw message types emitted by the agent in stream-json mode.
const (
	TypeSystem         = "system"
	TypeAssistant      = "assistant"
	TypeUser           = "user"
	TypeStreamEvent    = "stream_event"
	TypeToolProgress   = "tool_progress"
	TypeResult         = "result"
	TypeControlRequest = "control_request"
)

// QuestionTool is the agent tool that asks the user for clarification.
// Its tool_use blocks and permission requests are routed as questions.
const QuestionTool = "AskUserQuestion"

// Message is one raw message from the agent's stream-json output. Only the
// fields relevant to Type are populated.
type Message struct {
	Type            string `json:"type"`               // "system", "assistant", "user", "stream_event", "tool_progress", "result"
	Subtype         string `json:"subtype,omitempty"`  // "init", "success", "error_during_execution", ...
	SessionID       string `json:"session_id,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"` // Non-empty when message is from a subagent

	// system/init
	Model string   `json:"model,omitempty"`
	Tools []string `json:"tools,omitempty"`

	// assistant, user
	Message *MessageBody `json:"message,omitempty"`

	// stream_event (with --include-partial-messages)
	Event *StreamEvent `json:"event,omitempty"`

	// tool_progress
	ToolName           string  `json:"tool_name,omitempty"`
	ToolUseID          string  `json:"tool_use_id,omitempty"`
	ElapsedTimeSeconds float64 `json:"elapsed_time_seconds,omitempty"`

	// result
	Result       string       `json:"result,omitempty"`
	IsError      bool         `json:"is_error,omitempty"`
	Errors       []string     `json:"errors,omitempty"`
	DurationMs   int64        `json:"duration_ms,omitempty"`
	NumTurns     int          `json:"num_turns,omitempty"`
	TotalCostUSD float64      `json:"total_cost_usd,omitempty"`
	Usage        *StreamUsage `json:"usage,omitempty"`

	// control_request
	RequestID string          `json:"request_id,omitempty"`
	Request   *ControlRequest `json:"request,omitempty"`
}

// MessageBody is the API message carried by assistant and user messages.
type MessageBody struct {
	ID      string         `json:"id,omitempty"`
	Model   string         `json:"model,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content"`
	Usage   *StreamUsage   `json:"usage,omitempty"`
}

// Content block types.
const (
	ContentTypeText       = "text"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
)

// ContentBlock is one block of message content. The same shape is used for
// prompts written to the agent.
type ContentBlock struct {
	Type      string          `json:"type"`         // "text", "tool_use", "tool_result"
	ID        string          `json:"id,omitempty"` // tool use ID (for tool_use)
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`        // tool name
	Input     json.RawMessage `json:"input,omitempty"`       // tool input
	ToolUseID string          `json:"tool_use_id,omitempty"` // tool use ID reference (for tool_result)
	ToolUseId string          `json:"toolUseId,omitempty"`   // camelCase variant from Claude CLI
	Content   json.RawMessage `json:"content,omitempty"`     // tool result content (string or array of blocks)
	IsError   bool            `json:"is_error,omitempty"`
}

// InputMap decodes a tool_use block's input. Malformed or missing input
// yields an empty map.
func (b ContentBlock) InputMap() map[string]any {
	m := map[string]any{}
	if len(b.Input) > 0 {
		_ = json.Unmarshal(b.Input, &m)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m
}

// ResultToolUseID returns the tool use a tool_result refers to, from either
// spelling of the field.
func (b ContentBlock) ResultToolUseID() string {
	if b.ToolUseID != "" {
		return b.ToolUseID
	}
	return b.ToolUseId
}

// IsToolResult reports whether the block is a tool result.
func (b ContentBlock) IsToolResult() bool {
	return b.Type == ContentTypeToolResult || b.ResultToolUseID() != ""
}

// ResultText flattens tool result content to text. Content may be a plain
// string or an array of {type:"text", text} blocks; other block types are
// skipped.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, inner := range blocks {
		if inner.Type == ContentTypeText && inner.Text != "" {
			parts = append(parts, inner.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// StreamEvent is the payload of stream_event messages.
type StreamEvent struct {
	Type    string `json:"type"` // "message_start", "content_block_start", "content_block_delta", "content_block_stop", "message_delta", "message_stop"
	Index   int    `json:"index,omitempty"`
	Message *struct {
		ID    string       `json:"id,omitempty"`
		Usage *StreamUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`
	ContentBlock *struct {
		Type string `json:"type,omitempty"` // "text", "tool_use"
		Text string `json:"text,omitempty"`
		ID   string `json:"id,omitempty"`   // tool use ID
		Name string `json:"name,omitempty"` // tool name
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type,omitempty"` // "text_delta", "input_json_delta"
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *StreamUsage `json:"usage,omitempty"` // Token usage in message_delta
}

// StreamUsage is token usage as reported by the API.
type StreamUsage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// ControlRequest is sent by the agent when it needs a decision from the
// host, e.g. with --permission-prompt-tool stdio.
type ControlRequest struct {
	Subtype   string         `json:"subtype"` // "can_use_tool"
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

// StreamInputMessage is the format sent to Claude CLI via stdin in
// stream-json mode.
type StreamInputMessage struct {
	Type    string `json:"type"` // "user"
	Message struct {
		Role    string         `json:"role"`    // "user"
		Content []ContentBlock `json:"content"` // content blocks
	} `json:"message"`
}

// TextContent creates a text-only content block slice for convenience
func TextContent(text string) []ContentBlock {
	return []ContentBlock{{Type: ContentTypeText, Text: text}}
}

// QuestionOption is a single option in a question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Question is one question in an AskUserQuestion input.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// ParseQuestions decodes the "questions" field of an AskUserQuestion input.
func ParseQuestions(questions any) ([]Question, error) {
	data, err := json.Marshal(questions)
	if err != nil {
		return nil, err
	}
	var qs []Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}
