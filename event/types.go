package event

// Kind discriminates Event variants. It is the "type" field of the wire
// envelope.
type Kind string

const (
	KindInit              Kind = "init"
	KindStateUpdate       Kind = "stateUpdate"
	KindText              Kind = "text"
	KindTextComplete      Kind = "textComplete"
	KindToolInfo          Kind = "toolInfo"
	KindToolComplete      Kind = "toolComplete"
	KindAskQuestion       Kind = "askQuestion"
	KindPermissionRequest Kind = "permissionRequest"
	KindResult            Kind = "result"
	KindError             Kind = "error"
	KindState             Kind = "state"
	KindAborted           Kind = "aborted"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindInit, KindStateUpdate, KindText, KindTextComplete, KindToolInfo,
	KindToolComplete, KindAskQuestion, KindPermissionRequest, KindResult,
	KindError, KindState, KindAborted,
}

// Event is a normalized orchestrator event. The set of implementations is
// closed: only types in this package satisfy it.
type Event interface {
	Kind() Kind
	accept(Handler)
}

// Phase is the fine-grained activity of a running session.
type Phase string

const (
	PhaseThinking   Phase = "thinking"
	PhaseResponding Phase = "responding"
	PhaseTool       Phase = "tool"
)

// Status is the coarse session status carried by State events.
type Status string

const (
	StatusWorking Status = "working"
	StatusWaiting Status = "waiting"
	StatusIdle    Status = "idle"
)

// AbortReasonUser is the Aborted reason for an explicit stop.
const AbortReasonUser = "user"

// Usage is a token usage snapshot.
type Usage struct {
	InputTokens         int `json:"inputTokens"`
	OutputTokens        int `json:"outputTokens"`
	CacheReadTokens     int `json:"cacheReadTokens"`
	CacheCreationTokens int `json:"cacheCreationTokens"`
}

// Total returns the sum of all token counts.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// Init reports that the agent started and which resume handle it assigned.
type Init struct {
	ResumeHandle string   `json:"resumeHandle"`
	Model        string   `json:"model,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// StateUpdate reports a phase transition within a running session.
type StateUpdate struct {
	Phase    Phase  `json:"phase"`
	Text     string `json:"text,omitempty"`
	ToolName string `json:"toolName,omitempty"`
}

// Text is an incremental chunk of assistant text.
type Text struct {
	Delta string `json:"delta"`
}

// TextComplete is the merged text of one assistant message.
type TextComplete struct {
	Text string `json:"text"`
}

// ToolInfo reports that the agent invoked a tool.
type ToolInfo struct {
	ToolUseID string         `json:"toolUseId"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input,omitempty"`
	Summary   string         `json:"summary,omitempty"`
}

// ToolComplete reports a tool result.
type ToolComplete struct {
	ToolUseID string `json:"toolUseId,omitempty"`
	ToolName  string `json:"toolName"`
	Success   bool   `json:"success"`
	Result    string `json:"result"`
	Error     string `json:"error,omitempty"`
}

// AskQuestion reports that the agent wants to ask the user something.
// RequestID is set when the question awaits an answer through the arbiter.
type AskQuestion struct {
	RequestID string `json:"requestId,omitempty"`
	ToolUseID string `json:"toolUseId,omitempty"`
	Questions any    `json:"questions"`
}

// PermissionRequest reports a tool use awaiting an allow/deny decision.
type PermissionRequest struct {
	RequestID string         `json:"requestId"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input"`
}

// Result reports the end of an agent turn.
type Result struct {
	Subtype    string   `json:"subtype"`
	DurationMS int64    `json:"durationMs"`
	CostUSD    float64  `json:"cost"`
	Turns      int      `json:"turns"`
	Usage      Usage    `json:"usage"`
	IsError    bool     `json:"isError,omitempty"`
	Text       string   `json:"text,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// Error reports a configuration error or adapter failure.
type Error struct {
	Message string `json:"message"`
}

// State reports the coarse session status.
type State struct {
	Status Status `json:"status"`
}

// Aborted reports that a session was stopped.
type Aborted struct {
	Reason string `json:"reason"`
}

func (Init) Kind() Kind              { return KindInit }
func (StateUpdate) Kind() Kind       { return KindStateUpdate }
func (Text) Kind() Kind              { return KindText }
func (TextComplete) Kind() Kind      { return KindTextComplete }
func (ToolInfo) Kind() Kind          { return KindToolInfo }
func (ToolComplete) Kind() Kind      { return KindToolComplete }
func (AskQuestion) Kind() Kind       { return KindAskQuestion }
func (PermissionRequest) Kind() Kind { return KindPermissionRequest }
func (Result) Kind() Kind            { return KindResult }
func (Error) Kind() Kind             { return KindError }
func (State) Kind() Kind             { return KindState }
func (Aborted) Kind() Kind           { return KindAborted }
