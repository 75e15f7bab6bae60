package claude

import (
	"context"
	"errors"
	"iter"
)

// ErrAdapterExited is wrapped by errors reporting that the agent process
// ended abnormally.
var ErrAdapterExited = errors.New("agent process exited")

// Adapter runs queries against an agent.
//
// Query returns a lazy sequence of raw messages. The sequence ends when the
// agent finishes its turn, when ctx is cancelled, or after yielding a
// non-nil error. Cancelling ctx ends the sequence without an error.
type Adapter interface {
	Query(ctx context.Context, req QueryRequest) iter.Seq2[Message, error]
}

// QueryRequest describes one agent query.
type QueryRequest struct {
	SessionID   string // Orchestrator session id, used for logs only
	Prompt      string
	WorkingDir  string
	Resume      string // Resume handle from a previous init message
	ToolServers []MCPServer

	// OnPermissionRequest is consulted before every tool use. It may block
	// until a decision is made and may be called from any goroutine.
	OnPermissionRequest PermissionFunc
}

// PermissionFunc decides whether the agent may use a tool.
type PermissionFunc func(ctx context.Context, toolName string, input map[string]any) (PermissionResult, error)

// Permission behaviors.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionResult is the decision returned to the agent
type PermissionResult struct {
	Behavior     string         `json:"behavior"`               // "allow" or "deny"
	UpdatedInput map[string]any `json:"updatedInput,omitempty"` // Original or modified input
	Message      string         `json:"message,omitempty"`      // Reason for denial
}

// Allow returns an allow decision carrying input.
func Allow(input map[string]any) PermissionResult {
	return PermissionResult{Behavior: BehaviorAllow, UpdatedInput: input}
}

// Deny returns a deny decision with a reason.
func Deny(message string) PermissionResult {
	return PermissionResult{Behavior: BehaviorDeny, Message: message}
}

// Allowed reports whether the decision is allow.
func (r PermissionResult) Allowed() bool { return r.Behavior == BehaviorAllow }

// MCPServer represents an external tool (MCP) server configuration
type MCPServer struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Type    string // "stdio" (default), "http" or "sse"
	URL     string
}
