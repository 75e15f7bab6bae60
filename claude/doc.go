// Package claude talks to the Claude Code CLI agent.
//
// # Overview
//
// An Adapter runs one query (one user prompt) and returns the agent's raw
// stream-json messages as an iterator:
//
//	adapter := claude.NewCLIAdapter(claude.CLIConfig{Model: "sonnet"})
//	for msg, err := range adapter.Query(ctx, claude.QueryRequest{
//	    SessionID:  "s1",
//	    Prompt:     "Hello, Claude!",
//	    WorkingDir: dir,
//	    OnPermissionRequest: decide,
//	}) {
//	    if err != nil {
//	        // The agent ended abnormally
//	    }
//	    // msg.Type is "system", "assistant", "user", "stream_event", "result", ...
//	}
//
// Cancelling ctx stops the agent process and ends the iteration without an
// error.
//
// # Sessions
//
// The first query of a conversation starts the agent with --session-id. The
// init message reports a resume handle; passing it back as
// QueryRequest.Resume continues the same agent conversation.
//
// # Permissions
//
// The CLI is launched with --permission-prompt-tool stdio. Before each tool
// use it writes a can_use_tool control request to stdout. The adapter calls
// OnPermissionRequest on its own goroutine and writes the decision back to
// stdin as a control response. The callback may block as long as it needs;
// it is cancelled when the query ends.
//
// # Testing
//
// ScriptedAdapter replays queued scripts of messages, errors and permission
// callbacks without spawning processes.
package claude
