// Package manager runs agent sessions and arbitrates their requests.
//
// # Overview
//
// An Orchestrator owns one query loop per session id. SendMessage starts a
// query through a claude.Adapter, translates every raw agent message into
// normalized events (see package event) and delivers them to an EventSink.
// The loop always ends with the session removed from the Registry and a
// state{idle} event, whether the agent finished, failed or was stopped.
//
// # Generations
//
// Every query is registered under a fresh generation number. Restarting a
// session that is still running stops the old query, waits briefly for it
// to wind down, then registers the new one. Events from a superseded
// generation are dropped, and a superseded loop never removes its
// replacement from the registry.
//
// # Permissions and questions
//
// The Arbiter answers the agent's permission callbacks. Tools already
// allowed for the session and tools a rules.Evaluator settles are decided
// immediately. Everything else is parked and surfaced as a
// permissionRequest or askQuestion event until RespondPermission or
// RespondQuestion resolves it. Stopping a session denies everything it
// has pending. Answers are routed strictly by session: an answer for one
// session never resolves another session's request.
package manager
