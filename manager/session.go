package manager

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/zhubert/plural-orchestrator/event"
)

// Session holds the state of one running query loop.
//
// Thread Safety:
// The translator mutates a session only from its own query loop, but
// introspection may read it from any goroutine, so all mutable fields are
// guarded by mu.
type Session struct {
	ID         string
	Generation uint64
	StartedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // Closed when the query loop has ended

	mu              sync.Mutex
	resumeHandle    string
	phase           event.Phase
	streamingText   strings.Builder
	pendingToolUses map[string]string // tool use ID -> tool name
	usage           event.Usage

	// Output tokens are cumulative within one API message and reset on the
	// next message_start, so completed messages are accumulated separately.
	accumulatedOutput int
	messageOutput     int
}

func newSession(parent context.Context, id string, generation uint64, now time.Time) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:              id,
		Generation:      generation,
		StartedAt:       now,
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
		phase:           event.PhaseThinking,
		pendingToolUses: make(map[string]string),
	}
}

// Context returns the session's context. It is cancelled by Cancel.
func (s *Session) Context() context.Context { return s.ctx }

// Cancel signals the adapter to stop producing messages. Safe to call
// multiple times.
func (s *Session) Cancel() { s.cancel() }

// Done is closed when the session's query loop has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markDone() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// owner identifies this session generation to the arbiter.
func (s *Session) owner() Owner {
	return Owner{SessionID: s.ID, Generation: s.Generation}
}

// ResumeHandle returns the agent session id reported by the init message.
func (s *Session) ResumeHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeHandle
}

// Phase returns the current fine-grained phase.
func (s *Session) Phase() event.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// StreamingText returns the in-progress assistant text.
func (s *Session) StreamingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingText.String()
}

// Usage returns the running token totals.
func (s *Session) Usage() event.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// PendingToolUses returns a copy of the tool uses still awaiting a result.
func (s *Session) PendingToolUses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.pendingToolUses)
}

// withLock executes fn while holding the session lock.
func (s *Session) withLock(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// addOutputTokens records the cumulative output count of the current API
// message. Caller must hold mu.
func (s *Session) addOutputTokens(cumulative int) {
	if cumulative > s.messageOutput {
		s.messageOutput = cumulative
	}
	s.usage.OutputTokens = max(s.usage.OutputTokens, s.accumulatedOutput+s.messageOutput)
}

// startMessage begins a new API message. Caller must hold mu.
func (s *Session) startMessage() {
	s.accumulatedOutput += s.messageOutput
	s.messageOutput = 0
}
