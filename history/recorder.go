package history

import (
	"context"
	"log/slog"

	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/logger"
)

// Recorder turns orchestrator events into history entries. Record has the
// shape of the orchestrator's event sink; Consume drains a bus subscription.
type Recorder struct {
	store      *Store
	maxEntries int
	log        *slog.Logger
}

// NewRecorder creates a recorder writing to store. maxEntries bounds each
// session's history after every result; zero uses DefaultMaxEntries and a
// negative value disables trimming.
func NewRecorder(store *Store, maxEntries int) *Recorder {
	if maxEntries == 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Recorder{
		store:      store,
		maxEntries: maxEntries,
		log:        logger.WithComponent("history"),
	}
}

// RecordPrompt records a prompt the user sent to the session.
func (r *Recorder) RecordPrompt(sessionID, text string) {
	r.append(sessionID, Entry{Role: RoleUser, Content: text})
}

// Record records ev if it carries conversation content. Streaming and
// status events are ignored.
func (r *Recorder) Record(sessionID string, ev event.Event) {
	switch e := ev.(type) {
	case event.TextComplete:
		r.append(sessionID, Entry{Role: RoleAssistant, Content: e.Text})
	case event.ToolComplete:
		content := e.Result
		if content == "" {
			content = e.Error
		}
		r.append(sessionID, Entry{Role: RoleTool, ToolName: e.ToolName, Content: content, IsError: !e.Success})
	case event.Result:
		r.append(sessionID, Entry{
			Role:       RoleResult,
			Content:    e.Text,
			IsError:    e.IsError,
			CostUSD:    e.CostUSD,
			DurationMS: e.DurationMS,
		})
		if r.maxEntries > 0 {
			if n, err := r.store.Trim(sessionID, r.maxEntries); err != nil {
				r.log.Warn("failed to trim history", "sessionID", sessionID, "error", err)
			} else if n > 0 {
				r.log.Debug("trimmed history", "sessionID", sessionID, "removed", n)
			}
		}
	case event.Error:
		r.append(sessionID, Entry{Role: RoleError, Content: e.Message, IsError: true})
	}
}

// Consume records every envelope from events until the channel closes or
// ctx is done.
func (r *Recorder) Consume(ctx context.Context, events <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			r.Record(env.SessionID, env.Event)
		}
	}
}

func (r *Recorder) append(sessionID string, e Entry) {
	if err := r.store.Append(sessionID, e); err != nil {
		r.log.Error("failed to append history", "sessionID", sessionID, "role", e.Role, "error", err)
	}
}
