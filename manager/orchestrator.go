package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zhubert/plural-orchestrator/claude"
	"github.com/zhubert/plural-orchestrator/config"
	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/logger"
	"github.com/zhubert/plural-orchestrator/rules"
)

// ErrAdapterNotConfigured is reported when no agent adapter was set.
var ErrAdapterNotConfigured = errors.New("adapter not configured")

// EventSink receives every normalized event. *event.Bus's Publish method
// satisfies it.
type EventSink func(sessionID string, ev event.Event)

// ToolServerLoader returns the tool servers to enable for a working
// directory. *config.Config's LoadToolServers method satisfies it.
type ToolServerLoader func(workingDir string) ([]claude.MCPServer, error)

// Options configures an Orchestrator. Only Sink is required in practice;
// without an Adapter every SendMessage reports ErrAdapterNotConfigured.
type Options struct {
	Adapter         claude.Adapter
	Sink            EventSink
	Evaluator       rules.Evaluator
	Modes           ModeProvider
	ToolServers     ToolServerLoader
	IDs             IDSource
	ToolResultLimit int           // Defaults to config.DefaultToolResultLimit
	RestartGrace    time.Duration // Defaults to config.DefaultRestartGrace
}

// SendOptions are the per-message options of SendMessage.
type SendOptions struct {
	WorkingDir   string
	ResumeHandle string
}

// Orchestrator drives one query loop per session and arbitrates the
// agent's permission and question requests.
type Orchestrator struct {
	adapter      claude.Adapter
	sink         EventSink
	toolServers  ToolServerLoader
	restartGrace time.Duration

	registry   *Registry
	arbiter    *Arbiter
	translator *Translator
	log        *slog.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	log := logger.WithComponent("orchestrator")

	o := &Orchestrator{
		adapter:      opts.Adapter,
		sink:         opts.Sink,
		toolServers:  opts.ToolServers,
		restartGrace: opts.RestartGrace,
		registry:     NewRegistry(),
		translator:   NewTranslator(opts.ToolResultLimit, log),
		log:          log,
	}
	if o.sink == nil {
		o.sink = func(string, event.Event) {}
	}
	if o.restartGrace <= 0 {
		o.restartGrace = config.DefaultRestartGrace
	}
	o.arbiter = NewArbiter(ArbiterConfig{
		Evaluator: opts.Evaluator,
		Modes:     opts.Modes,
		IDs:       opts.IDs,
		Emit:      o.emitFor,
		Logger:    logger.WithComponent("arbiter"),
	})
	return o
}

// Registry returns the session registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Arbiter returns the permission/question arbiter.
func (o *Orchestrator) Arbiter() *Arbiter { return o.arbiter }

// emit delivers an event unconditionally.
func (o *Orchestrator) emit(sessionID string, ev event.Event) {
	o.sink(sessionID, ev)
}

// emitFor delivers an event only while owner is the registered generation,
// so a superseded loop cannot interleave with its replacement.
func (o *Orchestrator) emitFor(owner Owner, ev event.Event) {
	if !o.registry.IsCurrent(owner) {
		o.log.Debug("dropping event from stale session", "sessionID", owner.SessionID, "generation", owner.Generation, "kind", ev.Kind())
		return
	}
	o.sink(owner.SessionID, ev)
}

// SendMessage runs one query for sessionID and blocks until its loop ends.
// Every call that gets past validation ends with the session removed and a
// state{idle} event, unless a later Stop or SendMessage superseded it (they
// emit their own idle). Failures are reported as error events.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string, opts SendOptions) {
	log := logger.WithSession(sessionID)

	if opts.WorkingDir == "" {
		o.emit(sessionID, event.Error{Message: "working directory is required"})
		return
	}
	if o.adapter == nil {
		o.emit(sessionID, event.Error{Message: ErrAdapterNotConfigured.Error()})
		return
	}

	// Replacing is one registry operation: of two concurrent sends for the
	// same id, the later one always sees and stops the earlier.
	sess, prev := o.registry.Create(ctx, sessionID)
	owner := sess.owner()
	if prev != nil {
		log.Info("restarting active session", "generation", prev.Generation)
		o.arbiter.DenyOwner(prev.owner(), StoppedMessage)
		o.arbiter.ClearNotification(sessionID)
		o.emit(sessionID, event.Aborted{Reason: event.AbortReasonUser})
		o.emit(sessionID, event.State{Status: event.StatusIdle})
		select {
		case <-prev.Done():
		case <-time.After(o.restartGrace):
			log.Warn("previous query still running after grace period; its events will be discarded", "generation", prev.Generation)
		}
	}

	o.emitFor(owner, event.State{Status: event.StatusWorking})
	defer sess.markDone()
	log = logger.WithQuery(sessionID, sess.Generation)

	req := claude.QueryRequest{
		SessionID:           sessionID,
		Prompt:              text,
		WorkingDir:          opts.WorkingDir,
		Resume:              opts.ResumeHandle,
		OnPermissionRequest: o.arbiter.PermissionFunc(owner),
	}
	if o.toolServers != nil {
		servers, err := o.toolServers(opts.WorkingDir)
		if err != nil {
			log.Warn("failed to load tool servers", "error", err)
		} else {
			req.ToolServers = servers
		}
	}

	log.Info("query started", "workDir", opts.WorkingDir, "resume", opts.ResumeHandle)
	messages := 0
	for msg, err := range o.adapter.Query(sess.Context(), req) {
		if err != nil {
			if sess.Context().Err() == nil {
				log.Error("adapter failed", "error", err)
				o.emitFor(owner, event.Error{Message: err.Error()})
			}
			break
		}
		messages++
		for _, ev := range o.translator.Translate(sess, msg) {
			o.emitFor(owner, ev)
		}
	}

	sess.Cancel()
	o.arbiter.DenyOwner(owner, StoppedMessage)
	if o.registry.RemoveIf(sess) {
		o.arbiter.ClearNotification(sessionID)
		o.emit(sessionID, event.State{Status: event.StatusIdle})
	}
	log.Info("query finished", "messages", messages, "elapsed", time.Since(sess.StartedAt))
}

// Stop cancels the session's query, if any, and denies every request the
// session has pending. It always emits aborted{user} then state{idle}, and
// is safe to call for sessions that do not exist.
func (o *Orchestrator) Stop(sessionID string) {
	if sess, ok := o.registry.Remove(sessionID); ok {
		sess.Cancel()
		logger.WithSession(sessionID).Info("session stopped", "generation", sess.Generation)
	}
	o.arbiter.ClearNotification(sessionID)

	o.emit(sessionID, event.Aborted{Reason: event.AbortReasonUser})
	o.emit(sessionID, event.State{Status: event.StatusIdle})

	o.arbiter.DenySession(sessionID, StoppedMessage)
}

// NewSession stops sessionID and forgets its per-session allowances, so the
// next SendMessage starts a fresh conversation.
func (o *Orchestrator) NewSession(sessionID string) {
	o.Stop(sessionID)
	o.arbiter.ClearAllowlist(sessionID)
	o.emit(sessionID, event.State{Status: event.StatusIdle})
}

// RespondPermission answers a permission request. Unknown ids are ignored.
func (o *Orchestrator) RespondPermission(sessionID, requestID string, decision Decision) {
	o.arbiter.RespondPermission(sessionID, requestID, decision)
}

// RespondQuestion answers a question of sessionID. Unknown ids fall back to
// the session's oldest pending question.
func (o *Orchestrator) RespondQuestion(sessionID, requestID string, answers map[string]string) {
	o.arbiter.RespondQuestion(sessionID, requestID, answers)
}

// Cleanup stops every active session.
func (o *Orchestrator) Cleanup() {
	for _, id := range o.registry.ListActive() {
		o.Stop(id)
	}
}

// HasActiveSession reports whether sessionID has a running query.
func (o *Orchestrator) HasActiveSession(sessionID string) bool {
	_, ok := o.registry.Get(sessionID)
	return ok
}

// ActiveSessionIDs returns the ids of running sessions, sorted.
func (o *Orchestrator) ActiveSessionIDs() []string {
	return o.registry.ListActive()
}

// SessionStartTime returns when the session's current query started.
func (o *Orchestrator) SessionStartTime(sessionID string) (time.Time, bool) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return time.Time{}, false
	}
	return sess.StartedAt, true
}

// PendingEvent returns the request still awaiting a decision for sessionID,
// for replay to a reconnecting observer.
func (o *Orchestrator) PendingEvent(sessionID string) (event.Event, bool) {
	return o.arbiter.PendingEvent(sessionID)
}

// AllPendingEvents returns the pending request event of every session.
func (o *Orchestrator) AllPendingEvents() map[string]event.Event {
	return o.arbiter.AllPendingEvents()
}
