package manager

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/zhubert/plural-orchestrator/claude"
	"github.com/zhubert/plural-orchestrator/event"
	"github.com/zhubert/plural-orchestrator/rules"
)

// StoppedMessage is the denial message for requests cancelled by a stop.
const StoppedMessage = "Stopped"

// Decision is an external answer to a permission request.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionDeny     Decision = "deny"
	DecisionAllowAll Decision = "allowAll" // Allow, and stop asking for this tool in this session
)

// ParseDecision parses "allow", "deny" or "allowAll".
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionAllow, DecisionDeny, DecisionAllowAll:
		return d, nil
	default:
		return "", fmt.Errorf("invalid decision %q", s)
	}
}

// Owner tags a pending request with the session generation that issued it.
type Owner struct {
	SessionID  string
	Generation uint64
}

// ModeProvider returns the permission mode for a session.
type ModeProvider func(sessionID string) rules.Mode

// Emitter delivers an event on behalf of a session generation.
type Emitter func(owner Owner, ev event.Event)

// pendingRequest is a deferred decision the agent is blocked on. It is
// resolved exactly once.
type pendingRequest struct {
	id       string
	owner    Owner
	seq      uint64 // Creation order, for oldest-first fallback
	toolName string
	input    map[string]any
	result   chan claude.PermissionResult
	once     sync.Once
}

func (p *pendingRequest) resolve(r claude.PermissionResult) bool {
	resolved := false
	p.once.Do(func() {
		p.result <- r
		resolved = true
	})
	return resolved
}

// notification is a session's most recent unresolved request.
type notification struct {
	requestID string
	event     event.Event
}

// ArbiterConfig configures an Arbiter. Zero values get defaults.
type ArbiterConfig struct {
	Evaluator rules.Evaluator // Defaults to asking for everything
	Modes     ModeProvider    // Defaults to rules.ModeDefault
	IDs       IDSource        // Defaults to UUIDSource
	Emit      Emitter
	Logger    *slog.Logger
}

// Arbiter decides tool permissions and parks the requests that need an
// external answer. It exclusively owns the pending permission and question
// maps; every entry is tagged with its owning session, and every lookup and
// sweep is filtered by that tag.
type Arbiter struct {
	evaluator rules.Evaluator
	modes     ModeProvider
	ids       IDSource
	emit      Emitter
	log       *slog.Logger

	mu            sync.Mutex
	seq           uint64
	permissions   map[string]*pendingRequest
	questions     map[string]*pendingRequest
	notifications map[string]notification
	allowed       map[string]map[string]bool // session ID -> always-allowed tools
}

// NewArbiter creates an arbiter.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	a := &Arbiter{
		evaluator:     cfg.Evaluator,
		modes:         cfg.Modes,
		ids:           cfg.IDs,
		emit:          cfg.Emit,
		log:           cfg.Logger,
		permissions:   make(map[string]*pendingRequest),
		questions:     make(map[string]*pendingRequest),
		notifications: make(map[string]notification),
		allowed:       make(map[string]map[string]bool),
	}
	if a.evaluator == nil {
		a.evaluator = rules.EvaluatorFunc(func(string, map[string]any, rules.Mode) rules.Verdict {
			return rules.Ask()
		})
	}
	if a.modes == nil {
		a.modes = func(string) rules.Mode { return rules.ModeDefault }
	}
	if a.ids == nil {
		a.ids = UUIDSource
	}
	if a.emit == nil {
		a.emit = func(Owner, event.Event) {}
	}
	if a.log == nil {
		a.log = slog.New(slog.DiscardHandler)
	}
	return a
}

// PermissionFunc binds Decide to owner for use as an adapter callback.
func (a *Arbiter) PermissionFunc(owner Owner) claude.PermissionFunc {
	return func(ctx context.Context, toolName string, input map[string]any) (claude.PermissionResult, error) {
		return a.Decide(ctx, owner, toolName, input)
	}
}

// Decide returns the decision for one tool use. Requests the rules cannot
// settle are parked until RespondPermission, RespondQuestion, a stop, or
// cancellation of ctx, which denies with StoppedMessage.
func (a *Arbiter) Decide(ctx context.Context, owner Owner, toolName string, input map[string]any) (claude.PermissionResult, error) {
	if input == nil {
		input = map[string]any{}
	}
	if ctx.Err() != nil {
		return claude.Deny(StoppedMessage), nil
	}

	log := a.log.With("sessionID", owner.SessionID, "tool", toolName)

	isQuestion := toolName == claude.QuestionTool

	mode := a.modes(owner.SessionID)
	verdict := a.evaluator.Evaluate(toolName, input, mode)
	switch verdict.Action {
	case rules.ActionAllow:
		log.Debug("allowed by rules", "mode", mode)
		if verdict.UpdatedInput != nil {
			return claude.Allow(verdict.UpdatedInput), nil
		}
		return claude.Allow(input), nil
	case rules.ActionDeny:
		log.Debug("denied by rules", "mode", mode, "message", verdict.Message)
		return claude.Deny(verdict.Message), nil
	}

	// The allowlist only stands in for asking; rule denials still win.
	if !isQuestion && a.isAlwaysAllowed(owner.SessionID, toolName) {
		log.Debug("tool always allowed for session", "mode", mode)
		return claude.Allow(input), nil
	}

	req := a.park(owner, toolName, input, isQuestion)
	log.Info("awaiting decision", "requestID", req.id, "question", isQuestion)

	if isQuestion {
		a.emit(owner, event.AskQuestion{RequestID: req.id, Questions: input["questions"]})
	} else {
		a.emit(owner, event.State{Status: event.StatusWaiting})
		a.emit(owner, event.PermissionRequest{RequestID: req.id, ToolName: toolName, Input: input})
	}

	select {
	case res := <-req.result:
		return res, nil
	case <-ctx.Done():
		a.withdraw(req)
		req.resolve(claude.Deny(StoppedMessage))
		// Either the denial above or a resolution that won the race.
		return <-req.result, nil
	}
}

// park stores a new pending request and makes it the session's notification.
func (a *Arbiter) park(owner Owner, toolName string, input map[string]any, isQuestion bool) *pendingRequest {
	req := &pendingRequest{
		id:       a.ids.NewID(),
		owner:    owner,
		toolName: toolName,
		input:    input,
		result:   make(chan claude.PermissionResult, 1),
	}

	var ev event.Event
	if isQuestion {
		ev = event.AskQuestion{RequestID: req.id, Questions: input["questions"]}
	} else {
		ev = event.PermissionRequest{RequestID: req.id, ToolName: toolName, Input: input}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	req.seq = a.seq
	if isQuestion {
		a.questions[req.id] = req
	} else {
		a.permissions[req.id] = req
	}
	a.notifications[owner.SessionID] = notification{requestID: req.id, event: ev}
	return req
}

// withdraw removes req from whichever map holds it.
func (a *Arbiter) withdraw(req *pendingRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.permissions, req.id)
	delete(a.questions, req.id)
	a.clearNotificationLocked(req.owner.SessionID, req.id)
}

// clearNotificationLocked clears the session's notification if it refers to
// requestID. Caller must hold mu.
func (a *Arbiter) clearNotificationLocked(sessionID, requestID string) {
	if n, ok := a.notifications[sessionID]; ok && n.requestID == requestID {
		delete(a.notifications, sessionID)
	}
}

// RespondPermission resolves a pending permission request. The request is
// looked up by id alone and resolves on behalf of the session that created
// it; sessionID is only used for logging. Unknown ids are ignored. Reports
// whether a request was resolved.
func (a *Arbiter) RespondPermission(sessionID, requestID string, decision Decision) bool {
	a.mu.Lock()
	req, ok := a.permissions[requestID]
	if ok {
		delete(a.permissions, requestID)
		a.clearNotificationLocked(req.owner.SessionID, requestID)
		if decision == DecisionAllowAll {
			tools := a.allowed[req.owner.SessionID]
			if tools == nil {
				tools = make(map[string]bool)
				a.allowed[req.owner.SessionID] = tools
			}
			tools[req.toolName] = true
		}
	}
	a.mu.Unlock()

	if !ok {
		a.log.Debug("ignoring response for unknown permission request", "sessionID", sessionID, "requestID", requestID)
		return false
	}
	if req.owner.SessionID != sessionID {
		a.log.Warn("permission response names a different session", "sessionID", sessionID, "owner", req.owner.SessionID, "requestID", requestID)
	}

	result := claude.Deny("Denied by user")
	if decision == DecisionAllow || decision == DecisionAllowAll {
		result = claude.Allow(req.input)
	}
	if req.resolve(result) {
		a.emit(req.owner, event.State{Status: event.StatusWorking})
	}
	return true
}

// RespondQuestion resolves a pending question owned by sessionID: the
// request with requestID if the session owns it, otherwise the session's
// oldest pending question. Questions of other sessions are never touched.
// The answers are merged into a copy of the original input under
// "answers". Reports whether a request was resolved.
func (a *Arbiter) RespondQuestion(sessionID, requestID string, answers map[string]string) bool {
	a.mu.Lock()
	req, ok := a.questions[requestID]
	if !ok || req.owner.SessionID != sessionID {
		req = a.oldestQuestionLocked(sessionID)
		ok = req != nil
	}
	if ok {
		delete(a.questions, req.id)
		a.clearNotificationLocked(sessionID, req.id)
	}
	a.mu.Unlock()

	if !ok {
		a.log.Debug("no pending question for session", "sessionID", sessionID, "requestID", requestID)
		return false
	}

	updated := maps.Clone(req.input)
	answerMap := make(map[string]any, len(answers))
	for q, ans := range answers {
		answerMap[q] = ans
	}
	updated["answers"] = answerMap

	return req.resolve(claude.Allow(updated))
}

// oldestQuestionLocked returns the session's oldest pending question.
// Caller must hold mu.
func (a *Arbiter) oldestQuestionLocked(sessionID string) *pendingRequest {
	var oldest *pendingRequest
	for _, req := range a.questions {
		if req.owner.SessionID != sessionID {
			continue
		}
		if oldest == nil || req.seq < oldest.seq {
			oldest = req
		}
	}
	return oldest
}

// DenySession denies every pending request owned by sessionID, of any
// generation, and clears its notification. Returns the number denied.
func (a *Arbiter) DenySession(sessionID, message string) int {
	return a.denyWhere(func(o Owner) bool { return o.SessionID == sessionID }, sessionID, message)
}

// DenyOwner denies the pending requests of one session generation.
func (a *Arbiter) DenyOwner(owner Owner, message string) int {
	return a.denyWhere(func(o Owner) bool { return o == owner }, "", message)
}

func (a *Arbiter) denyWhere(match func(Owner) bool, clearSession, message string) int {
	var denied []*pendingRequest

	a.mu.Lock()
	for _, m := range []map[string]*pendingRequest{a.permissions, a.questions} {
		for id, req := range m {
			if match(req.owner) {
				delete(m, id)
				a.clearNotificationLocked(req.owner.SessionID, id)
				denied = append(denied, req)
			}
		}
	}
	if clearSession != "" {
		delete(a.notifications, clearSession)
	}
	a.mu.Unlock()

	// A request that already settled is skipped so the sweep always finishes.
	for _, req := range denied {
		req.resolve(claude.Deny(message))
	}
	return len(denied)
}

// ClearNotification drops the session's pending notification.
func (a *Arbiter) ClearNotification(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.notifications, sessionID)
}

// PendingEvent returns the session's most recent unresolved request event.
func (a *Arbiter) PendingEvent(sessionID string) (event.Event, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.notifications[sessionID]
	return n.event, ok
}

// AllPendingEvents returns every session's pending notification event.
func (a *Arbiter) AllPendingEvents() map[string]event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]event.Event, len(a.notifications))
	for id, n := range a.notifications {
		out[id] = n.event
	}
	return out
}

// pendingCount returns the number of pending permission and question
// requests owned by sessionID.
func (a *Arbiter) pendingCount(sessionID string) (permissions, questions int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, req := range a.permissions {
		if req.owner.SessionID == sessionID {
			permissions++
		}
	}
	for _, req := range a.questions {
		if req.owner.SessionID == sessionID {
			questions++
		}
	}
	return permissions, questions
}

// ClearAllowlist forgets the tools allowed with DecisionAllowAll for
// sessionID.
func (a *Arbiter) ClearAllowlist(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, sessionID)
}

func (a *Arbiter) isAlwaysAllowed(sessionID, toolName string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allowed[sessionID][toolName]
}
