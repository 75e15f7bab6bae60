package event

// Handler has one method per event kind. Adding a kind adds a method, so
// every Handler implementation fails to compile until it handles it.
type Handler interface {
	OnInit(Init)
	OnStateUpdate(StateUpdate)
	OnText(Text)
	OnTextComplete(TextComplete)
	OnToolInfo(ToolInfo)
	OnToolComplete(ToolComplete)
	OnAskQuestion(AskQuestion)
	OnPermissionRequest(PermissionRequest)
	OnResult(Result)
	OnError(Error)
	OnState(State)
	OnAborted(Aborted)
}

// Dispatch calls the Handler method matching ev's kind.
func Dispatch(h Handler, ev Event) {
	if ev == nil {
		return
	}
	ev.accept(h)
}

func (e Init) accept(h Handler)              { h.OnInit(e) }
func (e StateUpdate) accept(h Handler)       { h.OnStateUpdate(e) }
func (e Text) accept(h Handler)              { h.OnText(e) }
func (e TextComplete) accept(h Handler)      { h.OnTextComplete(e) }
func (e ToolInfo) accept(h Handler)          { h.OnToolInfo(e) }
func (e ToolComplete) accept(h Handler)      { h.OnToolComplete(e) }
func (e AskQuestion) accept(h Handler)       { h.OnAskQuestion(e) }
func (e PermissionRequest) accept(h Handler) { h.OnPermissionRequest(e) }
func (e Result) accept(h Handler)            { h.OnResult(e) }
func (e Error) accept(h Handler)             { h.OnError(e) }
func (e State) accept(h Handler)             { h.OnState(e) }
func (e Aborted) accept(h Handler)           { h.OnAborted(e) }

// NopHandler ignores every event. Embed it to handle a subset of kinds.
type NopHandler struct{}

func (NopHandler) OnInit(Init)                           {}
func (NopHandler) OnStateUpdate(StateUpdate)             {}
func (NopHandler) OnText(Text)                           {}
func (NopHandler) OnTextComplete(TextComplete)           {}
func (NopHandler) OnToolInfo(ToolInfo)                   {}
func (NopHandler) OnToolComplete(ToolComplete)           {}
func (NopHandler) OnAskQuestion(AskQuestion)             {}
func (NopHandler) OnPermissionRequest(PermissionRequest) {}
func (NopHandler) OnResult(Result)                       {}
func (NopHandler) OnError(Error)                         {}
func (NopHandler) OnState(State)                         {}
func (NopHandler) OnAborted(Aborted)                     {}

var _ Handler = NopHandler{}
