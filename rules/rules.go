// Package rules classifies a tool invocation as allow, deny or ask.
//
// The orchestrator only depends on the Evaluator interface; Engine is the
// default implementation, driven by ordered pattern lists that can be loaded
// from a YAML file:
//
//	deny:
//	  - Bash(rm:*)
//	allow:
//	  - Read
//	  - Bash(git status:*)
//	ask:
//	  - WebFetch
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// QuestionTool is the agent tool that asks the user for clarification. It is
// always routed to the user, whatever the rules say.
const QuestionTool = "AskUserQuestion"

// Mode is a session's permission mode.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "acceptEdits"
	ModeBypass      Mode = "bypassPermissions"
	ModePlan        Mode = "plan"
)

// ErrInvalidMode is returned by ParseMode for unknown mode names.
var ErrInvalidMode = errors.New("invalid permission mode")

// ParseMode validates a mode name. The empty string means ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeAcceptEdits, ModeBypass, ModePlan:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Action is the outcome of an evaluation.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Verdict is the result of evaluating one tool invocation.
type Verdict struct {
	Action       Action
	UpdatedInput map[string]any // allow only; nil keeps the original input
	Message      string         // deny only
}

// Allow, Deny and Ask build verdicts.
func Allow(updated map[string]any) Verdict { return Verdict{Action: ActionAllow, UpdatedInput: updated} }
func Deny(message string) Verdict          { return Verdict{Action: ActionDeny, Message: message} }
func Ask() Verdict                         { return Verdict{Action: ActionAsk} }

// Evaluator classifies a tool invocation. Implementations must be pure and
// safe for concurrent use.
type Evaluator interface {
	Evaluate(toolName string, input map[string]any, mode Mode) Verdict
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(toolName string, input map[string]any, mode Mode) Verdict

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(toolName string, input map[string]any, mode Mode) Verdict {
	return f(toolName, input, mode)
}

// Ruleset is the serialized form of an Engine.
type Ruleset struct {
	Allow []string `yaml:"allow" json:"allow"`
	Deny  []string `yaml:"deny" json:"deny"`
	Ask   []string `yaml:"ask" json:"ask"`
}

// DefaultRuleset allows read-only tools and safe shell commands and asks
// for everything else.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Allow: ComposeTools(ToolSetReadOnly, ToolSetSafeShell, ToolSetProductivity),
	}
}

// Engine is the default pattern-based Evaluator.
type Engine struct {
	allow []Pattern
	deny  []Pattern
	ask   []Pattern
}

var _ Evaluator = (*Engine)(nil)

// New compiles a ruleset.
func New(rs Ruleset) (*Engine, error) {
	allow, err := parseAll(rs.Allow)
	if err != nil {
		return nil, fmt.Errorf("allow: %w", err)
	}
	deny, err := parseAll(rs.Deny)
	if err != nil {
		return nil, fmt.Errorf("deny: %w", err)
	}
	ask, err := parseAll(rs.Ask)
	if err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return &Engine{allow: allow, deny: deny, ask: ask}, nil
}

// LoadFile reads a YAML ruleset. A missing file yields the default ruleset.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(DefaultRuleset())
	}
	if err != nil {
		return nil, err
	}

	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return New(rs)
}

// WriteFile saves rs as YAML at path, validating it first.
func WriteFile(path string, rs Ruleset) error {
	if _, err := New(rs); err != nil {
		return err
	}
	data, err := yaml.Marshal(rs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Evaluate applies, in order: the question tool, deny rules, bypass mode,
// plan mode, allow rules, acceptEdits mode, and finally ask.
func (e *Engine) Evaluate(toolName string, input map[string]any, mode Mode) Verdict {
	if toolName == QuestionTool {
		return Ask()
	}
	if p, ok := firstMatch(e.deny, toolName, input); ok {
		return Deny(fmt.Sprintf("%s denied by rule %s", toolName, p.Raw))
	}

	switch mode {
	case ModeBypass:
		return Allow(nil)
	case ModePlan:
		if slices.Contains(mutatingTools, toolName) {
			return Deny(fmt.Sprintf("%s is not available in plan mode", toolName))
		}
	}

	if _, ok := firstMatch(e.allow, toolName, input); ok {
		return Allow(nil)
	}
	if mode == ModeAcceptEdits && slices.Contains(ToolSetEdit, toolName) {
		return Allow(nil)
	}
	return Ask()
}

func firstMatch(patterns []Pattern, toolName string, input map[string]any) (Pattern, bool) {
	for _, p := range patterns {
		if p.Match(toolName, input) {
			return p, true
		}
	}
	return Pattern{}, false
}
