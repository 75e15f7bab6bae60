package rules

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// subjectKeys maps a tool to the input field its pattern argument is matched
// against. Tools not listed match against the first non-empty of
// commonSubjectKeys.
var subjectKeys = map[string]string{
	"Bash":         "command",
	"Read":         "file_path",
	"Edit":         "file_path",
	"MultiEdit":    "file_path",
	"Write":        "file_path",
	"NotebookEdit": "notebook_path",
	"Glob":         "path",
	"Grep":         "path",
	"LS":           "path",
	"WebFetch":     "url",
	"WebSearch":    "query",
}

var commonSubjectKeys = []string{"file_path", "path", "command", "url"}

// Pattern is a parsed tool pattern.
//
//	Bash              any use of Bash
//	Bash(git diff:*)  Bash commands equal to or starting with "git diff "
//	Edit(src/**)      Edit on a file matching the doublestar glob
//	mcp__github__*    any tool whose name matches the glob
type Pattern struct {
	Raw    string
	Tool   string
	Arg    string
	prefix bool
}

// ParsePattern parses a single tool pattern.
func ParsePattern(raw string) (Pattern, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	p := Pattern{Raw: s, Tool: s}
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Pattern{}, fmt.Errorf("pattern %q: missing closing parenthesis", raw)
		}
		p.Tool = s[:open]
		p.Arg = s[open+1 : len(s)-1]
		if p.Arg == "" {
			return Pattern{}, fmt.Errorf("pattern %q: empty argument", raw)
		}
		if rest, ok := strings.CutSuffix(p.Arg, ":*"); ok {
			p.Arg = rest
			p.prefix = true
		}
	}
	if p.Tool == "" {
		return Pattern{}, fmt.Errorf("pattern %q: missing tool name", raw)
	}
	if !doublestar.ValidatePattern(p.Tool) {
		return Pattern{}, fmt.Errorf("pattern %q: invalid tool glob", raw)
	}
	if p.Arg != "" && !p.prefix && !doublestar.ValidatePattern(p.Arg) {
		return Pattern{}, fmt.Errorf("pattern %q: invalid argument glob", raw)
	}
	return p, nil
}

// Match reports whether the pattern applies to a tool invocation.
func (p Pattern) Match(toolName string, input map[string]any) bool {
	if p.Tool != toolName {
		if ok, _ := doublestar.Match(p.Tool, toolName); !ok {
			return false
		}
	}
	if p.Arg == "" {
		return true
	}

	subject := subjectOf(toolName, input)
	if subject == "" {
		return false
	}
	if p.prefix {
		subject = strings.TrimSpace(subject)
		return subject == p.Arg || strings.HasPrefix(subject, p.Arg+" ")
	}
	ok, _ := doublestar.Match(p.Arg, subject)
	return ok
}

func subjectOf(toolName string, input map[string]any) string {
	if key, ok := subjectKeys[toolName]; ok {
		s, _ := input[key].(string)
		return s
	}
	for _, key := range commonSubjectKeys {
		if s, ok := input[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func parseAll(raw []string) ([]Pattern, error) {
	out := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePattern(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
