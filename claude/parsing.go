package claude

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseLine parses one line of stream-json output. Blank lines and non-JSON
// lines (the CLI prints informational text with --verbose) return ok=false
// and no error.
func ParseLine(line string) (msg Message, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return Message{}, false, nil
	}
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return Message{}, false, fmt.Errorf("parse stream message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, false, fmt.Errorf("stream message without type: %s", truncateForLog(line))
	}
	return msg, true, nil
}

// toolInputConfig defines how to extract a description from a tool's input.
type toolInputConfig struct {
	Field       string // JSON field to extract
	ShortenPath bool   // Whether to shorten file paths to just filename
	MaxLen      int    // Maximum length before truncation (0 = no limit)
}

// toolInputConfigs maps tool names to their input extraction configuration.
var toolInputConfigs = map[string]toolInputConfig{
	// File operations - extract file_path and shorten to filename
	"Read":         {Field: "file_path", ShortenPath: true},
	"Edit":         {Field: "file_path", ShortenPath: true},
	"MultiEdit":    {Field: "file_path", ShortenPath: true},
	"Write":        {Field: "file_path", ShortenPath: true},
	"NotebookEdit": {Field: "notebook_path", ShortenPath: true},

	// Search operations - extract the pattern/query
	"Glob":      {Field: "pattern"},
	"Grep":      {Field: "pattern", MaxLen: 30},
	"WebSearch": {Field: "query"},

	// Command execution - show the command with truncation
	"Bash": {Field: "command", MaxLen: 40},

	// Task delegation - show the description
	"Task": {Field: "description"},

	// Web operations - show URL with truncation
	"WebFetch": {Field: "url", MaxLen: 40},
}

// DefaultToolInputMaxLen is the default max length for tool descriptions.
const DefaultToolInputMaxLen = 40

// ToolInputSummary extracts a brief, human-readable description from tool
// input, e.g. the file name for Read or the command for Bash.
func ToolInputSummary(toolName string, input map[string]any) string {
	if len(input) == 0 {
		return ""
	}

	if cfg, ok := toolInputConfigs[toolName]; ok {
		if value, exists := input[cfg.Field].(string); exists {
			return formatToolInput(value, cfg.ShortenPath, cfg.MaxLen)
		}
	}

	// Default: first string value among the well-known keys, then any.
	for _, key := range []string{"file_path", "path", "command", "url", "query", "pattern", "description"} {
		if s, ok := input[key].(string); ok && s != "" {
			return truncateString(s, DefaultToolInputMaxLen)
		}
	}
	return ""
}

// formatToolInput formats a tool input value according to the config.
func formatToolInput(value string, shorten bool, maxLen int) string {
	if shorten {
		value = shortenPath(value)
	}
	if maxLen > 0 {
		value = truncateString(value, maxLen)
	}
	return value
}

// truncateString truncates a string to at most maxLen bytes, including a
// "..." suffix, without splitting a UTF-8 sequence. A maxLen of 0 means no
// limit.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return cutRunes(s, maxLen)
	}
	return cutRunes(s, maxLen-3) + "..."
}

// TruncateResult caps tool output at limit bytes, appending "..." when cut.
func TruncateResult(s string, limit int) string {
	return truncateString(s, limit)
}

// cutRunes returns the longest prefix of s that is at most n bytes and ends
// on a rune boundary.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// shortenPath returns just the filename or last path component
func shortenPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return path
}

// truncateForLog truncates long strings for log messages
func truncateForLog(s string) string {
	if len(s) > 200 {
		return cutRunes(s, 200) + "..."
	}
	return s
}
