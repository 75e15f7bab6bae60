package rules

// Tool sets are composable building blocks for rule lists. Hosts compose
// them explicitly via ComposeTools rather than relying on the evaluator to
// make policy decisions.

// ToolSetReadOnly contains tools that never modify the working tree.
var ToolSetReadOnly = []string{
	"Read",
	"Glob",
	"Grep",
	"LS",
	"TodoWrite",
}

// ToolSetEdit contains file-editing tools. acceptEdits mode allows them.
var ToolSetEdit = []string{
	"Edit",
	"MultiEdit",
	"Write",
	"NotebookEdit",
}

// ToolSetSafeShell contains read-only shell commands.
var ToolSetSafeShell = []string{
	"Bash(ls:*)",
	"Bash(cat:*)",
	"Bash(head:*)",
	"Bash(tail:*)",
	"Bash(wc:*)",
	"Bash(pwd:*)",
	"Bash(git status:*)",
	"Bash(git diff:*)",
	"Bash(git log:*)",
}

// ToolSetWeb contains web access tools.
var ToolSetWeb = []string{
	"WebFetch",
	"WebSearch",
}

// ToolSetProductivity contains planning and delegation tools.
var ToolSetProductivity = []string{
	"Task",
	"ExitPlanMode",
}

// mutatingTools are denied in plan mode.
var mutatingTools = ComposeTools(ToolSetEdit, []string{"Bash"})

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, set := range sets {
		for _, tool := range set {
			if _, exists := seen[tool]; !exists {
				seen[tool] = struct{}{}
				result = append(result, tool)
			}
		}
	}
	return result
}
