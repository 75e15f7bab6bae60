// Package cli checks the external tools the orchestrator shells out to.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// versionTimeout bounds each version probe.
const versionTimeout = 5 * time.Second

// maxVersionLen caps the reported version string.
const maxVersionLen = 100

// Prerequisite is an external command the orchestrator may run.
type Prerequisite struct {
	Name        string   // Command name or path (e.g. "claude")
	Required    bool     // Whether queries fail without it
	Description string   // Human-readable description
	InstallURL  string   // Where to get it
	VersionArgs []string // Arguments that print a version; nil tries common flags
}

// DefaultPrerequisites returns the tools needed to run queries with the
// agent CLI at agentBinary. An empty agentBinary means "claude".
func DefaultPrerequisites(agentBinary string) []Prerequisite {
	if agentBinary == "" {
		agentBinary = "claude"
	}
	return []Prerequisite{
		{
			Name:        agentBinary,
			Required:    true,
			Description: "Claude Code CLI (the coding agent)",
			InstallURL:  "https://claude.ai/code",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "git",
			Required:    false, // The agent uses it inside repositories
			Description: "Git version control (optional, used by the agent)",
			InstallURL:  "https://git-scm.com/downloads",
			VersionArgs: []string{"--version"},
		},
	}
}

// CheckResult is the outcome of checking one prerequisite.
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Resolved executable path
	Version      string // First line of the version output, if any
	Error        error
}

// Check looks the prerequisite up in PATH and probes its version.
func Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := exec.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH: %w", prereq.Name, err)
		return result
	}
	result.Found = true
	result.Path = path
	result.Version = probeVersion(ctx, path, prereq.VersionArgs)
	return result
}

// CheckAll checks every prerequisite in order.
func CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = Check(ctx, prereq)
	}
	return results
}

// MissingRequired returns an error naming every required prerequisite that
// was not found, or nil.
func MissingRequired(results []CheckResult) error {
	var missing []string
	for _, r := range results {
		if r.Found || !r.Prerequisite.Required {
			continue
		}
		missing = append(missing, fmt.Sprintf("  - %s (%s)\n    Install: %s",
			r.Prerequisite.Name, r.Prerequisite.Description, r.Prerequisite.InstallURL))
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.New("missing required tools:\n" + strings.Join(missing, "\n"))
}

// ValidateRequired checks prereqs and reports missing required ones.
func ValidateRequired(ctx context.Context, prereqs []Prerequisite) error {
	return MissingRequired(CheckAll(ctx, prereqs))
}

func probeVersion(ctx context.Context, path string, args []string) string {
	candidates := [][]string{args}
	if args == nil {
		candidates = [][]string{{"--version"}, {"-v"}, {"version"}}
	}

	for _, a := range candidates {
		probeCtx, cancel := context.WithTimeout(ctx, versionTimeout)
		output, err := exec.CommandContext(probeCtx, path, a...).Output()
		cancel()
		if err != nil {
			continue
		}
		line, _, _ := strings.Cut(string(output), "\n")
		version := strings.TrimSpace(line)
		if version == "" {
			continue
		}
		if len(version) > maxVersionLen {
			version = version[:maxVersionLen] + "..."
		}
		return version
	}
	return ""
}

// FormatCheckResults renders results for the doctor command.
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		switch {
		case r.Found && r.Version != "":
			fmt.Fprintf(&sb, " (%s)", r.Version)
		case !r.Found && r.Prerequisite.Required:
			sb.WriteString(" [REQUIRED]")
		case !r.Found:
			sb.WriteString(" [optional]")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
