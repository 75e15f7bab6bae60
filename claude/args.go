package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/plural-orchestrator/paths"
)

// CLIConfig configures how the agent CLI is invoked.
type CLIConfig struct {
	Binary    string   // Defaults to "claude"
	Model     string   // Passed as --model when set
	ExtraArgs []string // Appended verbatim

	// StopTimeout bounds each escalation step of a stop. Defaults to
	// DefaultStopTimeout.
	StopTimeout time.Duration
}

// BuildCommandArgs builds the command line arguments for one query.
// A query without a resume handle starts a new agent session with a fresh
// UUID; otherwise the agent resumes the given session.
func BuildCommandArgs(cfg CLIConfig, req QueryRequest, mcpConfigPath string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
	}

	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	} else {
		args = append(args, "--session-id", uuid.NewString())
	}

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if mcpConfigPath != "" {
		args = append(args, "--mcp-config", mcpConfigPath)
	}

	return append(args, cfg.ExtraArgs...)
}

// writeMCPConfig writes the tool servers to a config file the CLI can load
// with --mcp-config and returns its path. Returns "" when there are no
// servers.
func writeMCPConfig(sessionID string, servers []MCPServer) (string, error) {
	if len(servers) == 0 {
		return "", nil
	}

	mcpServers := make(map[string]any, len(servers))
	for _, server := range servers {
		switch server.Type {
		case "http", "sse":
			mcpServers[server.Name] = map[string]any{
				"type": server.Type,
				"url":  server.URL,
			}
		default:
			entry := map[string]any{
				"command": server.Command,
				"args":    server.Args,
			}
			if len(server.Env) > 0 {
				entry["env"] = server.Env
			}
			mcpServers[server.Name] = entry
		}
	}

	configJSON, err := json.Marshal(map[string]any{"mcpServers": mcpServers})
	if err != nil {
		return "", err
	}

	dir, err := paths.ToolServersDir()
	if err != nil {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}

	// Unique per query: a restarted session may overlap its predecessor.
	configPath := filepath.Join(dir, fmt.Sprintf("mcp-%s-%s.json", paths.FileName(sessionID), uuid.NewString()[:8]))
	if err := os.WriteFile(configPath, configJSON, 0600); err != nil {
		return "", err
	}
	return configPath, nil
}
