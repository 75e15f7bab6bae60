package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/zhubert/plural-orchestrator/claude"
)

// ProjectToolServersFile is the per-working-directory tool server config,
// in the same shape the agent CLI reads.
const ProjectToolServersFile = ".mcp.json"

// MCPServer represents a tool (MCP) server configuration
type MCPServer struct {
	Name    string            `json:"name"`              // Unique identifier for the server
	Command string            `json:"command,omitempty"` // Executable command (e.g., "npx", "node")
	Args    []string          `json:"args,omitempty"`    // Command arguments
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"` // "stdio" (default), "http" or "sse"
	URL     string            `json:"url,omitempty"`  // http/sse only
}

func (s MCPServer) validate() error {
	if s.Name == "" {
		return fmt.Errorf("tool server with empty name")
	}
	switch s.Type {
	case "", "stdio":
		if s.Command == "" {
			return fmt.Errorf("tool server %s: command is required", s.Name)
		}
	case "http", "sse":
		if s.URL == "" {
			return fmt.Errorf("tool server %s: url is required", s.Name)
		}
	default:
		return fmt.Errorf("tool server %s: unknown type %q", s.Name, s.Type)
	}
	return nil
}

func (s MCPServer) toClaude() claude.MCPServer {
	return claude.MCPServer{
		Name:    s.Name,
		Command: s.Command,
		Args:    slices.Clone(s.Args),
		Env:     s.Env,
		Type:    s.Type,
		URL:     s.URL,
	}
}

// AddGlobalMCPServer adds a global tool server (returns false if name already exists)
func (c *Config) AddGlobalMCPServer(server MCPServer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.MCPServers {
		if s.Name == server.Name {
			return false
		}
	}
	c.MCPServers = append(c.MCPServers, server)
	return true
}

// RemoveGlobalMCPServer removes a global tool server by name
func (c *Config) RemoveGlobalMCPServer(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.MCPServers {
		if s.Name == name {
			c.MCPServers = append(c.MCPServers[:i], c.MCPServers[i+1:]...)
			return true
		}
	}
	return false
}

// GetGlobalMCPServers returns a copy of global tool servers
func (c *Config) GetGlobalMCPServers() []MCPServer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	servers := make([]MCPServer, len(c.MCPServers))
	copy(servers, c.MCPServers)
	return servers
}

// LoadProjectMCPServers reads <workingDir>/.mcp.json. A missing file yields
// no servers and no error.
func LoadProjectMCPServers(workingDir string) ([]MCPServer, error) {
	path := filepath.Join(workingDir, ProjectToolServersFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var file struct {
		MCPServers map[string]MCPServer `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	servers := make([]MCPServer, 0, len(file.MCPServers))
	for name, s := range file.MCPServers {
		s.Name = name
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// LoadToolServers returns the merged global and per-directory tool servers
// for a working directory, sorted by name. Per-directory servers with the
// same name override global ones. Returns nil when nothing is configured.
func (c *Config) LoadToolServers(workingDir string) ([]claude.MCPServer, error) {
	project, err := LoadProjectMCPServers(workingDir)
	if err != nil {
		return nil, err
	}

	serverMap := make(map[string]MCPServer)
	for _, s := range c.GetGlobalMCPServers() {
		serverMap[s.Name] = s
	}
	for _, s := range project {
		serverMap[s.Name] = s
	}
	if len(serverMap) == 0 {
		return nil, nil
	}

	result := make([]claude.MCPServer, 0, len(serverMap))
	for _, s := range serverMap {
		result = append(result, s.toClaude())
	}
	slices.SortFunc(result, func(a, b claude.MCPServer) int { return cmp.Compare(a.Name, b.Name) })
	return result, nil
}
