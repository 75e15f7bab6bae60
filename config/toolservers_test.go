package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProjectServers(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ProjectToolServersFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_GlobalMCPServers(t *testing.T) {
	cfg := &Config{}

	if !cfg.AddGlobalMCPServer(MCPServer{Name: "github", Command: "npx"}) {
		t.Error("AddGlobalMCPServer should return true for new server")
	}
	if cfg.AddGlobalMCPServer(MCPServer{Name: "github", Command: "other"}) {
		t.Error("AddGlobalMCPServer should return false for duplicate name")
	}

	servers := cfg.GetGlobalMCPServers()
	servers[0].Command = "mutated"
	if cfg.GetGlobalMCPServers()[0].Command != "npx" {
		t.Error("GetGlobalMCPServers should return a copy")
	}

	if !cfg.RemoveGlobalMCPServer("github") {
		t.Error("RemoveGlobalMCPServer should return true for existing server")
	}
	if cfg.RemoveGlobalMCPServer("github") {
		t.Error("RemoveGlobalMCPServer should return false for missing server")
	}
}

func TestLoadToolServers_None(t *testing.T) {
	cfg := &Config{}
	servers, err := cfg.LoadToolServers(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if servers != nil {
		t.Errorf("expected nil, got %v", servers)
	}
}

func TestLoadToolServers_MergesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeProjectServers(t, dir, `{
  "mcpServers": {
    "github": {"command": "gh-mcp", "args": ["--repo", "x"]},
    "docs": {"type": "http", "url": "http://localhost:9000/mcp"}
  }
}`)

	cfg := &Config{MCPServers: []MCPServer{
		{Name: "github", Command: "npx"},
		{Name: "fs", Command: "fs-mcp"},
	}}

	servers, err := cfg.LoadToolServers(dir)
	if err != nil {
		t.Fatalf("LoadToolServers: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(servers))
	}

	names := []string{servers[0].Name, servers[1].Name, servers[2].Name}
	if names[0] != "docs" || names[1] != "fs" || names[2] != "github" {
		t.Errorf("servers not sorted by name: %v", names)
	}
	if servers[2].Command != "gh-mcp" || len(servers[2].Args) != 2 {
		t.Errorf("project server should override global: %+v", servers[2])
	}
	if servers[0].Type != "http" || servers[0].URL == "" {
		t.Errorf("http server fields lost: %+v", servers[0])
	}
}

func TestLoadProjectMCPServers_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", `{"mcpServers": [`},
		{"missing command", `{"mcpServers": {"x": {"args": ["a"]}}}`},
		{"unknown type", `{"mcpServers": {"x": {"type": "grpc", "url": "u"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeProjectServers(t, dir, tt.content)
			if _, err := LoadProjectMCPServers(dir); err == nil {
				t.Error("expected error")
			}
		})
	}
}
