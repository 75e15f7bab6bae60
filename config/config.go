package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zhubert/plural-orchestrator/paths"
	"github.com/zhubert/plural-orchestrator/rules"
)

// Defaults applied when a field is left unset.
const (
	DefaultClaudeBinary    = "claude"
	DefaultToolResultLimit = 2000
	DefaultRestartGrace    = 500 * time.Millisecond
)

// Config holds the orchestrator configuration
type Config struct {
	ClaudeBinary    string            `json:"claude_binary,omitempty"`     // Path or name of the agent CLI (default "claude")
	Model           string            `json:"model,omitempty"`             // Model passed to the agent CLI, empty for its default
	ExtraArgs       []string          `json:"extra_args,omitempty"`        // Additional CLI arguments appended to every query
	DefaultMode     string            `json:"default_mode,omitempty"`      // Permission mode for sessions without an override
	SessionModes    map[string]string `json:"session_modes,omitempty"`     // Per-session permission mode overrides
	RulesFile       string            `json:"rules_file,omitempty"`        // YAML permission rules (default <config>/rules.yaml)
	ToolResultLimit int               `json:"tool_result_limit,omitempty"` // Max bytes of tool output carried in toolComplete events
	RestartGraceMS  int               `json:"restart_grace_ms,omitempty"`  // Max wait for a superseded query loop to exit
	StopTimeoutMS   int               `json:"stop_timeout_ms,omitempty"`   // Wait per escalation step when stopping the agent CLI
	HistoryEnabled  bool              `json:"history_enabled,omitempty"`   // Record events to the per-session history store
	Debug           bool              `json:"debug,omitempty"`             // Debug logging and raw stream logs
	LogFormat       string            `json:"log_format,omitempty"`        // "text" (default) or "json"
	MCPServers      []MCPServer       `json:"mcp_servers,omitempty"`       // Tool servers added to every working directory

	mu       sync.RWMutex
	filePath string
}

// Load reads the config from its default location, or returns a fresh one
// if the file doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from path. A missing file yields defaults that
// will be written to path on Save.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{filePath: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.ensureInitialized()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Must happen before Validate(), which only reads.
	cfg.ensureInitialized()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureInitialized ensures maps and slices are non-nil. Not thread-safe;
// only called from LoadFrom before the Config is shared.
func (c *Config) ensureInitialized() {
	if c.SessionModes == nil {
		c.SessionModes = make(map[string]string)
	}
	if c.ExtraArgs == nil {
		c.ExtraArgs = []string{}
	}
	if c.MCPServers == nil {
		c.MCPServers = []MCPServer{}
	}
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := rules.ParseMode(c.DefaultMode); err != nil {
		return fmt.Errorf("default_mode: %w", err)
	}
	for id, m := range c.SessionModes {
		if id == "" {
			return fmt.Errorf("session mode with empty session ID")
		}
		if _, err := rules.ParseMode(m); err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.ToolResultLimit < 0 {
		return fmt.Errorf("tool_result_limit must not be negative")
	}
	if c.RestartGraceMS < 0 {
		return fmt.Errorf("restart_grace_ms must not be negative")
	}
	if c.StopTimeoutMS < 0 {
		return fmt.Errorf("stop_timeout_ms must not be negative")
	}

	seen := make(map[string]bool)
	for _, s := range c.MCPServers {
		if err := s.validate(); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate tool server: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.filePath, data, 0644)
}

// FilePath returns where Save writes.
func (c *Config) FilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filePath
}

// SetFilePath sets the config file path (for testing).
func (c *Config) SetFilePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filePath = path
}

// GetClaudeBinary returns the agent CLI binary, defaulting to "claude"
func (c *Config) GetClaudeBinary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ClaudeBinary == "" {
		return DefaultClaudeBinary
	}
	return c.ClaudeBinary
}

// GetModel returns the configured model
func (c *Config) GetModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Model
}

// GetExtraArgs returns a copy of the extra CLI arguments
func (c *Config) GetExtraArgs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	args := make([]string, len(c.ExtraArgs))
	copy(args, c.ExtraArgs)
	return args
}

// GetRulesFile returns the rules file path, defaulting to <config>/rules.yaml
func (c *Config) GetRulesFile() (string, error) {
	c.mu.RLock()
	file := c.RulesFile
	c.mu.RUnlock()
	if file != "" {
		return file, nil
	}
	return paths.RulesFilePath()
}

// GetToolResultLimit returns the tool result cap, defaulting to 2000 bytes
func (c *Config) GetToolResultLimit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ToolResultLimit <= 0 {
		return DefaultToolResultLimit
	}
	return c.ToolResultLimit
}

// GetRestartGrace returns how long a restart waits for the previous loop,
// defaulting to 500ms
func (c *Config) GetRestartGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.RestartGraceMS <= 0 {
		return DefaultRestartGrace
	}
	return time.Duration(c.RestartGraceMS) * time.Millisecond
}

// GetStopTimeout returns the agent CLI stop timeout, or zero to use the
// adapter's default.
func (c *Config) GetStopTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.StopTimeoutMS) * time.Millisecond
}

// IsHistoryEnabled returns whether events are recorded to history
func (c *Config) IsHistoryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HistoryEnabled
}

// SetHistoryEnabled sets whether events are recorded to history
func (c *Config) SetHistoryEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HistoryEnabled = enabled
}

// IsDebug returns whether debug logging is enabled
func (c *Config) IsDebug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug
}

// GetLogFormat returns the log line format, defaulting to "text"
func (c *Config) GetLogFormat() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.LogFormat == "" {
		return "text"
	}
	return c.LogFormat
}

// ModeFor returns the permission mode for a session: its override if set,
// otherwise the default mode. Invalid stored values fall back to
// rules.ModeDefault.
func (c *Config) ModeFor(sessionID string) rules.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	raw, ok := c.SessionModes[sessionID]
	if !ok {
		raw = c.DefaultMode
	}
	m, err := rules.ParseMode(raw)
	if err != nil {
		return rules.ModeDefault
	}
	return m
}

// SetDefaultMode sets the permission mode used by sessions without an override
func (c *Config) SetDefaultMode(mode string) error {
	m, err := rules.ParseMode(mode)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DefaultMode = string(m)
	return nil
}

// SetSessionMode overrides the permission mode for one session
func (c *Config) SetSessionMode(sessionID, mode string) error {
	m, err := rules.ParseMode(mode)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SessionModes == nil {
		c.SessionModes = make(map[string]string)
	}
	c.SessionModes[sessionID] = string(m)
	return nil
}

// ClearSessionMode removes a session's override. Returns true if one existed.
func (c *Config) ClearSessionMode(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.SessionModes[sessionID]; !ok {
		return false
	}
	delete(c.SessionModes, sessionID)
	return true
}
