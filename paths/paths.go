// Package paths provides centralized path resolution for the orchestrator's
// data directories.
//
// Files are organized the same way regardless of layout:
//
//   - Config: orchestrator.json, rules.yaml
//   - Data: history/*.jsonl, one message history per session
//   - State: logs/, tool-server configs handed to the agent CLI
//
// Resolution order:
//  1. If PLURAL_ORCHESTRATOR_HOME is set → flat layout rooted there
//  2. If ~/.plural-orchestrator/ exists → flat layout under it
//  3. If XDG env vars are set → XDG layout with proper separation
//  4. Otherwise → flat layout under ~/.plural-orchestrator/
package paths

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// HomeEnv overrides every directory with a single flat root.
const HomeEnv = "PLURAL_ORCHESTRATOR_HOME"

const appDir = "plural-orchestrator"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

func flatLayout(root string) *resolvedPaths {
	return &resolvedPaths{configDir: root, dataDir: root, stateDir: root, flat: true}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if root := os.Getenv(HomeEnv); root != "" {
		resolved = flatLayout(root)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	flatDir := filepath.Join(home, "."+appDir)
	if info, err := os.Stat(flatDir); err == nil && info.IsDir() {
		resolved = flatLayout(flatDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appDir),
			dataDir:   filepath.Join(xdgData, appDir),
			stateDir:  filepath.Join(xdgState, appDir),
		}
		return resolved, nil
	}

	resolved = flatLayout(flatDir)
	return resolved, nil
}

// ConfigDir returns the directory for configuration files.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data files.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// ConfigFilePath returns the full path to orchestrator.json.
func ConfigFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "orchestrator.json"), nil
}

// RulesFilePath returns the default location of the permission rules file.
func RulesFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rules.yaml"), nil
}

// HistoryDir returns the directory for per-session history files.
func HistoryDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ToolServersDir returns the directory where generated tool-server
// configs are written before being handed to the agent CLI.
func ToolServersDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tool-servers"), nil
}

// IsFlatLayout returns true if config, data and state share one directory.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}

// FileName maps an opaque session id to a string safe to use as a file
// name component. Characters outside [A-Za-z0-9._-] become '_'.
func FileName(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == '.' && id != "." && id != "..":
			return r
		default:
			return '_'
		}
	}, id)
}
